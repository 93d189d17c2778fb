package protocol

import (
	"fmt"
	"strings"
)

// StanzaBuilder concatenates stanza fragments. It is used for the crafted
// presence, which is assembled from the keystone and valorant game blocks.
type StanzaBuilder struct {
	buf strings.Builder
}

// NewStanzaBuilder creates a new StanzaBuilder.
func NewStanzaBuilder() *StanzaBuilder {
	return &StanzaBuilder{}
}

// Open writes a start tag.
func (b *StanzaBuilder) Open(tag string) *StanzaBuilder {
	b.buf.WriteString("<" + tag + ">")
	return b
}

// Close writes an end tag.
func (b *StanzaBuilder) Close(tag string) *StanzaBuilder {
	b.buf.WriteString("</" + tag + ">")
	return b
}

// Empty writes a self-closing tag.
func (b *StanzaBuilder) Empty(tag string) *StanzaBuilder {
	b.buf.WriteString("<" + tag + "/>")
	return b
}

// Element writes <tag>text</tag>. The text is written verbatim.
func (b *StanzaBuilder) Element(tag, text string) *StanzaBuilder {
	return b.Open(tag).Raw(text).Close(tag)
}

// Raw writes text verbatim.
func (b *StanzaBuilder) Raw(text string) *StanzaBuilder {
	b.buf.WriteString(text)
	return b
}

// String returns the assembled stanza.
func (b *StanzaBuilder) String() string {
	return b.buf.String()
}

// BuildStreamOpen returns the stream preamble addressed to {domain}.pvp.net.
// The preamble is re-sent after authentication to restart the stream.
func BuildStreamOpen(domain string) string {
	return fmt.Sprintf(`<?xml version="1.0"?><stream:stream to="%s%s" version="1.0" xmlns:stream="%s">`,
		domain, DomainSuffix, StreamNamespace)
}

// BuildAuth returns the SASL auth stanza carrying the access and routing tokens.
func BuildAuth(accessToken, routingToken string) string {
	return fmt.Sprintf(`<auth mechanism="%s" xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><rso_token>%s</rso_token><pas_token>%s</pas_token></auth>`,
		AuthMechanism, accessToken, routingToken)
}

// RedactedAuth is logged in place of the auth stanza.
func RedactedAuth() string {
	return fmt.Sprintf(`<auth mechanism="%s">[tokens redacted]</auth>`, AuthMechanism)
}

// BuildBind returns the resource-bind iq.
func BuildBind(resource string) string {
	return fmt.Sprintf(`<iq id="%s" type="set"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>%s</resource></bind></iq>`,
		IQBindID, resource)
}

// BindResource derives the bind resource from a millisecond clock.
func BindResource(nowMs int64) string {
	return fmt.Sprintf("%s%d", ResourcePrefix, nowMs%resourceModulus)
}

// BuildSession returns the session-establish iq.
func BuildSession() string {
	return fmt.Sprintf(`<iq id="%s" type="set"><session xmlns="urn:ietf:params:xml:ns:xmpp-session"/></iq>`, IQSessionID)
}

// BuildEntitlements returns the iq carrying the entitlements token.
func BuildEntitlements(entitlementsToken string) string {
	return fmt.Sprintf(`<iq id="%s" type="set"><entitlements xmlns="urn:riotgames:entitlements"><token xmlns="">%s</token></entitlements></iq>`,
		IQEntitlementsID, entitlementsToken)
}

// RedactedEntitlements is logged in place of the entitlements iq.
func RedactedEntitlements() string {
	return fmt.Sprintf(`<iq id="%s"> [entitlements token]</iq>`, IQEntitlementsID)
}

// CraftedPresence describes a forged presence announcement.
type CraftedPresence struct {
	Show       string
	KeystoneTS uint64
	Timestamp  uint64
	PayloadB64 string
}

// BuildPresence renders a crafted presence stanza.
//
// Wire format:
//
//	<presence><games>
//	  <keystone><st>chat</st><s.t>{ks}</s.t><m/><s.p>keystone</s.p><pty/></keystone>
//	  <valorant><s.r>PC</s.r><st>{show}</st><p>{b64}</p><s.p>valorant</s.p><s.t>{ts}</s.t><pty/></valorant>
//	</games><show>{show}</show><status/></presence>
func BuildPresence(p CraftedPresence) string {
	b := NewStanzaBuilder()
	b.Open("presence").Open("games")

	b.Open("keystone").
		Element("st", ShowChat).
		Element("s.t", fmt.Sprint(p.KeystoneTS)).
		Empty("m").
		Element("s.p", "keystone").
		Empty("pty").
		Close("keystone")

	b.Open("valorant").
		Element("s.r", "PC").
		Element("st", p.Show).
		Element("p", p.PayloadB64).
		Element("s.p", "valorant").
		Element("s.t", fmt.Sprint(p.Timestamp)).
		Empty("pty").
		Close("valorant")

	b.Close("games").
		Element("show", p.Show).
		Empty("status").
		Close("presence")

	return b.String()
}
