// Package protocol implements the stanza builders and scanners for the
// Riot chat service. The server speaks an XMPP dialect over TLS; stanzas are
// located by plain substring search rather than a general XML parser, so the
// tag names and marker strings below must match the wire byte-for-byte.
package protocol

// Stream and SASL markers.
const (
	StreamNamespace   = "http://etherx.jabber.org/streams"
	DomainSuffix      = ".pvp.net"
	FeaturesEndMarker = "</stream:features>"
	IQEndMarker       = "</iq>"
	StreamClose       = "</stream:stream>"
	EmptyPresence     = "<presence/>"
	AuthMechanism     = "X-Riot-RSO-PAS"
)

// Auth failure markers. Either one in the post-auth response aborts the handshake.
const (
	FailureMarker       = "<failure"
	NotAuthorizedMarker = "not-authorized"
)

// IQ stanza ids sent during the handshake.
const (
	IQBindID         = "_xmpp_bind1"
	IQSessionID      = "_xmpp_session1"
	IQEntitlementsID = "xmpp_entitlements_0"
)

// Presence stanza tags.
const (
	presenceStart    = "<presence"
	presenceSelfOpen = "<presence "
	presenceEnd      = "</presence>"
	fromAttr         = `from="`
	unavailableAttr  = `type="unavailable"`
	showStart        = "<show>"
	showEnd          = "</show>"
	jidStart         = "<jid>"
	jidEnd           = "</jid>"
	valorantStart    = "<valorant>"
	keystoneStart    = "<keystone>"
	payloadStart     = "<p>"
	payloadEnd       = "</p>"
	timestampStart   = "<s.t>"
	timestampEnd     = "</s.t>"
)

// Show values assigned by the scanner when a stanza carries no explicit <show>.
const (
	ShowOnline  = "online"
	ShowOffline = "offline"
	ShowChat    = "chat"
)

// ResourcePrefix prefixes the locally generated bind resource.
const ResourcePrefix = "RC-"

// resourceModulus bounds the millisecond clock used in the bind resource.
const resourceModulus = 10_000_000_000
