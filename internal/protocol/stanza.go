package protocol

import (
	"strconv"
	"strings"
)

// ExtractBoundJID returns the text of the first <jid> element, or "" if the
// bind response carries none.
func ExtractBoundJID(text string) string {
	start := strings.Index(text, jidStart)
	if start < 0 {
		return ""
	}
	end := strings.Index(text[start:], jidEnd)
	if end < 0 {
		return ""
	}
	return text[start+len(jidStart) : start+end]
}

// ExtractSenderID returns the local part of the from attribute
// (from="abc@eu1.pvp.net/res" yields "abc").
func ExtractSenderID(stanza string) string {
	pos := strings.Index(stanza, fromAttr)
	if pos < 0 {
		return ""
	}
	after := stanza[pos+len(fromAttr):]
	at := strings.IndexByte(after, '@')
	if at < 0 {
		return ""
	}
	return after[:at]
}

// ExtractShow returns the peer's status token. An unavailable presence is
// always "offline", even when a <show> element is present.
func ExtractShow(stanza string) string {
	if strings.Contains(stanza, unavailableAttr) {
		return ShowOffline
	}
	if start := strings.Index(stanza, showStart); start >= 0 {
		after := stanza[start+len(showStart):]
		if end := strings.Index(after, showEnd); end >= 0 {
			return after[:end]
		}
	}
	return ShowOnline
}

// ExtractPresencePayload decodes the base64 JSON carried in <valorant><p>.
// ok is false when the container, the element, the base64 or the JSON is
// missing or malformed.
func ExtractPresencePayload(stanza string) (payload map[string]any, ok bool) {
	b64, found := payloadText(stanza)
	if !found {
		return nil, false
	}
	payload, err := DecodePayload(b64)
	if err != nil {
		return nil, false
	}
	return payload, true
}

func payloadText(stanza string) (string, bool) {
	valStart := strings.Index(stanza, valorantStart)
	if valStart < 0 {
		return "", false
	}
	section := stanza[valStart:]
	pStart := strings.Index(section, payloadStart)
	if pStart < 0 {
		return "", false
	}
	data := section[pStart+len(payloadStart):]
	pEnd := strings.Index(data, payloadEnd)
	if pEnd < 0 {
		return "", false
	}
	return data[:pEnd], true
}

// ExtractKeystoneTimestamp returns the <s.t> value inside <keystone>, or 0.
func ExtractKeystoneTimestamp(stanza string) uint64 {
	ksStart := strings.Index(stanza, keystoneStart)
	if ksStart < 0 {
		return 0
	}
	ks := stanza[ksStart:]
	tsStart := strings.Index(ks, timestampStart)
	if tsStart < 0 {
		return 0
	}
	rest := ks[tsStart+len(timestampStart):]
	tsEnd := strings.Index(rest, timestampEnd)
	if tsEnd < 0 {
		return 0
	}
	ts, err := strconv.ParseUint(rest[:tsEnd], 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// Stanzas splits buffer into complete <presence ...>...</presence> blocks.
// The cursor only moves forward. An unmatched trailing start tag ends the
// scan; the fragment is not returned.
func Stanzas(buffer string) []string {
	var out []string
	cursor := 0
	for {
		pos := strings.Index(buffer[cursor:], presenceStart)
		if pos < 0 {
			return out
		}
		abs := cursor + pos
		end := strings.Index(buffer[abs:], presenceEnd)
		if end < 0 {
			return out
		}
		end += len(presenceEnd)
		out = append(out, buffer[abs:abs+end])
		cursor = abs + end
	}
}

// SelfPresence is the local player's own presence as captured from the
// initial roster dump.
type SelfPresence struct {
	Payload    map[string]any
	KeystoneTS uint64
}

// ExtractSelfPresence finds the first presence stanza sent from selfID that
// carries both a keystone block and a decodable valorant payload. The scan
// stops at the first occurrence of the id not preceded by a presence start.
func ExtractSelfPresence(buffer, selfID string) (SelfPresence, bool) {
	if selfID == "" {
		return SelfPresence{}, false
	}
	marker := selfID + "@"
	from := 0
	for {
		pos := strings.Index(buffer[from:], marker)
		if pos < 0 {
			return SelfPresence{}, false
		}
		abs := from + pos

		start := strings.LastIndex(buffer[:abs], presenceSelfOpen)
		if start < 0 {
			return SelfPresence{}, false
		}
		end := strings.Index(buffer[start:], presenceEnd)
		if end < 0 {
			return SelfPresence{}, false
		}
		stanza := buffer[start : start+end+len(presenceEnd)]

		// the id also appears in to="" of stanzas addressed to us
		if ExtractSenderID(stanza) == selfID &&
			strings.Contains(stanza, valorantStart) && strings.Contains(stanza, keystoneStart) {
			if payload, ok := ExtractPresencePayload(stanza); ok {
				return SelfPresence{
					Payload:    payload,
					KeystoneTS: ExtractKeystoneTimestamp(stanza),
				}, true
			}
		}
		from = abs + 1
	}
}
