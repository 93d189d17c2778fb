package connector

import (
	"fmt"
	"sort"

	"github.com/rift-companion/companion/internal/protocol"
)

// FriendPresence is the last known presence of one peer.
type FriendPresence struct {
	PUUID       string         `json:"puuid"`
	GameName    string         `json:"game_name"`
	GameTag     string         `json:"game_tag"`
	Show        string         `json:"show"`
	Payload     map[string]any `json:"valorant_data,omitempty"`
	LastUpdated int64          `json:"last_updated"`
}

// CacheUpdate reports what a single Update call did.
type CacheUpdate struct {
	// Debug holds one line per stanza plus a summary when any were parsed.
	Debug []string
	// Changed lists the peer ids touched, in stream order.
	Changed []string
}

// PresenceCache maps peer ids to their latest presence. Entries are never
// removed except by Reset. Not safe for concurrent use.
type PresenceCache struct {
	friends map[string]*FriendPresence
}

func NewPresenceCache() *PresenceCache {
	return &PresenceCache{friends: make(map[string]*FriendPresence)}
}

// Update applies every presence stanza in buffer. Stanzas from selfID or
// without a sender are skipped. A stanza without a payload keeps the
// previously stored one.
func (c *PresenceCache) Update(buffer, selfID string, nowMs int64) CacheUpdate {
	var res CacheUpdate

	for _, stanza := range protocol.Stanzas(buffer) {
		id := protocol.ExtractSenderID(stanza)
		if id == "" || id == selfID {
			continue
		}

		show := protocol.ExtractShow(stanza)
		payload, hasPayload := protocol.ExtractPresencePayload(stanza)

		f, ok := c.friends[id]
		if !ok {
			f = &FriendPresence{PUUID: id}
			c.friends[id] = f
		}
		f.Show = show
		if hasPayload {
			f.Payload = payload
		}
		f.LastUpdated = nowMs

		res.Changed = append(res.Changed, id)
		res.Debug = append(res.Debug, fmt.Sprintf("%s.. show=%s val_data=%t", shortID(id), show, hasPayload))
	}

	if len(res.Changed) > 0 {
		res.Debug = append(res.Debug, fmt.Sprintf("Parsed %d friend stanzas, total tracked: %d", len(res.Changed), len(c.friends)))
	}
	return res
}

// Get returns a copy of one peer's presence.
func (c *PresenceCache) Get(id string) (FriendPresence, bool) {
	f, ok := c.friends[id]
	if !ok {
		return FriendPresence{}, false
	}
	return f.clone(), true
}

// Snapshot returns copies of all entries ordered by peer id.
func (c *PresenceCache) Snapshot() []FriendPresence {
	out := make([]FriendPresence, 0, len(c.friends))
	for _, f := range c.friends {
		out = append(out, f.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PUUID < out[j].PUUID })
	return out
}

// Unresolved returns the ids of peers with no display name yet.
func (c *PresenceCache) Unresolved() []string {
	var ids []string
	for id, f := range c.friends {
		if f.GameName == "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetName records a resolved display name. Unknown ids are ignored.
func (c *PresenceCache) SetName(id, name, tag string) {
	if f, ok := c.friends[id]; ok {
		f.GameName = name
		f.GameTag = tag
	}
}

func (c *PresenceCache) Len() int { return len(c.friends) }

func (c *PresenceCache) Reset() {
	c.friends = make(map[string]*FriendPresence)
}

func (f *FriendPresence) clone() FriendPresence {
	out := *f
	if f.Payload != nil {
		out.Payload = protocol.ClonePayload(f.Payload)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
