package connector

import (
	"context"
	"fmt"

	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/protocol"
	"github.com/rift-companion/companion/internal/telemetry"
)

// SendFakePresence re-announces the captured self presence with the given
// overrides applied. The captured template itself is never modified.
func (c *PresenceClient) SendFakePresence(ctx context.Context, o protocol.PresenceOverrides) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMu.RLock()
	stream, template, keystone := c.stream, c.template, c.keystoneTS
	c.stateMu.RUnlock()

	if stream == nil {
		return ErrNotConnected
	}
	if template == nil {
		c.record(DirError, "No real presence data captured - connect while in game first")
		return ErrNoTemplate
	}

	payload := protocol.ApplyOverrides(template, o)
	encoded, err := protocol.EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}

	now := c.now().UnixMilli()
	ks := uint64(now - keystoneFallback)
	if keystone != nil {
		ks = *keystone
	}
	show := o.ShowOrDefault()
	xml := protocol.BuildPresence(protocol.CraftedPresence{
		Show:       show,
		KeystoneTS: ks,
		Timestamp:  uint64(now),
		PayloadB64: encoded,
	})

	if err := stream.Write(xml); err != nil {
		return fmt.Errorf("failed to send presence: %w", err)
	}

	tier := protocol.DisplayValue(payload, protocol.KeyPlayerPresence, "competitiveTier")
	c.record(DirSent, fmt.Sprintf("[FAKE PRESENCE] show=%s tier=%s xml_len=%d", show, tier, len(xml)))
	c.record(DirDebug, xml)

	telemetry.ObserveFakePresence()
	c.emit(ctx, events.EventFakePresenceSent, events.FakePresencePayload{
		Show:   show,
		Tier:   tier,
		Length: len(xml),
	})
	return nil
}
