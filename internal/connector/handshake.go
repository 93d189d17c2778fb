package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rift-companion/companion/internal/network"
	"github.com/rift-companion/companion/internal/protocol"
)

const (
	stepTimeout          = 10 * time.Second
	entitlementsWait     = 2 * time.Second
	initialPresenceWait  = 1500 * time.Millisecond
	initialPresenceReads = 8
)

// Transport is a bidirectional text stream to the chat server.
type Transport interface {
	Write(text string) error
	ReadAvailable(timeout time.Duration) (string, error)
	ReadUntil(marker string, timeout time.Duration) (string, error)
	Close() error
}

// Dialer opens a Transport to a chat host.
type Dialer interface {
	Dial(ctx context.Context, host string) (Transport, error)
}

// NetworkDialer dials real TLS streams.
type NetworkDialer struct {
	Config network.DialConfig
}

func (d NetworkDialer) Dial(ctx context.Context, host string) (Transport, error) {
	return network.Dial(ctx, host, d.Config)
}

// handshakeResult is what a completed handshake hands to finalize.
type handshakeResult struct {
	jid string
	// presences holds every chunk read after the initial presence.
	presences string
}

// handshake runs the stream negotiation from stream open to the initial
// presence dump. The caller closes t on error.
func (c *PresenceClient) handshake(t Transport, route ChatRoute, creds Credentials) (handshakeResult, error) {
	streamOpen := protocol.BuildStreamOpen(route.Domain)

	// 1. stream open
	if err := c.send(t, streamOpen, streamOpen); err != nil {
		return handshakeResult{}, fmt.Errorf("stream open: %w", err)
	}
	if _, err := c.recvUntil(t, protocol.FeaturesEndMarker, stepTimeout); err != nil {
		return handshakeResult{}, fmt.Errorf("stream features: %w", err)
	}

	// 2. authenticate
	if err := c.send(t, protocol.BuildAuth(creds.AccessToken, route.RoutingToken), protocol.RedactedAuth()); err != nil {
		return handshakeResult{}, fmt.Errorf("auth: %w", err)
	}
	resp, err := c.recvAvailable(t, stepTimeout)
	if err != nil {
		return handshakeResult{}, fmt.Errorf("auth: %w", err)
	}
	if strings.Contains(resp, protocol.FailureMarker) || strings.Contains(resp, protocol.NotAuthorizedMarker) {
		return handshakeResult{}, fmt.Errorf("%w: %s", ErrAuthFailed, resp)
	}

	// 3. restart the stream
	if err := c.send(t, streamOpen, streamOpen); err != nil {
		return handshakeResult{}, fmt.Errorf("stream restart: %w", err)
	}
	if _, err := c.recvUntil(t, protocol.FeaturesEndMarker, stepTimeout); err != nil {
		return handshakeResult{}, fmt.Errorf("stream restart features: %w", err)
	}

	// 4. bind
	bind := protocol.BuildBind(protocol.BindResource(c.now().UnixMilli()))
	if err := c.send(t, bind, bind); err != nil {
		return handshakeResult{}, fmt.Errorf("bind: %w", err)
	}
	resp, err = c.recvUntil(t, protocol.IQEndMarker, stepTimeout)
	if err != nil {
		return handshakeResult{}, fmt.Errorf("bind: %w", err)
	}
	jid := protocol.ExtractBoundJID(resp)
	if jid == "" {
		return handshakeResult{}, ErrBindFailed
	}
	c.record(DirSystem, "Bound JID: "+jid)

	// 5. session
	session := protocol.BuildSession()
	if err := c.send(t, session, session); err != nil {
		return handshakeResult{}, fmt.Errorf("session: %w", err)
	}
	if _, err := c.recvUntil(t, protocol.IQEndMarker, stepTimeout); err != nil {
		return handshakeResult{}, fmt.Errorf("session: %w", err)
	}

	// 6. entitlements; the server may stay silent
	if err := c.send(t, protocol.BuildEntitlements(creds.EntitlementsToken), protocol.RedactedEntitlements()); err != nil {
		return handshakeResult{}, fmt.Errorf("entitlements: %w", err)
	}
	if _, err := c.recvAvailable(t, entitlementsWait); err != nil {
		return handshakeResult{}, fmt.Errorf("entitlements: %w", err)
	}

	// 7. initial presence and roster dump
	if err := c.send(t, protocol.EmptyPresence, protocol.EmptyPresence); err != nil {
		return handshakeResult{}, fmt.Errorf("initial presence: %w", err)
	}
	var dump strings.Builder
	for i := 0; i < initialPresenceReads; i++ {
		chunk, err := t.ReadAvailable(initialPresenceWait)
		if err != nil {
			return handshakeResult{}, fmt.Errorf("initial presence: %w", err)
		}
		if chunk == "" {
			break
		}
		dump.WriteString(chunk)
		c.record(classify(chunk, creds.PUUID), chunk)
	}

	return handshakeResult{jid: jid, presences: dump.String()}, nil
}

func (c *PresenceClient) send(t Transport, text, logged string) error {
	if err := t.Write(text); err != nil {
		return err
	}
	c.record(DirSent, logged)
	return nil
}

func (c *PresenceClient) recvUntil(t Transport, marker string, timeout time.Duration) (string, error) {
	resp, err := t.ReadUntil(marker, timeout)
	if err != nil {
		return "", err
	}
	c.record(DirReceived, resp)
	return resp, nil
}

// recvAvailable logs non-empty reads only.
func (c *PresenceClient) recvAvailable(t Transport, timeout time.Duration) (string, error) {
	resp, err := t.ReadAvailable(timeout)
	if err != nil {
		return "", err
	}
	if resp != "" {
		c.record(DirReceived, resp)
	}
	return resp, nil
}

// classify picks the log direction for inbound traffic.
func classify(chunk, selfID string) Direction {
	if selfID != "" && strings.Contains(chunk, selfID) {
		return DirSelfPresence
	}
	return DirReceived
}
