// Package connector runs the presence session against the game's chat
// service and the HTTP helpers it depends on.
package connector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/network"
	"github.com/rift-companion/companion/internal/protocol"
	"github.com/rift-companion/companion/internal/telemetry"
	"github.com/rift-companion/companion/internal/util"
)

// Poll results.
const (
	PollOK           = "ok"
	PollNotConnected = "not_connected"
)

const (
	pollReadWait     = 150 * time.Millisecond
	logMirrorLimit   = 300
	eventSource      = "presence"
	keystoneFallback = 5000
	reasonClosed     = "connection closed by server"
	reasonUser       = "disconnect requested"
	reasonReconnect  = "reconnect"
	reasonClientGone = "game client exited"
)

// Options wires a PresenceClient to its collaborators.
type Options struct {
	Credentials CredentialSource
	API         ChatAPI
	Dialer      Dialer
	// Emitter receives session events; may be nil.
	Emitter     Emitter
	Logger      zerolog.Logger
	LogCapacity int
	// Now defaults to time.Now.
	Now         func() time.Time
}

// Status is a snapshot of the session for the host UI.
type Status struct {
	Connected   bool   `json:"connected"`
	JID         string `json:"jid"`
	Region      string `json:"region"`
	UptimeSecs  int64  `json:"uptime_secs"`
	LogCount    int    `json:"log_count"`
	RealCardID  string `json:"realCardId"`
	RealTitleID string `json:"realTitleId"`
	PremierData any    `json:"premierData"`
}

// FriendsView is the friends listing returned to the host.
type FriendsView struct {
	Friends []FriendPresence `json:"friends"`
	Total   int              `json:"total"`
}

// LocalPresences is the local client's own view of chat presences.
type LocalPresences struct {
	TotalPresences int              `json:"total_presences"`
	OwnPresences   []map[string]any `json:"own_presences"`
	AllPresences   []map[string]any `json:"all_presences"`
	MyPUUID        string           `json:"my_puuid"`
}

// PresenceClient owns one chat session.
//
// opMu serializes Connect, Poll, Disconnect, SendRaw and SendFakePresence for
// their whole duration, including blocking reads. stateMu guards the fields
// below it and is only held briefly, so Status, Logs and Friends never wait
// on network I/O.
type PresenceClient struct {
	opMu    sync.Mutex
	stateMu sync.RWMutex

	creds    CredentialSource
	api      ChatAPI
	resolver *ChatConfigResolver
	dialer   Dialer
	emitter  Emitter
	logger   zerolog.Logger
	now      func() time.Time

	connected   bool
	stream      Transport
	selfID      string
	boundJID    string
	region      string
	connectedAt time.Time
	template    map[string]any
	// keystoneTS is nil until a self presence has been captured; a
	// captured 0 is kept as is.
	keystoneTS  *uint64
	friends     *PresenceCache
	log         *TrafficLog
}

// NewPresenceClient creates a disconnected client.
func NewPresenceClient(opts Options) *PresenceClient {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &PresenceClient{
		creds:    opts.Credentials,
		api:      opts.API,
		resolver: NewChatConfigResolver(opts.API),
		dialer:   opts.Dialer,
		emitter:  opts.Emitter,
		logger:   opts.Logger,
		now:      now,
		friends:  NewPresenceCache(),
		log:      NewTrafficLog(opts.LogCapacity),
	}
}

// Connect opens a fresh session, replacing any existing one. On failure the
// client is left disconnected with no bound identity.
func (c *PresenceClient) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	start := c.now()
	err := c.connect(ctx)
	telemetry.ObserveConnect(err, c.now().Sub(start))
	if err != nil {
		c.record(DirError, err.Error())
		c.logger.Error().Err(err).Msg("chat connect failed")
		return err
	}
	return nil
}

func (c *PresenceClient) connect(ctx context.Context) error {
	c.dropStream(reasonReconnect, true)

	c.stateMu.Lock()
	c.log.Reset()
	c.friends.Reset()
	c.boundJID = ""
	c.region = ""
	c.stateMu.Unlock()
	telemetry.SetFriendsTracked(0)

	c.record(DirSystem, "Fetching routing token...")
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	route, err := c.resolver.Resolve(ctx, creds)
	if err != nil {
		return fmt.Errorf("chat config: %w", err)
	}
	c.record(DirSystem, fmt.Sprintf("Routing token received (%d chars)", len(route.RoutingToken)))
	c.record(DirSystem, fmt.Sprintf("Affinity: %s", route.Affinity))
	c.record(DirSystem, fmt.Sprintf("Host: %s, Domain: %s%s", route.Host, route.Domain, protocol.DomainSuffix))

	stream, err := c.dialer.Dial(ctx, route.Host)
	if err != nil {
		return fmt.Errorf("dial %s: %w", route.Host, err)
	}
	c.record(DirSystem, "TLS connected")

	handshakeStart := c.now()
	res, err := c.handshake(stream, route, creds)
	if err != nil {
		stream.Close()
		return err
	}

	self, captured := protocol.ExtractSelfPresence(res.presences, creds.PUUID)
	nowMs := c.now().UnixMilli()

	c.stateMu.Lock()
	if c.selfID != creds.PUUID {
		c.template = nil
		c.keystoneTS = nil
	}
	if captured {
		c.template = self.Payload
		ks := self.KeystoneTS
		c.keystoneTS = &ks
	}
	update := c.friends.Update(res.presences, creds.PUUID, nowMs)
	friendCount := c.friends.Len()
	c.connected = true
	c.stream = stream
	c.selfID = creds.PUUID
	c.boundJID = res.jid
	c.region = route.Domain
	c.connectedAt = c.now()
	hasTemplate := c.template != nil
	c.stateMu.Unlock()

	if captured {
		c.record(DirSystem, fmt.Sprintf("Captured real presence data: %d fields", len(self.Payload)))
	}
	c.recordAll(DirDebug, update.Debug)
	c.record(DirSystem, fmt.Sprintf("Captured %d friend presences", friendCount))
	c.record(DirSystem, "Connected and authenticated!")

	telemetry.SetSessionConnected(true)
	telemetry.SetFriendsTracked(friendCount)
	c.logger.Info().
		Str("jid", res.jid).
		Str("region", route.Domain).
		Int("friends", friendCount).
		Bool("template", hasTemplate).
		Msg("chat session connected")

	c.emit(ctx, events.EventSessionConnected, events.SessionConnectedPayload{
		JID:         res.jid,
		Region:      route.Domain,
		Friends:     friendCount,
		HasTemplate: hasTemplate,
		HandshakeMs: c.now().Sub(handshakeStart).Milliseconds(),
	})
	if captured {
		c.emit(ctx, events.EventSelfPresenceCaptured, events.SelfPresencePayload{
			KeystoneTS: self.KeystoneTS,
			CardID:     protocol.StringField(self.Payload, protocol.KeyPlayerPresence, "playerCardId"),
			TitleID:    protocol.StringField(self.Payload, protocol.KeyPlayerPresence, "playerTitleId"),
		})
	}
	c.emitFriends(ctx, update.Changed)
	return nil
}

// Disconnect closes the stream if any. Captured template, friends and log
// are kept. Safe to call when already disconnected.
func (c *PresenceClient) Disconnect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.dropStream(reasonUser, true) {
		c.emit(ctx, events.EventSessionDisconnected, events.SessionDisconnectedPayload{Reason: reasonUser})
	}
	c.record(DirSystem, "Disconnected")
	return nil
}

// HandleClientExit drops the session after the game client went away.
func (c *PresenceClient) HandleClientExit(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.dropStream(reasonClientGone, false) {
		c.record(DirSystem, "Disconnected: "+reasonClientGone)
		c.emit(ctx, events.EventSessionDisconnected, events.SessionDisconnectedPayload{Reason: reasonClientGone})
	}
}

// dropStream detaches and closes the stream, optionally sending the stream
// close first. Reports whether a stream was attached. Caller holds opMu.
func (c *PresenceClient) dropStream(reason string, sayGoodbye bool) bool {
	c.stateMu.Lock()
	stream := c.stream
	c.stream = nil
	c.connected = false
	c.stateMu.Unlock()

	if stream == nil {
		return false
	}
	if sayGoodbye {
		if err := stream.Write(protocol.StreamClose); err != nil {
			c.logger.Debug().Err(err).Msg("stream close not delivered")
		}
	}
	stream.Close()
	telemetry.SetSessionConnected(false)
	c.logger.Info().Str("reason", reason).Msg("chat session closed")
	return true
}

// Poll runs one non-blocking read cycle. It never returns an error for a
// closed stream; the session is marked disconnected instead.
func (c *PresenceClient) Poll(ctx context.Context) (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMu.RLock()
	stream, selfID := c.stream, c.selfID
	c.stateMu.RUnlock()

	if stream == nil {
		return PollNotConnected, nil
	}
	telemetry.ObservePoll()

	data, err := stream.ReadAvailable(pollReadWait)
	switch {
	case errors.Is(err, network.ErrConnectionClosed):
		c.record(DirError, "Connection closed by server")
		if c.dropStream(reasonClosed, false) {
			c.emit(ctx, events.EventSessionDisconnected, events.SessionDisconnectedPayload{Reason: reasonClosed})
		}
	case err != nil:
		c.record(DirError, err.Error())
	case data != "":
		c.ingest(ctx, data, selfID)
	}
	return PollOK, nil
}

func (c *PresenceClient) ingest(ctx context.Context, data, selfID string) {
	c.record(classify(data, selfID), data)

	c.stateMu.Lock()
	update := c.friends.Update(data, selfID, c.now().UnixMilli())
	count := c.friends.Len()
	c.stateMu.Unlock()

	c.recordAll(DirDebug, update.Debug)
	telemetry.SetFriendsTracked(count)
	c.emitFriends(ctx, update.Changed)
}

// SendRaw writes data to the stream verbatim.
func (c *PresenceClient) SendRaw(ctx context.Context, data string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMu.RLock()
	stream := c.stream
	c.stateMu.RUnlock()
	if stream == nil {
		return ErrNotConnected
	}

	if err := stream.Write(data); err != nil {
		return fmt.Errorf("failed to send raw stanza: %w", err)
	}
	c.record(DirSent, data)
	return nil
}

// Status returns a snapshot of the session.
func (c *PresenceClient) Status() Status {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	st := Status{
		Connected: c.connected,
		JID:       c.boundJID,
		Region:    c.region,
		LogCount:  c.log.Len(),
	}
	if c.connected {
		st.UptimeSecs = int64(c.now().Sub(c.connectedAt).Seconds())
	}
	if c.template != nil {
		st.RealCardID = protocol.StringField(c.template, protocol.KeyPlayerPresence, "playerCardId")
		st.RealTitleID = protocol.StringField(c.template, protocol.KeyPlayerPresence, "playerTitleId")
		if v, ok := c.template[protocol.KeyPremierPresence]; ok {
			if obj, isObj := v.(map[string]any); isObj {
				v = protocol.ClonePayload(obj)
			}
			st.PremierData = v
		}
	}
	return st
}

// Logs returns a copy of the diagnostic log.
func (c *PresenceClient) Logs() []LogEntry {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.log.Entries()
}

// LogsTail returns the last n diagnostic log entries.
func (c *PresenceClient) LogsTail(n int) []LogEntry {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.log.Tail(n)
}

// FriendCount returns the number of tracked peers without resolving names.
func (c *PresenceClient) FriendCount() int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.friends.Len()
}

// Friends returns the tracked peers, first resolving display names for any
// peer seen without one. Name lookup failures are logged and skipped.
func (c *PresenceClient) Friends(ctx context.Context) FriendsView {
	c.stateMu.RLock()
	unresolved := c.friends.Unresolved()
	c.stateMu.RUnlock()

	if len(unresolved) > 0 {
		c.resolveNames(ctx, unresolved)
	}

	c.stateMu.RLock()
	list := c.friends.Snapshot()
	c.stateMu.RUnlock()
	return FriendsView{Friends: list, Total: len(list)}
}

func (c *PresenceClient) resolveNames(ctx context.Context, ids []string) {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("skipping name resolution")
		return
	}
	names, err := c.api.ResolveNames(ctx, creds, ids)
	if err != nil {
		c.logger.Warn().Err(err).Int("count", len(ids)).Msg("name resolution failed")
		return
	}

	c.stateMu.Lock()
	for _, n := range names {
		c.friends.SetName(n.Subject, n.GameName, n.TagLine)
	}
	c.stateMu.Unlock()
}

// CheckLocalPresences asks the local client API for every chat presence it
// knows, decoding each private blob.
func (c *PresenceClient) CheckLocalPresences(ctx context.Context) (LocalPresences, error) {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return LocalPresences{}, err
	}
	if !creds.HasLocalAPI() {
		return LocalPresences{}, fmt.Errorf("%w: local api port unknown", ErrNoCredentials)
	}

	raw, err := c.api.LocalGet(ctx, creds.LocalPort, creds.LocalAuth, localPresencePath)
	if err != nil {
		return LocalPresences{}, err
	}
	return parseLocalPresences(raw, creds.PUUID)
}

var localPresenceFields = []string{"puuid", "product", "resource", "state", "time", "game_name", "game_tag", "pid"}

func parseLocalPresences(raw []byte, selfID string) (LocalPresences, error) {
	var resp struct {
		Presences *[]map[string]any `json:"presences"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return LocalPresences{}, fmt.Errorf("failed to parse presences: %w", err)
	}
	if resp.Presences == nil {
		return LocalPresences{}, fmt.Errorf("%w: presences array", ErrMissingField)
	}

	out := LocalPresences{
		TotalPresences: len(*resp.Presences),
		OwnPresences:   []map[string]any{},
		AllPresences:   []map[string]any{},
		MyPUUID:        selfID,
	}
	for _, p := range *resp.Presences {
		entry := make(map[string]any, len(localPresenceFields)+2)
		for _, k := range localPresenceFields {
			entry[k] = p[k]
		}
		if priv, ok := p["private"].(string); ok && priv != "" {
			if decoded, err := decodeLocalBlob(priv); err == nil {
				entry["private_decoded"] = decoded
			}
		}
		if basic, ok := p["basic"].(string); ok && basic != "" {
			entry["basic"] = basic
		}

		if id, _ := p["puuid"].(string); id == selfID {
			out.OwnPresences = append(out.OwnPresences, entry)
		}
		out.AllPresences = append(out.AllPresences, entry)
	}
	return out, nil
}

func decodeLocalBlob(b64 string) (any, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// record appends to the diagnostic log and mirrors the entry to the
// process log, metrics and the event bus.
func (c *PresenceClient) record(dir Direction, data string) {
	entry := LogEntry{Direction: dir, Data: data, Timestamp: c.now().UnixMilli()}

	c.stateMu.Lock()
	c.log.Append(entry)
	c.stateMu.Unlock()

	c.logger.Debug().Str("dir", string(dir)).Msg(util.Truncate(data, logMirrorLimit))
	telemetry.ObserveLogEntry(string(dir))
	c.emit(context.Background(), events.EventProtocolLog, events.ProtocolLogPayload{
		Direction: string(dir),
		Data:      data,
		Timestamp: entry.Timestamp,
	})
}

func (c *PresenceClient) recordAll(dir Direction, lines []string) {
	for _, l := range lines {
		c.record(dir, l)
	}
}

func (c *PresenceClient) emitFriends(ctx context.Context, ids []string) {
	if c.emitter == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		c.stateMu.RLock()
		f, ok := c.friends.Get(id)
		c.stateMu.RUnlock()
		if !ok {
			continue
		}
		c.emit(ctx, events.EventFriendPresence, events.FriendPresencePayload{
			PUUID:       f.PUUID,
			Show:        f.Show,
			HasPayload:  f.Payload != nil,
			LastUpdated: f.LastUpdated,
		})
	}
}

func (c *PresenceClient) emit(ctx context.Context, t events.EventType, payload any) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(ctx, events.Event{Type: t, Source: eventSource, Payload: payload})
}
