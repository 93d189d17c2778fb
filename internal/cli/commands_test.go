package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rift-companion/companion/internal/config"
	"github.com/rift-companion/companion/internal/connector"
	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/protocol"
)

type fakeSession struct {
	connected bool
	overrides []protocol.PresenceOverrides
	raw       []string
	tail      int
	fakeErr   error
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.connected = true
	return nil
}

func (f *fakeSession) Disconnect(ctx context.Context) error {
	f.connected = false
	return nil
}

func (f *fakeSession) Poll(ctx context.Context) (string, error) {
	if !f.connected {
		return connector.PollNotConnected, nil
	}
	return connector.PollOK, nil
}

func (f *fakeSession) Status() connector.Status {
	if !f.connected {
		return connector.Status{}
	}
	return connector.Status{Connected: true, JID: "me@na1.pvp.net/RC-1", Region: "na1"}
}

func (f *fakeSession) LogsTail(n int) []connector.LogEntry {
	f.tail = n
	return []connector.LogEntry{{Direction: connector.DirSent, Data: "<presence/>", Timestamp: 0}}
}

func (f *fakeSession) Friends(ctx context.Context) connector.FriendsView {
	return connector.FriendsView{
		Friends: []connector.FriendPresence{
			{PUUID: "friend-a", GameName: "Alpha", GameTag: "EUW", Show: "chat", Payload: map[string]any{}},
			{PUUID: "friend-b", Show: "dnd"},
		},
		Total: 2,
	}
}

func (f *fakeSession) SendFakePresence(ctx context.Context, o protocol.PresenceOverrides) error {
	if f.fakeErr != nil {
		return f.fakeErr
	}
	f.overrides = append(f.overrides, o)
	return nil
}

func (f *fakeSession) SendRaw(ctx context.Context, data string) error {
	f.raw = append(f.raw, data)
	return nil
}

func (f *fakeSession) CheckLocalPresences(ctx context.Context) (connector.LocalPresences, error) {
	return connector.LocalPresences{TotalPresences: 3, OwnPresences: []map[string]any{{}}}, nil
}

func run(t *testing.T, session *fakeSession, input string) (string, *config.Config) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	var out bytes.Buffer
	NewCLI(cfg, bus, session, strings.NewReader(input), &out).Start(context.Background())
	return out.String(), cfg
}

func TestSessionCommands(t *testing.T) {
	t.Parallel()
	session := &fakeSession{}

	out, _ := run(t, session, "poll\nconnect\nstatus\npoll\ndisconnect\n")

	assert.Contains(t, out, "Poll: not_connected")
	assert.Contains(t, out, "Connected as me@na1.pvp.net/RC-1 (na1)")
	assert.Contains(t, out, "Session:   connected")
	assert.Contains(t, out, "Poll: ok")
	assert.Contains(t, out, "Disconnected")
	assert.False(t, session.connected)
}

func TestFriendsTable(t *testing.T) {
	t.Parallel()
	out, _ := run(t, &fakeSession{}, "friends\n")

	assert.Contains(t, out, "Alpha#EUW")
	assert.Contains(t, out, "friend-b")
	assert.Contains(t, out, "2 friends")
}

func TestFakeAndRaw(t *testing.T) {
	t.Parallel()
	session := &fakeSession{}

	out, _ := run(t, session, `fake {"show":"away","competitiveTier":24}`+"\nfake\nfake {bad\nraw <presence/>\nraw\n")

	require.Len(t, session.overrides, 2)
	assert.Equal(t, "away", session.overrides[0].Show)
	require.NotNil(t, session.overrides[0].CompetitiveTier)
	assert.Equal(t, uint64(24), *session.overrides[0].CompetitiveTier)
	assert.Contains(t, out, "Fake presence sent (show=away)")
	assert.Contains(t, out, "Fake presence sent (show=chat)")
	assert.Contains(t, out, "Error: invalid overrides")

	assert.Equal(t, []string{"<presence/>"}, session.raw)
	assert.Contains(t, out, "Error: usage: raw <xml>")
}

func TestFakeSurfacesSessionError(t *testing.T) {
	t.Parallel()
	out, _ := run(t, &fakeSession{fakeErr: connector.ErrNoTemplate}, "fake\n")
	assert.Contains(t, out, "Error: "+connector.ErrNoTemplate.Error())
}

func TestLogs(t *testing.T) {
	t.Parallel()
	session := &fakeSession{}

	out, _ := run(t, session, "logs\n")
	assert.Equal(t, defaultLogLines, session.tail)
	assert.Contains(t, out, "[sent  ] <presence/>")

	out, _ = run(t, session, "logs 5\nlogs x\n")
	assert.Equal(t, 5, session.tail)
	assert.Contains(t, out, "Error: invalid count: x")
}

func TestLocal(t *testing.T) {
	t.Parallel()
	out, _ := run(t, &fakeSession{}, "local\n")
	assert.Contains(t, out, "Local client reports 3 presences (1 own)")
}

func TestSet(t *testing.T) {
	t.Parallel()

	out, cfg := run(t, &fakeSession{}, "set poll_interval_ms 2000\nset log_capacity 10\nset\n")

	assert.Equal(t, 2000, cfg.GetPresence().PollIntervalMs)
	assert.Contains(t, out, "Config updated: poll_interval_ms = 2000")
	assert.Equal(t, 500, cfg.GetPresence().LogCapacity)
	assert.Contains(t, out, "Error: invalid value for log_capacity")
	assert.Contains(t, out, "Error: usage: set <key> <value>")
}

func TestQuitEmitsShutdown(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, e events.Event) error {
		got <- struct{}{}
		return nil
	})

	var out bytes.Buffer
	session := &fakeSession{}
	NewCLI(cfg, bus, session, strings.NewReader("quit\nconnect\n"), &out).Start(context.Background())

	<-got
	assert.False(t, session.connected)
	assert.Contains(t, out.String(), "Shutting down companion...")
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	out, _ := run(t, &fakeSession{}, "bogus\nhelp\n")
	assert.Contains(t, out, "Unknown command: 'bogus'")
	assert.Contains(t, out, "Companion Console Commands")
}
