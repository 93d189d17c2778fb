package connector

import (
	"context"
	"encoding/base64"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rift-companion/companion/internal/events"
)

const (
	testSelfID   = "selfid-0000-1111"
	testFriendA  = "friend-aaaa-0001"
	testFriendB  = "friend-bbbb-0002"
	testAccess   = "access-token-secret"
	testEntitle  = "entitlements-secret"
	testAffinity = "na1"
	testHost     = "na1.chat.example"
	testDomain   = "na1"
	testNowMs    = 1_700_000_000_000
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.UnixMilli(testNowMs) }
}

// routingJWT builds an unsigned token whose payload carries claims.
func routingJWT(claims string) string {
	return "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString([]byte(claims)) + ".sig"
}

func presenceStanza(from, show, payloadJSON string, ks uint64) string {
	s := `<presence from="` + from + `@na1.pvp.net/RC-1" to="` + testSelfID + `@na1.pvp.net"><games>` +
		`<keystone><st>chat</st><s.t>` + strconv.FormatUint(ks, 10) + `</s.t></keystone>`
	if payloadJSON != "" {
		s += `<valorant><st>` + show + `</st><p>` + base64.StdEncoding.EncodeToString([]byte(payloadJSON)) + `</p></valorant>`
	}
	return s + `</games><show>` + show + `</show></presence>`
}

const selfPayload = `{"playerPresenceData":{"competitiveTier":12,"accountLevel":80,"playerCardId":"card-1","playerTitleId":"title-1"},` +
	`"partyPresenceData":{"partySize":1},"premierPresenceData":{"division":3,"rosterTag":"TAG"},"queueId":"unrated"}`

type readStep struct {
	data string
	err  error
}

// fakeTransport replays scripted reads in order and records writes. Once
// the script is exhausted every read returns "".
type fakeTransport struct {
	mu       sync.Mutex
	reads    []readStep
	writes   []string
	closed   bool
	writeErr error
}

func (f *fakeTransport) push(steps ...readStep) {
	f.mu.Lock()
	f.reads = append(f.reads, steps...)
	f.mu.Unlock()
}

func (f *fakeTransport) next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) == 0 {
		return "", nil
	}
	s := f.reads[0]
	f.reads = f.reads[1:]
	return s.data, s.err
}

func (f *fakeTransport) ReadAvailable(time.Duration) (string, error) { return f.next() }

func (f *fakeTransport) ReadUntil(string, time.Duration) (string, error) { return f.next() }

func (f *fakeTransport) Write(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, text)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// handshakeScript answers every handshake step successfully, then serves
// the given initial presence chunks.
func handshakeScript(presences ...string) []readStep {
	steps := []readStep{
		{data: `<stream:features><mechanisms/></stream:features>`},
		{data: `<success xmlns="urn:ietf:params:xml:ns:xmpp-sasl"/>`},
		{data: `<stream:features><bind/><session/></stream:features>`},
		{data: `<iq id="_xmpp_bind1" type="result"><bind><jid>` + testSelfID + `@na1.pvp.net/RC-1</jid></bind></iq>`},
		{data: `<iq id="_xmpp_session1" type="result"></iq>`},
		{data: ""},
	}
	for _, p := range presences {
		steps = append(steps, readStep{data: p})
	}
	return append(steps, readStep{data: ""})
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	hosts      []string
	err        error
}

func (d *fakeDialer) Dial(ctx context.Context, host string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts = append(d.hosts, host)
	if d.err != nil {
		return nil, d.err
	}
	t := d.transports[0]
	if len(d.transports) > 1 {
		d.transports = d.transports[1:]
	}
	return t, nil
}

type fakeAPI struct {
	mu sync.Mutex

	token     string
	tokenErr  error
	config    map[string]any
	configErr error

	names     []PlayerName
	namesErr  error
	nameCalls int
	nameIDs   []string

	local     []byte
	localErr  error
	localPath string
	// byPath overrides local for individual paths
	byPath map[string][]byte
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		token: routingJWT(`{"affinity":"` + testAffinity + `"}`),
		config: map[string]any{
			affinitiesKey:      map[string]any{testAffinity: testHost},
			affinityDomainsKey: map[string]any{testAffinity: testDomain},
		},
	}
}

func (a *fakeAPI) RoutingToken(ctx context.Context, accessToken string) (string, error) {
	return a.token + "\n", a.tokenErr
}

func (a *fakeAPI) ClientConfig(ctx context.Context, accessToken, entitlements string) (map[string]any, error) {
	return a.config, a.configErr
}

func (a *fakeAPI) ResolveNames(ctx context.Context, creds Credentials, puuids []string) ([]PlayerName, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nameCalls++
	a.nameIDs = append([]string(nil), puuids...)
	return a.names, a.namesErr
}

func (a *fakeAPI) LocalGet(ctx context.Context, port int, auth, path string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.localPath = path
	if body, ok := a.byPath[path]; ok {
		return body, nil
	}
	return a.local, a.localErr
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEmitter) count(t events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	client  *PresenceClient
	api     *fakeAPI
	dialer  *fakeDialer
	emitter *recordingEmitter
}

func testCredentials() Credentials {
	return Credentials{
		AccessToken:       testAccess,
		EntitlementsToken: testEntitle,
		PUUID:             testSelfID,
		LocalPort:         2999,
		LocalAuth:         "Basic cmlvdDpwdw==",
	}
}

func newHarness(t *testing.T, transports ...*fakeTransport) *harness {
	t.Helper()
	h := &harness{
		api:     newFakeAPI(),
		dialer:  &fakeDialer{transports: transports},
		emitter: &recordingEmitter{},
	}
	h.client = NewPresenceClient(Options{
		Credentials: NewStaticSource(testCredentials()),
		API:         h.api,
		Dialer:      h.dialer,
		Emitter:     h.emitter,
		Logger:      zerolog.Nop(),
		Now:         fixedClock(),
	})
	return h
}
