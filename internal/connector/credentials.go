package connector

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/util"
)

const (
	lockfileParts      = 5
	localAuthUser      = "riot"
	defaultTokenMaxAge = 10 * time.Minute
)

// Credentials are the tokens and local API coordinates of the signed-in
// player.
type Credentials struct {
	AccessToken       string
	EntitlementsToken string
	PUUID             string
	LocalPort         int
	LocalAuth         string
	PID               int32
	FetchedAt         time.Time
}

// HasLocalAPI reports whether the local client API can be reached with
// these credentials.
func (c Credentials) HasLocalAPI() bool {
	return c.LocalPort > 0 && c.LocalAuth != ""
}

// CredentialSource supplies credentials for the signed-in player.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Emitter publishes events to the host.
type Emitter interface {
	Emit(ctx context.Context, event events.Event)
}

// LockfileInfo is the parsed content of the game client's lockfile.
type LockfileInfo struct {
	Name     string
	PID      int32
	Port     int
	Password string
	Protocol string
}

// ParseLockfile parses "name:pid:port:password:protocol".
func ParseLockfile(contents string) (LockfileInfo, error) {
	parts := strings.Split(strings.TrimSpace(contents), ":")
	if len(parts) < lockfileParts {
		return LockfileInfo{}, fmt.Errorf("invalid lockfile format: %d fields", len(parts))
	}

	pid, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return LockfileInfo{}, fmt.Errorf("invalid lockfile pid %q: %w", parts[1], err)
	}
	port, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return LockfileInfo{}, fmt.Errorf("invalid lockfile port %q: %w", parts[2], err)
	}

	return LockfileInfo{
		Name:     parts[0],
		PID:      int32(pid),
		Port:     int(port),
		Password: parts[3],
		Protocol: parts[4],
	}, nil
}

// BasicAuth returns the Authorization header value for the local API.
func (l LockfileInfo) BasicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(localAuthUser+":"+l.Password))
}

// LocalTokenFetcher exchanges local API access for player tokens.
type LocalTokenFetcher interface {
	LocalTokens(ctx context.Context, port int, auth string) (LocalTokens, error)
}

// LockfileSource reads the lockfile, checks the client process is alive and
// fetches tokens from the local API. Results are cached for MaxAge.
type LockfileSource struct {
	mu sync.Mutex

	path    string
	fetcher LocalTokenFetcher
	emitter Emitter
	logger  zerolog.Logger

	// MaxAge is how long fetched tokens are reused before re-reading.
	MaxAge time.Duration

	alive func(ctx context.Context, pid int32) bool
	now   func() time.Time

	cached *Credentials
}

// NewLockfileSource creates a credential source backed by the lockfile at path.
// emitter may be nil.
func NewLockfileSource(path string, fetcher LocalTokenFetcher, emitter Emitter, logger zerolog.Logger) *LockfileSource {
	return &LockfileSource{
		path:    path,
		fetcher: fetcher,
		emitter: emitter,
		logger:  logger,
		MaxAge:  defaultTokenMaxAge,
		alive:   util.ProcessAlive,
		now:     time.Now,
	}
}

// Credentials returns cached credentials, refreshing them when older than MaxAge.
func (s *LockfileSource) Credentials(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.cached.FetchedAt) < s.MaxAge {
		return *s.cached, nil
	}
	return s.refreshLocked(ctx)
}

// Refresh forces a re-read of the lockfile and tokens.
func (s *LockfileSource) Refresh(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// Invalidate drops the cached credentials.
func (s *LockfileSource) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Cached returns the last fetched credentials without touching the client.
func (s *LockfileSource) Cached() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return Credentials{}, false
	}
	return *s.cached, true
}

func (s *LockfileSource) refreshLocked(ctx context.Context) (Credentials, error) {
	if s.path == "" {
		return Credentials{}, fmt.Errorf("%w: lockfile path unknown", ErrNoCredentials)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: could not read lockfile, is the client running? %v", ErrNoCredentials, err)
	}
	lock, err := ParseLockfile(string(raw))
	if err != nil {
		return Credentials{}, err
	}

	if !s.alive(ctx, lock.PID) {
		s.cached = nil
		return Credentials{}, fmt.Errorf("%w: pid %d is dead (stale lockfile)", ErrClientNotRunning, lock.PID)
	}

	auth := lock.BasicAuth()
	s.logger.Debug().Int("port", lock.Port).Int32("pid", lock.PID).Msg("fetching local entitlements")

	tokens, err := s.fetcher.LocalTokens(ctx, lock.Port, auth)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to fetch local tokens: %w", err)
	}

	creds := Credentials{
		AccessToken:       tokens.AccessToken,
		EntitlementsToken: tokens.Token,
		PUUID:             tokens.Subject,
		LocalPort:         lock.Port,
		LocalAuth:         auth,
		PID:               lock.PID,
		FetchedAt:         s.now(),
	}
	s.cached = &creds

	s.logger.Info().Str("puuid", creds.PUUID).Msg("credentials refreshed")
	if s.emitter != nil {
		s.emitter.Emit(ctx, events.Event{
			Type:   events.EventCredentialsRefreshed,
			Source: "credentials",
			Payload: events.CredentialsRefreshedPayload{
				PUUID: creds.PUUID,
				Port:  creds.LocalPort,
			},
		})
	}
	return creds, nil
}

// StaticSource serves fixed credentials, typically supplied through the
// environment for headless use.
type StaticSource struct {
	creds Credentials
}

// NewStaticSource returns a source that always yields creds.
func NewStaticSource(creds Credentials) *StaticSource {
	return &StaticSource{creds: creds}
}

func (s *StaticSource) Credentials(ctx context.Context) (Credentials, error) {
	if s.creds.AccessToken == "" || s.creds.PUUID == "" {
		return Credentials{}, fmt.Errorf("%w: access token and puuid are required", ErrNoCredentials)
	}
	return s.creds, nil
}
