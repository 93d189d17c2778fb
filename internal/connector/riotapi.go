package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rift-companion/companion/internal/config"
)

const (
	// clientPlatform is the base64 platform descriptor the game services expect.
	clientPlatform = "ew0KCSJwbGF0Zm9ybVR5cGUiOiAiUEMiLA0KCSJwbGF0Zm9ybU9TIjogIldpbmRvd3MiLA0KCSJwbGF0Zm9ybU9TVmVyc2lvbiI6ICIxMC4wLjE5MDQyLjEuMjU2LjY0Yml0IiwNCgkicGxhdGZvcm1DaGlwc2V0IjogIlVua25vd24iDQp9"

	unknownClientVersion = "unknown"
	localTokenPath       = "/entitlements/v1/token"
	localPresencePath    = "/chat/v4/presences"
	nameServicePath      = "/name-service/v2/players"
	localTimeout         = 5 * time.Second
	maxResponseBytes     = 8 << 20
)

// LocalTokens is the local API's entitlements response.
type LocalTokens struct {
	AccessToken string `json:"accessToken"`
	Token       string `json:"token"`
	Subject     string `json:"subject"`
}

// PlayerName is one entry of the name service response.
type PlayerName struct {
	Subject  string `json:"Subject"`
	GameName string `json:"GameName"`
	TagLine  string `json:"TagLine"`
}

// RiotAPI talks to the game's HTTP services: the routing token endpoint, the
// player client config, the player-data shard and the local client API.
type RiotAPI struct {
	mu sync.RWMutex

	endpoints   config.RiotConfig
	client      *http.Client
	localClient *http.Client
	logger      zerolog.Logger

	// localBase formats the local API base URL for a port.
	localBase     string
	clientVersion string
}

// NewRiotAPI creates a client for the configured endpoints.
func NewRiotAPI(endpoints config.RiotConfig, logger zerolog.Logger) *RiotAPI {
	timeout := time.Duration(endpoints.HTTPTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &RiotAPI{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		localClient: &http.Client{
			Timeout: localTimeout,
			Transport: &http.Transport{
				// the local client API serves a self-signed certificate
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		},
		logger:        logger,
		localBase:     "https://127.0.0.1:%d",
		clientVersion: endpoints.ClientVersion,
	}
}

// RoutingToken fetches the chat routing (PAS) token.
func (a *RiotAPI) RoutingToken(ctx context.Context, accessToken string) (string, error) {
	body, err := a.do(ctx, a.client, http.MethodGet, a.endpoints.PASURL, nil, bearer(accessToken, ""))
	if err != nil {
		return "", fmt.Errorf("routing token: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// ClientConfig fetches the player client configuration.
func (a *RiotAPI) ClientConfig(ctx context.Context, accessToken, entitlements string) (map[string]any, error) {
	body, err := a.do(ctx, a.client, http.MethodGet, a.endpoints.ClientConfigURL, nil, bearer(accessToken, entitlements))
	if err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}

	var cfg map[string]any
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return cfg, nil
}

// ResolveNames looks up display names for puuids on the player-data shard.
func (a *RiotAPI) ResolveNames(ctx context.Context, creds Credentials, puuids []string) ([]PlayerName, error) {
	if len(puuids) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(puuids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode puuids: %w", err)
	}

	headers := bearer(creds.AccessToken, creds.EntitlementsToken)
	headers["X-Riot-ClientPlatform"] = clientPlatform
	headers["X-Riot-ClientVersion"] = a.ClientVersion(ctx)
	headers["Content-Type"] = "application/json"

	url := strings.TrimRight(a.endpoints.PlayerDataBaseURL(), "/") + nameServicePath
	body, err := a.do(ctx, a.client, http.MethodPut, url, payload, headers)
	if err != nil {
		return nil, fmt.Errorf("name service: %w", err)
	}

	var names []PlayerName
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, fmt.Errorf("failed to parse names: %w", err)
	}
	return names, nil
}

// ClientVersion returns the configured client version, fetching it from the
// public version endpoint on first use. Failures yield "unknown".
func (a *RiotAPI) ClientVersion(ctx context.Context) string {
	a.mu.RLock()
	v := a.clientVersion
	a.mu.RUnlock()
	if v != "" {
		return v
	}

	v = unknownClientVersion
	body, err := a.do(ctx, a.client, http.MethodGet, a.endpoints.VersionURL, nil, nil)
	if err == nil {
		var resp struct {
			Data struct {
				RiotClientVersion string `json:"riotClientVersion"`
			} `json:"data"`
		}
		clean := bytes.TrimRight(bytes.TrimSpace(body), "\x00")
		if json.Unmarshal(clean, &resp) == nil && resp.Data.RiotClientVersion != "" {
			v = resp.Data.RiotClientVersion
		}
	} else {
		a.logger.Warn().Err(err).Msg("client version lookup failed")
	}

	// only cache a real answer so a transient failure is retried
	if v != unknownClientVersion {
		a.mu.Lock()
		a.clientVersion = v
		a.mu.Unlock()
	}
	a.logger.Debug().Str("version", v).Msg("client version resolved")
	return v
}

// LocalTokens fetches player tokens from the local client API.
func (a *RiotAPI) LocalTokens(ctx context.Context, port int, auth string) (LocalTokens, error) {
	body, err := a.LocalGet(ctx, port, auth, localTokenPath)
	if err != nil {
		return LocalTokens{}, err
	}

	var tokens LocalTokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return LocalTokens{}, fmt.Errorf("failed to parse tokens: %w", err)
	}
	switch {
	case tokens.AccessToken == "":
		return LocalTokens{}, fmt.Errorf("%w: accessToken", ErrMissingField)
	case tokens.Token == "":
		return LocalTokens{}, fmt.Errorf("%w: entitlements token", ErrMissingField)
	case tokens.Subject == "":
		return LocalTokens{}, fmt.Errorf("%w: subject", ErrMissingField)
	}
	return tokens, nil
}

// LocalGet performs an authenticated GET against the local client API.
func (a *RiotAPI) LocalGet(ctx context.Context, port int, auth, path string) ([]byte, error) {
	url := fmt.Sprintf(a.localBase, port) + path
	body, err := a.do(ctx, a.localClient, http.MethodGet, url, nil, map[string]string{"Authorization": auth})
	if err != nil {
		return nil, fmt.Errorf("local api %s: %w", path, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("local api %s: empty response", path)
	}
	return body, nil
}

func (a *RiotAPI) do(ctx context.Context, client *http.Client, method, url string, payload []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncateBody(body))
	}
	return body, nil
}

func bearer(accessToken, entitlements string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + accessToken}
	if entitlements != "" {
		h["X-Riot-Entitlements-JWT"] = entitlements
	}
	return h
}

func truncateBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
