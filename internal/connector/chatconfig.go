package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	affinitiesKey      = "chat.affinities"
	affinityDomainsKey = "chat.affinity_domains"
)

// ChatRoute says where and as whom to open the chat stream.
type ChatRoute struct {
	Host         string
	Domain       string
	Affinity     string
	RoutingToken string
}

// ChatAPI is the subset of the game HTTP services the presence client uses.
type ChatAPI interface {
	RoutingToken(ctx context.Context, accessToken string) (string, error)
	ClientConfig(ctx context.Context, accessToken, entitlements string) (map[string]any, error)
	ResolveNames(ctx context.Context, creds Credentials, puuids []string) ([]PlayerName, error)
	LocalGet(ctx context.Context, port int, auth, path string) ([]byte, error)
}

// ChatConfigResolver turns player tokens into a ChatRoute.
type ChatConfigResolver struct {
	api ChatAPI
}

// NewChatConfigResolver creates a resolver over api.
func NewChatConfigResolver(api ChatAPI) *ChatConfigResolver {
	return &ChatConfigResolver{api: api}
}

// Resolve fetches the routing token, decodes its affinity and looks up the
// chat host and domain for it in the player client config.
func (r *ChatConfigResolver) Resolve(ctx context.Context, creds Credentials) (ChatRoute, error) {
	token, err := r.api.RoutingToken(ctx, creds.AccessToken)
	if err != nil {
		return ChatRoute{}, err
	}
	token = strings.TrimSpace(token)

	affinity, err := decodeAffinity(token)
	if err != nil {
		return ChatRoute{}, err
	}

	cfg, err := r.api.ClientConfig(ctx, creds.AccessToken, creds.EntitlementsToken)
	if err != nil {
		return ChatRoute{}, err
	}

	host, err := affinityEntry(cfg, affinitiesKey, affinity)
	if err != nil {
		return ChatRoute{}, err
	}
	domain, err := affinityEntry(cfg, affinityDomainsKey, affinity)
	if err != nil {
		return ChatRoute{}, err
	}

	return ChatRoute{
		Host:         host,
		Domain:       domain,
		Affinity:     affinity,
		RoutingToken: token,
	}, nil
}

// decodeAffinity reads the "affinity" claim from a JWT without verifying it.
func decodeAffinity(token string) (string, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: expected a JWT, got %d segment(s)", ErrInvalidToken, len(parts))
	}

	var (
		raw []byte
		err error
	)
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.RawStdEncoding, base64.StdEncoding} {
		if raw, err = enc.DecodeString(parts[1]); err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: payload is not base64: %v", ErrInvalidToken, err)
	}

	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return "", fmt.Errorf("%w: payload is not JSON: %v", ErrInvalidToken, err)
	}

	affinity, ok := claims["affinity"].(string)
	if !ok {
		return "", fmt.Errorf("%w: affinity in routing token", ErrMissingField)
	}
	return affinity, nil
}

func affinityEntry(cfg map[string]any, key, affinity string) (string, error) {
	table, ok := cfg[key].(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	v, ok := table[affinity].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s entry for affinity %q", ErrMissingField, key, affinity)
	}
	return v, nil
}
