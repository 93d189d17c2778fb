package connector

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRoute(t *testing.T) {
	t.Parallel()
	api := newFakeAPI()

	route, err := NewChatConfigResolver(api).Resolve(context.Background(), testCredentials())
	require.NoError(t, err)
	assert.Equal(t, ChatRoute{
		Host:         testHost,
		Domain:       testDomain,
		Affinity:     testAffinity,
		RoutingToken: api.token,
	}, route)
}

func TestResolveRouteErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*fakeAPI)
		want   error
	}{
		{
			name:   "single segment",
			mutate: func(a *fakeAPI) { a.token = "opaque" },
			want:   ErrInvalidToken,
		},
		{
			name:   "payload not json",
			mutate: func(a *fakeAPI) { a.token = "h." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".s" },
			want:   ErrInvalidToken,
		},
		{
			name:   "no affinity claim",
			mutate: func(a *fakeAPI) { a.token = routingJWT(`{"sub":"x"}`) },
			want:   ErrMissingField,
		},
		{
			name:   "affinity not a string",
			mutate: func(a *fakeAPI) { a.token = routingJWT(`{"affinity":7}`) },
			want:   ErrMissingField,
		},
		{
			name:   "no host table",
			mutate: func(a *fakeAPI) { delete(a.config, affinitiesKey) },
			want:   ErrMissingField,
		},
		{
			name: "unknown affinity domain",
			mutate: func(a *fakeAPI) {
				a.config[affinityDomainsKey] = map[string]any{"eu": "eu1"}
			},
			want: ErrMissingField,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := newFakeAPI()
			tt.mutate(api)

			_, err := NewChatConfigResolver(api).Resolve(context.Background(), testCredentials())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolveRoutePropagatesHTTPErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("HTTP 503: down")

	api := newFakeAPI()
	api.tokenErr = boom
	_, err := NewChatConfigResolver(api).Resolve(context.Background(), testCredentials())
	assert.ErrorIs(t, err, boom)

	api = newFakeAPI()
	api.configErr = boom
	_, err = NewChatConfigResolver(api).Resolve(context.Background(), testCredentials())
	assert.ErrorIs(t, err, boom)
}

func TestDecodeAffinityEncodings(t *testing.T) {
	t.Parallel()
	// "?>" encodes to characters that differ between the URL and standard alphabets
	claims := []byte(`{"affinity":"eu","k":"?>?>"}`)

	for name, enc := range map[string]*base64.Encoding{
		"raw url": base64.RawURLEncoding,
		"raw std": base64.RawStdEncoding,
		"std":     base64.StdEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			got, err := decodeAffinity("h." + enc.EncodeToString(claims) + ".s")
			require.NoError(t, err)
			assert.Equal(t, "eu", got)
		})
	}
}
