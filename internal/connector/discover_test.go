package connector

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverLocalAPI(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.api.byPath = map[string][]byte{
		"/help": []byte(`{
			"GET /chat/v4/presences": "Presences",
			"GET /riotclient/region-locale": "Region",
			"GET /chat/v4/friends": {"roster": true},
			"POST /player-account/roster": "Roster"
		}`),
		"/chat/v1/me":      []byte(`{"game_name":"Me","pid":"me@na1.pvp.net","state":"chat"}`),
		"/chat/v1/session": []byte(`{"loaded":true,"state":"connected"}`),
	}

	got, err := h.client.DiscoverLocalAPI(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, got.TotalEndpoints)
	assert.Equal(t, []string{
		`GET /chat/v4/friends: {"roster":true}`,
		`GET /chat/v4/presences: "Presences"`,
		`POST /player-account/roster: "Roster"`,
	}, got.ChatEndpoints)
	assert.Empty(t, got.HelpRaw)
	assert.Empty(t, got.HelpError)
	assert.Equal(t, map[string]any{"game_name": "Me", "pid": "me@na1.pvp.net", "state": "chat"}, got.ChatMe)
	assert.Equal(t, map[string]any{"loaded": true, "state": "connected"}, got.ChatSession)
}

func TestDiscoverLocalAPIFoldsFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.api.byPath = map[string][]byte{
		"/help":       []byte(strings.Repeat("x", 2500)),
		"/chat/v1/me": []byte(`not json`),
	}
	h.api.localErr = errors.New("connection refused")

	got, err := h.client.DiscoverLocalAPI(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.HelpRaw, helpRawLimit+len("..."))
	assert.Nil(t, got.ChatEndpoints)
	assert.Nil(t, got.ChatMe)
	assert.Nil(t, got.ChatSession)

	h.api.byPath = nil
	got, err = h.client.DiscoverLocalAPI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "connection refused", got.HelpError)

	out, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"help_error":"connection refused"}`, string(out))
}

func TestDiscoverLocalAPINeedsLocalPort(t *testing.T) {
	t.Parallel()
	creds := testCredentials()
	creds.LocalPort = 0
	client := NewPresenceClient(Options{
		Credentials: NewStaticSource(creds),
		API:         newFakeAPI(),
		Dialer:      &fakeDialer{},
		Logger:      zerolog.Nop(),
	})

	_, err := client.DiscoverLocalAPI(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}
