package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rift-companion/companion/internal/util"
)

const (
	localHelpPath        = "/help"
	localChatMePath      = "/chat/v1/me"
	localChatSessionPath = "/chat/v1/session"

	helpRawLimit = 2000
)

var chatEndpointMarkers = []string{"chat", "presence", "roster"}

// LocalDiscovery is a snapshot of the chat surface of the local client API.
type LocalDiscovery struct {
	ChatEndpoints  []string `json:"chat_endpoints,omitempty"`
	TotalEndpoints int      `json:"total_endpoints,omitempty"`
	HelpRaw        string   `json:"help_raw,omitempty"`
	HelpError      string   `json:"help_error,omitempty"`
	ChatMe         any      `json:"chat_me,omitempty"`
	ChatSession    any      `json:"chat_session,omitempty"`
}

// DiscoverLocalAPI lists the chat related endpoints the local client
// advertises and fetches its own view of the chat user and session.
// Individual request failures are folded into the result.
func (c *PresenceClient) DiscoverLocalAPI(ctx context.Context) (LocalDiscovery, error) {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return LocalDiscovery{}, err
	}
	if !creds.HasLocalAPI() {
		return LocalDiscovery{}, fmt.Errorf("%w: local api port unknown", ErrNoCredentials)
	}

	get := func(path string) ([]byte, error) {
		return c.api.LocalGet(ctx, creds.LocalPort, creds.LocalAuth, path)
	}

	var out LocalDiscovery
	if help, err := get(localHelpPath); err != nil {
		out.HelpError = err.Error()
	} else {
		out.addHelp(help)
	}
	if me, err := get(localChatMePath); err == nil {
		out.ChatMe = decodeLooseJSON(me)
	}
	if sess, err := get(localChatSessionPath); err == nil {
		out.ChatSession = decodeLooseJSON(sess)
	}
	return out, nil
}

func (d *LocalDiscovery) addHelp(raw []byte) {
	if !json.Valid(raw) {
		d.HelpRaw = util.Truncate(string(raw), helpRawLimit)
		return
	}

	var endpoints map[string]json.RawMessage
	if err := json.Unmarshal(raw, &endpoints); err != nil {
		d.ChatEndpoints = []string{}
		return
	}

	keys := make([]string, 0, len(endpoints))
	for k := range endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d.TotalEndpoints = len(endpoints)
	d.ChatEndpoints = []string{}
	for _, k := range keys {
		if !containsAny(k, chatEndpointMarkers) {
			continue
		}
		var val bytes.Buffer
		if err := json.Compact(&val, endpoints[k]); err != nil {
			continue
		}
		d.ChatEndpoints = append(d.ChatEndpoints, k+": "+val.String())
	}
}

// decodeLooseJSON returns nil when raw is not JSON.
func decodeLooseJSON(raw []byte) any {
	if !json.Valid(raw) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
