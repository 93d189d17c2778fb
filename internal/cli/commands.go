// Package cli implements the interactive console for the companion. It drives
// the same presence session as the REST API, one command per line.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/config"
	"github.com/rift-companion/companion/internal/connector"
	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/protocol"
)

const defaultLogLines = 20

// Session is the part of the presence client the console drives.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Poll(ctx context.Context) (string, error)
	Status() connector.Status
	LogsTail(n int) []connector.LogEntry
	Friends(ctx context.Context) connector.FriendsView
	SendFakePresence(ctx context.Context, o protocol.PresenceOverrides) error
	SendRaw(ctx context.Context, data string) error
	CheckLocalPresences(ctx context.Context) (connector.LocalPresences, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	session  Session
	in       io.Reader
	out      io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, session Session, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		session:  session,
		in:       in,
		out:      out,
	}
}

// Start runs the read loop until input ends, quit is entered or ctx is done.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nCompanion console ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	readCtx, stop := context.WithCancel(ctx)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "companion> ")
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		if c.execute(ctx, strings.ToLower(cmd), strings.TrimSpace(rest)) {
			return
		}
	}
}

// execute runs one command and reports whether the console should exit.
func (c *CLI) execute(ctx context.Context, cmd, rest string) bool {
	var err error
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "connect":
		err = c.cmdConnect(ctx)
	case "disconnect":
		err = c.session.Disconnect(ctx)
		if err == nil {
			fmt.Fprintln(c.out, "Disconnected")
		}
	case "poll":
		err = c.cmdPoll(ctx)
	case "friends", "f":
		c.printFriends(ctx)
	case "logs":
		err = c.cmdLogs(rest)
	case "fake":
		err = c.cmdFake(ctx, rest)
	case "raw":
		err = c.cmdRaw(ctx, rest)
	case "local":
		err = c.cmdLocal(ctx)
	case "set":
		err = c.cmdSet(ctx, rest)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down companion...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                   Companion Console Commands                 ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Show chat session status                ║")
	fmt.Fprintln(c.out, "║  connect            Open (or reopen) the chat session       ║")
	fmt.Fprintln(c.out, "║  disconnect         Close the chat session                  ║")
	fmt.Fprintln(c.out, "║  poll               Read pending presence traffic once      ║")
	fmt.Fprintln(c.out, "║  friends            List tracked friend presences           ║")
	fmt.Fprintln(c.out, "║  logs [n]           Show the last n protocol log entries    ║")
	fmt.Fprintln(c.out, "║  fake <json>        Broadcast a modified presence           ║")
	fmt.Fprintln(c.out, "║  raw <xml>          Write raw XML to the chat stream        ║")
	fmt.Fprintln(c.out, "║  local              Show the game client's presence view    ║")
	fmt.Fprintln(c.out, "║  set <key> <value>  Update a presence setting               ║")
	fmt.Fprintln(c.out, "║  quit               Shutdown the companion                  ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	st := c.session.Status()
	state := "disconnected"
	if st.Connected {
		state = "connected"
	}

	fmt.Fprintf(c.out, "\n  Session:   %s\n", state)
	fmt.Fprintf(c.out, "  JID:       %s\n", orDash(st.JID))
	fmt.Fprintf(c.out, "  Region:    %s\n", orDash(st.Region))
	fmt.Fprintf(c.out, "  Uptime:    %s\n", time.Duration(st.UptimeSecs)*time.Second)
	fmt.Fprintf(c.out, "  Log lines: %d\n", st.LogCount)
	if st.RealCardID != "" || st.RealTitleID != "" {
		fmt.Fprintf(c.out, "  Card:      %s\n", orDash(st.RealCardID))
		fmt.Fprintf(c.out, "  Title:     %s\n", orDash(st.RealTitleID))
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdConnect(ctx context.Context) error {
	if err := c.session.Connect(ctx); err != nil {
		return err
	}
	st := c.session.Status()
	fmt.Fprintf(c.out, "Connected as %s (%s)\n", st.JID, st.Region)
	return nil
}

func (c *CLI) cmdPoll(ctx context.Context) error {
	result, err := c.session.Poll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Poll: %s\n", result)
	return nil
}

func (c *CLI) printFriends(ctx context.Context) {
	view := c.session.Friends(ctx)
	if view.Total == 0 {
		fmt.Fprintln(c.out, "No friend presences tracked")
		return
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"PUUID", "Name", "Show", "Game Data", "Updated"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, f := range view.Friends {
		name := "-"
		if f.GameName != "" {
			name = f.GameName + "#" + f.GameTag
		}
		data := "no"
		if f.Payload != nil {
			data = "yes"
		}
		tw.Append([]string{
			f.PUUID,
			name,
			f.Show,
			data,
			time.UnixMilli(f.LastUpdated).Format(time.TimeOnly),
		})
	}
	tw.Render()
	fmt.Fprintf(c.out, "%d friends\n", view.Total)
}

func (c *CLI) cmdLogs(rest string) error {
	n := defaultLogLines
	if rest != "" {
		v, err := strconv.Atoi(rest)
		if err != nil || v < 0 {
			return fmt.Errorf("invalid count: %s", rest)
		}
		n = v
	}

	for _, e := range c.session.LogsTail(n) {
		fmt.Fprintf(c.out, "%s [%-6s] %s\n",
			time.UnixMilli(e.Timestamp).Format("15:04:05.000"), e.Direction, e.Data)
	}
	return nil
}

func (c *CLI) cmdFake(ctx context.Context, rest string) error {
	var o protocol.PresenceOverrides
	if rest != "" {
		if err := json.Unmarshal([]byte(rest), &o); err != nil {
			return fmt.Errorf("invalid overrides: %w", err)
		}
	}
	if err := c.session.SendFakePresence(ctx, o); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Fake presence sent (show=%s)\n", o.ShowOrDefault())
	return nil
}

func (c *CLI) cmdRaw(ctx context.Context, rest string) error {
	if rest == "" {
		return errors.New("usage: raw <xml>")
	}
	if err := c.session.SendRaw(ctx, rest); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sent %d bytes\n", len(rest))
	return nil
}

func (c *CLI) cmdLocal(ctx context.Context) error {
	local, err := c.session.CheckLocalPresences(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Local client reports %d presences (%d own)\n",
		local.TotalPresences, len(local.OwnPresences))
	return nil
}

func (c *CLI) cmdSet(ctx context.Context, rest string) error {
	key, raw, ok := strings.Cut(rest, " ")
	if !ok || strings.TrimSpace(raw) == "" {
		return errors.New("usage: set <key> <value>")
	}
	raw = strings.TrimSpace(raw)

	// numbers and booleans go through as JSON, anything else as a string
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	prev := c.cfg.GetPresence()
	if err := c.cfg.UpdatePresenceField(key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetPresence(prev)
		return fmt.Errorf("invalid value for %s: %v", key, result.Errors[0])
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventConfigChanged,
		Source: "cli",
		Payload: events.ConfigChangedPayload{
			Section: "presence",
			Key:     key,
			Value:   value,
		},
	})
	log.Info().Str("key", key).Msg("CLI: presence setting updated")
	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
