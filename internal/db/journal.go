package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rift-companion/companion/internal/events"
)

// Session event kinds.
const (
	SessionConnected    = "connected"
	SessionDisconnected = "disconnected"
)

const defaultHistoryLimit = 100

// FriendRecord is one observed friend presence change.
type FriendRecord struct {
	PUUID      string `json:"puuid"`
	Show       string `json:"show"`
	HasPayload bool   `json:"has_payload"`
	ObservedAt int64  `json:"observed_at"`
}

// BroadcastRecord is one forged presence write.
type BroadcastRecord struct {
	Show   string `json:"show"`
	Tier   string `json:"tier"`
	XMLLen int    `json:"xml_len"`
	SentAt int64  `json:"sent_at"`
}

// SessionRecord is one session transition.
type SessionRecord struct {
	Kind       string `json:"kind"`
	Detail     string `json:"detail"`
	OccurredAt int64  `json:"occurred_at"`
}

// Journal records presence activity published on the event bus.
type Journal struct {
	db     *Database
	logger zerolog.Logger
	now    func() time.Time
}

// OpenJournal opens the journal database at path.
func OpenJournal(ctx context.Context, path string, logger zerolog.Logger) (*Journal, error) {
	database, err := NewDatabase(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: database, logger: logger, now: time.Now}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Attach subscribes the journal to the bus events it records.
func (j *Journal) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventFriendPresence, "journal.friend", j.onFriendPresence)
	bus.Subscribe(events.EventFakePresenceSent, "journal.broadcast", j.onBroadcast)
	bus.Subscribe(events.EventSessionConnected, "journal.connected", j.onSessionConnected)
	bus.Subscribe(events.EventSessionDisconnected, "journal.disconnected", j.onSessionDisconnected)
}

func (j *Journal) onFriendPresence(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.FriendPresencePayload)
	if !ok {
		return nil
	}
	return j.RecordFriendPresence(ctx, FriendRecord{
		PUUID:      p.PUUID,
		Show:       p.Show,
		HasPayload: p.HasPayload,
		ObservedAt: p.LastUpdated,
	})
}

func (j *Journal) onBroadcast(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.FakePresencePayload)
	if !ok {
		return nil
	}
	return j.RecordBroadcast(ctx, BroadcastRecord{
		Show:   p.Show,
		Tier:   p.Tier,
		XMLLen: p.Length,
		SentAt: j.now().UnixMilli(),
	})
}

func (j *Journal) onSessionConnected(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.SessionConnectedPayload)
	if !ok {
		return nil
	}
	return j.RecordSession(ctx, SessionConnected, p.JID)
}

func (j *Journal) onSessionDisconnected(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.SessionDisconnectedPayload)
	if !ok {
		return nil
	}
	return j.RecordSession(ctx, SessionDisconnected, p.Reason)
}

// RecordFriendPresence appends a friend presence observation.
func (j *Journal) RecordFriendPresence(ctx context.Context, r FriendRecord) error {
	if r.ObservedAt == 0 {
		r.ObservedAt = j.now().UnixMilli()
	}
	_, err := j.db.Exec(ctx,
		"INSERT INTO friend_presence (puuid, show, has_payload, observed_at) VALUES (?, ?, ?, ?)",
		r.PUUID, r.Show, r.HasPayload, r.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to record friend presence: %w", err)
	}
	return nil
}

// RecordBroadcast appends a forged presence write.
func (j *Journal) RecordBroadcast(ctx context.Context, r BroadcastRecord) error {
	if r.SentAt == 0 {
		r.SentAt = j.now().UnixMilli()
	}
	_, err := j.db.Exec(ctx,
		"INSERT INTO broadcasts (show, tier, xml_len, sent_at) VALUES (?, ?, ?, ?)",
		r.Show, r.Tier, r.XMLLen, r.SentAt)
	if err != nil {
		return fmt.Errorf("failed to record broadcast: %w", err)
	}
	return nil
}

// RecordSession appends a session transition.
func (j *Journal) RecordSession(ctx context.Context, kind, detail string) error {
	_, err := j.db.Exec(ctx,
		"INSERT INTO session_events (kind, detail, occurred_at) VALUES (?, ?, ?)",
		kind, detail, j.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record session event: %w", err)
	}
	return nil
}

// FriendHistory returns the newest observations first. An empty puuid
// returns every friend.
func (j *Journal) FriendHistory(ctx context.Context, puuid string, limit int) ([]FriendRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := "SELECT puuid, show, has_payload, observed_at FROM friend_presence"
	args := []any{}
	if puuid != "" {
		query += " WHERE puuid = ?"
		args = append(args, puuid)
	}
	query += " ORDER BY observed_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query friend history: %w", err)
	}
	defer rows.Close()

	out := []FriendRecord{}
	for rows.Next() {
		var r FriendRecord
		if err := rows.Scan(&r.PUUID, &r.Show, &r.HasPayload, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan friend history: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Broadcasts returns the newest forged presence writes first.
func (j *Journal) Broadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := j.db.Query(ctx,
		"SELECT show, tier, xml_len, sent_at FROM broadcasts ORDER BY sent_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query broadcasts: %w", err)
	}
	defer rows.Close()

	out := []BroadcastRecord{}
	for rows.Next() {
		var r BroadcastRecord
		if err := rows.Scan(&r.Show, &r.Tier, &r.XMLLen, &r.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sessions returns the newest session transitions first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := j.db.Query(ctx,
		"SELECT kind, detail, occurred_at FROM session_events ORDER BY occurred_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.Kind, &r.Detail, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes every row older than before and returns how many went.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	var total int64

	err := j.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM friend_presence WHERE observed_at < ?",
			"DELETE FROM broadcasts WHERE sent_at < ?",
			"DELETE FROM session_events WHERE occurred_at < ?",
		} {
			res, err := tx.ExecContext(ctx, stmt, cutoff)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}

	if total > 0 {
		j.logger.Info().Int64("rows", total).Time("before", before).Msg("journal pruned")
	}
	return total, nil
}
