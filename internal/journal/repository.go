// Package journal stores probe events in SQLite for the history command.
//
// Only event metadata is kept: topic, QoS, message id, payload size,
// return code and latency. Message payloads are never written.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a journal event.
type Kind string

// Event kinds.
const (
	KindConnect Kind = "connect"
	KindPublish Kind = "publish"
	KindMessage Kind = "message"
	KindError   Kind = "error"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConnect, KindPublish, KindMessage, KindError:
		return true
	}
	return false
}

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout is fixed width so occurred_at sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// ErrInvalidEvent is returned by Record for events missing required fields.
var ErrInvalidEvent = errors.New("journal: invalid event")

// Event is one journal row.
type Event struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	Kind        Kind          `json:"kind"`
	ClientID    string        `json:"client_id"`
	Broker      string        `json:"broker,omitempty"`
	Topic       string        `json:"topic,omitempty"`
	QoS         byte          `json:"qos"`
	Retained    bool          `json:"retained,omitempty"`
	MessageID   uint16        `json:"message_id,omitempty"`
	PayloadSize int           `json:"payload_size"`
	ReturnCode  *byte         `json:"return_code,omitempty"`
	Latency     time.Duration `json:"latency"`
	Detail      string        `json:"detail,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// Filter controls which events List returns.
type Filter struct {
	RunID  string // optional
	Kind   Kind   // optional
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult is one page of events, most recent first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the journal operations.
type Repository interface {
	Record(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// Querier is the subset of *sql.DB (and database.DB) the repository uses.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepository reads and writes the journal_events table.
type SQLiteRepository struct {
	db Querier
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an event. ID and OccurredAt are generated when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Event) error {
	if e.RunID == "" || e.ClientID == "" || !e.Kind.Valid() {
		return fmt.Errorf("%w: run_id, client_id and a known kind are required", ErrInvalidEvent)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	var returnCode any
	if e.ReturnCode != nil {
		returnCode = int(*e.ReturnCode)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO journal_events
		 (id, run_id, kind, client_id, broker, topic, qos, retained, message_id,
		  payload_size, return_code, latency_us, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, string(e.Kind), e.ClientID, e.Broker, e.Topic,
		int(e.QoS), boolToInt(e.Retained), int(e.MessageID), e.PayloadSize,
		returnCode, e.Latency.Microseconds(), e.Detail,
		e.OccurredAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal event: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// List returns events matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM journal_events " + where //nolint:gosec // WHERE built from placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal events: %w", err)
	}

	query := `SELECT id, run_id, kind, client_id, broker, topic, qos, retained, message_id,
		payload_size, return_code, latency_us, detail, occurred_at
		FROM journal_events ` + where + ` ORDER BY occurred_at DESC, rowid DESC LIMIT ? OFFSET ?` //nolint:gosec // as above
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		e                        Event
		kind, occurredAt         string
		qos, retained, messageID int
		returnCode               sql.NullInt64
		latencyMicros            int64
	)
	if err := rows.Scan(&e.ID, &e.RunID, &kind, &e.ClientID, &e.Broker, &e.Topic,
		&qos, &retained, &messageID, &e.PayloadSize, &returnCode, &latencyMicros,
		&e.Detail, &occurredAt); err != nil {
		return Event{}, fmt.Errorf("scanning journal event: %w", err)
	}

	e.Kind = Kind(kind)
	e.QoS = byte(qos) //nolint:gosec // column holds 0-2
	e.Retained = retained != 0
	e.MessageID = uint16(messageID) //nolint:gosec // column holds a packet id
	e.Latency = time.Duration(latencyMicros) * time.Microsecond
	if returnCode.Valid {
		code := byte(returnCode.Int64) //nolint:gosec // CONNACK code
		e.ReturnCode = &code
	}

	t, err := time.Parse(timeLayout, occurredAt)
	if err != nil {
		return Event{}, fmt.Errorf("parsing journal timestamp %q: %w", occurredAt, err)
	}
	e.OccurredAt = t
	return e, nil
}
