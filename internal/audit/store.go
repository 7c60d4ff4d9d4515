package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/userhub/userhub/internal/platform/database"
)

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

const insertColumns = 8

// buildBatchInsert constructs a multi-row INSERT statement.
func buildBatchInsert(events []Event) (string, []any, error) {
	const cols = "(actor_id, action, policy, outcome, reason, resource, metadata, source)"
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*insertColumns)

	for i, e := range events {
		marks := make([]string, insertColumns)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", i*insertColumns+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")

		var metaJSON []byte
		if e.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling metadata: %w", err)
			}
		}

		source := e.Source
		if source == "" {
			source = SourceAPI
		}

		args = append(args,
			nullable(e.ActorID), e.Action, nullable(e.Policy), nullable(e.Outcome),
			nullable(e.Reason), nullable(e.Resource), metaJSON, source,
		)
	}

	sql := fmt.Sprintf("INSERT INTO audit_events %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StoredEvent is an audit event as read back from the database.
type StoredEvent struct {
	ID        string          `json:"id"`
	ActorID   *string         `json:"actor_id"`
	Action    string          `json:"action"`
	Policy    *string         `json:"policy,omitempty"`
	Outcome   *string         `json:"outcome,omitempty"`
	Reason    *string         `json:"reason,omitempty"`
	Resource  *string         `json:"resource,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListEventsParams defines filters for querying audit events.
type ListEventsParams struct {
	Action  *string
	ActorID *string
	Source  *string
	After   *time.Time
	Before  *time.Time
	Limit   int
}

// List returns events matching p, newest first.
func (s *Store) List(ctx context.Context, db database.Querier, p ListEventsParams) ([]StoredEvent, error) {
	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	events := []StoredEvent{}
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Policy, &e.Outcome, &e.Reason,
			&e.Resource, &e.Metadata, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}

// buildListQuery constructs a parameterized SELECT for audit events.
func buildListQuery(p ListEventsParams) (string, []any) {
	var conditions []string
	var args []any

	add := func(clause string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if p.Action != nil {
		add("action = $%d", *p.Action)
	}
	if p.ActorID != nil {
		add("actor_id = $%d", *p.ActorID)
	}
	if p.Source != nil {
		add("source = $%d", *p.Source)
	}
	if p.After != nil {
		add("created_at > $%d", *p.After)
	}
	if p.Before != nil {
		add("created_at < $%d", *p.Before)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, p.Limit)
	sql := fmt.Sprintf(
		`SELECT id::text, actor_id, action, policy, outcome, reason, resource, metadata, source, created_at
		FROM audit_events
		%s
		ORDER BY created_at DESC
		LIMIT $%d`,
		where, len(args),
	)

	return sql, args
}
