package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// GetByID returns the event with its options.
func (s *EventStore) GetByID(ctx context.Context, id string) (domain.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id = $1`, id))
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", id, mapError(err))
	}
	rows, err := s.pool.Query(ctx, `SELECT `+optionCols+` FROM options WHERE event_id = $1 ORDER BY id`, id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: list options of %s: %w", id, err)
	}
	if ev.Options, err = scanOptions(rows); err != nil {
		return domain.Event{}, fmt.Errorf("postgres: scan options of %s: %w", id, err)
	}
	return ev, nil
}

// ListUpcoming returns UPCOMING and BETTING events, soonest first.
func (s *EventStore) ListUpcoming(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := paginate(
		`SELECT `+eventCols+` FROM events
		 WHERE status IN ('UPCOMING', 'BETTING')
		 ORDER BY release_time, id`, nil, opts)
	evs, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list upcoming events: %w", err)
	}
	if err := s.attachOptions(ctx, evs); err != nil {
		return nil, err
	}
	return evs, nil
}

// ListUnsettled returns non-terminal events released before the cutoff.
// Options are not loaded.
func (s *EventStore) ListUnsettled(ctx context.Context, releasedBefore time.Time) ([]domain.Event, error) {
	evs, err := s.list(ctx,
		`SELECT `+eventCols+` FROM events
		 WHERE status NOT IN ('SETTLED', 'CANCELLED') AND release_time < $1
		 ORDER BY release_time`, releasedBefore)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled events: %w", err)
	}
	return evs, nil
}

func (s *EventStore) list(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *EventStore) attachOptions(ctx context.Context, evs []domain.Event) error {
	if len(evs) == 0 {
		return nil
	}
	ids := make([]string, len(evs))
	index := make(map[string]int, len(evs))
	for i, ev := range evs {
		ids[i] = ev.ID
		index[ev.ID] = i
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+optionCols+` FROM options WHERE event_id = ANY($1) ORDER BY event_id, id`, ids)
	if err != nil {
		return fmt.Errorf("postgres: list options: %w", err)
	}
	opts, err := scanOptions(rows)
	if err != nil {
		return fmt.Errorf("postgres: scan options: %w", err)
	}
	for _, o := range opts {
		i := index[o.EventID]
		evs[i].Options = append(evs[i].Options, o)
	}
	return nil
}

var _ domain.EventStore = (*EventStore)(nil)
