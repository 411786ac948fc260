package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Ledger implements domain.Ledger with a READ COMMITTED transaction per
// unit of work. Row locks are taken with SELECT ... FOR UPDATE.
type Ledger struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewLedger creates a Ledger. A positive lockTimeout bounds every row lock
// wait; a timed-out wait surfaces as domain.ErrConflict.
func NewLedger(pool *pgxpool.Pool, lockTimeout time.Duration) *Ledger {
	return &Ledger{pool: pool, lockTimeout: lockTimeout}
}

// InTx runs fn in one transaction, rolling back on any error.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", mapError(err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if l.lockTimeout > 0 {
		ms := l.lockTimeout.Milliseconds()
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)); err != nil {
			return fmt.Errorf("postgres: set lock timeout: %w", err)
		}
	}

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", mapError(err))
	}
	committed = true
	return nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) CreateEvent(ctx context.Context, ev domain.Event) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO events (
			id, indicator_name, indicator_id, asset, release_time,
			expected_value, actual_value, event_type, settlement_window,
			status, base_price, settle_price, created_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, ev.IndicatorName, ev.IndicatorID, ev.Asset, ev.ReleaseTime,
		decArg(ev.ExpectedValue), nullDecArg(ev.ActualValue), string(ev.EventType), string(ev.SettlementWindow),
		string(ev.Status), nullDecArg(ev.BasePrice), nullDecArg(ev.SettlePrice), ev.CreatedAt, ev.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create event %s: %w", ev.ID, mapError(err))
	}

	batch := &pgx.Batch{}
	for _, o := range ev.Options {
		batch.Queue(`
			INSERT INTO options (
				id, event_id, range_label, range_min, range_max,
				sub_mode, odds, total_exposure, is_winner, verdict
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			o.ID, ev.ID, o.RangeLabel, nullDecArg(o.RangeMin), nullDecArg(o.RangeMax),
			string(o.SubMode), nullDecArg(o.Odds), decArg(o.TotalExposure), o.IsWinner, string(o.Verdict),
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: create options of %s: %w", ev.ID, mapError(err))
	}
	return nil
}

func (t *ledgerTx) Event(ctx context.Context, id string) (domain.Event, error) {
	ev, err := scanEvent(t.tx.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id = $1`, id))
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", id, mapError(err))
	}
	return ev, nil
}

func (t *ledgerTx) EventForUpdate(ctx context.Context, id string) (domain.Event, error) {
	ev, err := scanEvent(t.tx.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: lock event %s: %w", id, mapError(err))
	}
	return ev, nil
}

func (t *ledgerTx) UpdateEvent(ctx context.Context, ev domain.Event) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE events SET
			actual_value = $2, status = $3, base_price = $4,
			settle_price = $5, settled_at = $6
		WHERE id = $1`,
		ev.ID, nullDecArg(ev.ActualValue), string(ev.Status), nullDecArg(ev.BasePrice),
		nullDecArg(ev.SettlePrice), ev.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update event %s: %w", ev.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update event %s: %w", ev.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) OptionForUpdate(ctx context.Context, id string) (domain.Option, error) {
	o, err := scanOption(t.tx.QueryRow(ctx, `SELECT `+optionCols+` FROM options WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Option{}, fmt.Errorf("postgres: lock option %s: %w", id, mapError(err))
	}
	return o, nil
}

func (t *ledgerTx) OptionsForUpdate(ctx context.Context, eventID string) ([]domain.Option, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+optionCols+` FROM options WHERE event_id = $1 ORDER BY id FOR UPDATE`, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock options of %s: %w", eventID, mapError(err))
	}
	opts, err := scanOptions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock options of %s: %w", eventID, mapError(err))
	}
	return opts, nil
}

func (t *ledgerTx) UpdateOption(ctx context.Context, o domain.Option) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE options SET total_exposure = $2, is_winner = $3, verdict = $4
		WHERE id = $1`,
		o.ID, decArg(o.TotalExposure), o.IsWinner, string(o.Verdict),
	)
	if err != nil {
		return fmt.Errorf("postgres: update option %s: %w", o.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update option %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) UserForUpdate(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: lock user %s: %w", id, mapError(err))
	}
	return u, nil
}

func (t *ledgerTx) UsersForUpdate(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT `+userCols+` FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock users: %w", mapError(err))
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: lock users: %w", mapError(err))
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("postgres: lock user %s: %w", id, domain.ErrNotFound)
		}
	}
	return out, nil
}

func (t *ledgerTx) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, userID, decArg(balance))
	if err != nil {
		return fmt.Errorf("postgres: update balance %s: %w", userID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update balance %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) CreateBet(ctx context.Context, b domain.Bet) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bets (id, user_id, option_id, amount, payout_odds, payout, status, created_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.UserID, b.OptionID, decArg(b.Amount), decArg(b.PayoutOdds), decArg(b.Payout),
		string(b.Status), b.CreatedAt, b.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bet %s: %w", b.ID, mapError(err))
	}
	return nil
}

func (t *ledgerTx) BetsByOptions(ctx context.Context, optionIDs []string) ([]domain.Bet, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+betCols+` FROM bets b WHERE b.option_id = ANY($1) ORDER BY b.created_at, b.id`, optionIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: bets by options: %w", mapError(err))
	}
	defer rows.Close()
	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *ledgerTx) UpdateBet(ctx context.Context, b domain.Bet) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bets SET payout_odds = $2, payout = $3, status = $4, settled_at = $5
		WHERE id = $1`,
		b.ID, decArg(b.PayoutOdds), decArg(b.Payout), string(b.Status), b.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bet %s: %w", b.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update bet %s: %w", b.ID, domain.ErrNotFound)
	}
	return nil
}

// AppendLedger is idempotent on the entry id.
func (t *ledgerTx) AppendLedger(ctx context.Context, e domain.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, bet_id, kind, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, e.BetID, string(e.Kind), decArg(e.Amount), decArg(e.BalanceAfter), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append ledger %s: %w", e.ID, mapError(err))
	}
	return nil
}

var (
	_ domain.Ledger   = (*Ledger)(nil)
	_ domain.LedgerTx = (*ledgerTx)(nil)
)
