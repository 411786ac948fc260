package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLSTATE codes mapped onto domain errors.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// mapError translates driver errors into domain sentinels, keeping the
// original error in the chain. Errors that are not from Postgres pass
// through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case codeCheckViolation:
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}

func decArg(d decimal.Decimal) string { return d.String() }

func nullDecArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseDec(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse numeric %q: %w", s, err)
	}
	return d, nil
}

func parseNullDec(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDec(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

const eventCols = `id, indicator_name, indicator_id, asset, release_time,
	expected_value::text, actual_value::text, event_type, settlement_window,
	status, base_price::text, settle_price::text, created_at, settled_at`

func scanEvent(row rowScanner) (domain.Event, error) {
	var (
		ev                   domain.Event
		expected             string
		actual, base, settle *string
		eventType, window    string
		status               string
	)
	if err := row.Scan(
		&ev.ID, &ev.IndicatorName, &ev.IndicatorID, &ev.Asset, &ev.ReleaseTime,
		&expected, &actual, &eventType, &window,
		&status, &base, &settle, &ev.CreatedAt, &ev.SettledAt,
	); err != nil {
		return domain.Event{}, err
	}
	ev.EventType = domain.EventType(eventType)
	ev.SettlementWindow = domain.SettlementWindow(window)
	ev.Status = domain.EventStatus(status)
	ev.ReleaseTime = ev.ReleaseTime.UTC()

	var err error
	if ev.ExpectedValue, err = parseDec(expected); err != nil {
		return domain.Event{}, err
	}
	if ev.ActualValue, err = parseNullDec(actual); err != nil {
		return domain.Event{}, err
	}
	if ev.BasePrice, err = parseNullDec(base); err != nil {
		return domain.Event{}, err
	}
	if ev.SettlePrice, err = parseNullDec(settle); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

const optionCols = `id, event_id, range_label, range_min::text, range_max::text,
	sub_mode, odds::text, total_exposure::text, is_winner, verdict`

func scanOption(row rowScanner) (domain.Option, error) {
	var (
		o            domain.Option
		lo, hi, odds *string
		subMode      string
		exposure     string
		verdict      string
	)
	if err := row.Scan(
		&o.ID, &o.EventID, &o.RangeLabel, &lo, &hi,
		&subMode, &odds, &exposure, &o.IsWinner, &verdict,
	); err != nil {
		return domain.Option{}, err
	}
	o.SubMode = domain.SubMode(subMode)
	o.Verdict = domain.Verdict(verdict)

	var err error
	if o.RangeMin, err = parseNullDec(lo); err != nil {
		return domain.Option{}, err
	}
	if o.RangeMax, err = parseNullDec(hi); err != nil {
		return domain.Option{}, err
	}
	if o.Odds, err = parseNullDec(odds); err != nil {
		return domain.Option{}, err
	}
	if o.TotalExposure, err = parseDec(exposure); err != nil {
		return domain.Option{}, err
	}
	return o, nil
}

func scanOptions(rows pgx.Rows) ([]domain.Option, error) {
	defer rows.Close()
	var out []domain.Option
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const betCols = `b.id, b.user_id, b.option_id, b.amount::text, b.payout_odds::text,
	b.payout::text, b.status, b.created_at, b.settled_at`

// scanBet reads betCols followed by any extra destinations.
func scanBet(row rowScanner, extra ...any) (domain.Bet, error) {
	var (
		b                    domain.Bet
		amount, odds, payout string
		status               string
		settledAt            *time.Time
	)
	dest := append([]any{
		&b.ID, &b.UserID, &b.OptionID, &amount, &odds,
		&payout, &status, &b.CreatedAt, &settledAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Bet{}, err
	}
	b.Status = domain.BetStatus(status)
	b.SettledAt = settledAt

	var err error
	if b.Amount, err = parseDec(amount); err != nil {
		return domain.Bet{}, err
	}
	if b.PayoutOdds, err = parseDec(odds); err != nil {
		return domain.Bet{}, err
	}
	if b.Payout, err = parseDec(payout); err != nil {
		return domain.Bet{}, err
	}
	return b, nil
}

const userCols = `id, username, balance::text, created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var balance string
	if err := row.Scan(&u.ID, &u.Username, &balance, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	var err error
	if u.Balance, err = parseDec(balance); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// paginate appends LIMIT and OFFSET placeholders after the existing args.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
