package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"23505", domain.ErrAlreadyExists},
		{"23503", domain.ErrNotFound},
		{"23514", domain.ErrInvalidInput},
		{"40001", domain.ErrConflict},
		{"40P01", domain.ErrConflict},
		{"55P03", domain.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			src := fmt.Errorf("exec: %w", &pgconn.PgError{Code: tt.code})
			got := mapError(src)
			assert.ErrorIs(t, got, tt.want)
			var pgErr *pgconn.PgError
			assert.True(t, errors.As(got, &pgErr), "driver error stays in chain")
		})
	}
}

func TestMapErrorPassThrough(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), domain.ErrNotFound)

	other := errors.New("boom")
	assert.Equal(t, other, mapError(other))
	assert.Equal(t, domain.ErrBettingClosed, mapError(domain.ErrBettingClosed))

	unknown := &pgconn.PgError{Code: "XX000"}
	assert.Equal(t, error(unknown), mapError(unknown))
}

func TestDecimalRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("12345.00000001")
	got, err := parseDec(decArg(d))
	require.NoError(t, err)
	assert.True(t, got.Equal(d))

	assert.Nil(t, nullDecArg(decimal.NullDecimal{}))
	n, err := parseNullDec(nil)
	require.NoError(t, err)
	assert.False(t, n.Valid)

	s := "0.95"
	n, err = parseNullDec(&s)
	require.NoError(t, err)
	assert.True(t, n.Valid)
	assert.True(t, n.Decimal.Equal(decimal.RequireFromString("0.95")))

	_, err = parseDec("abc")
	assert.Error(t, err)
}

type fakeRow struct{ vals []any }

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: %d dest for %d values", len(dest), len(r.vals))
	}
	for i, v := range r.vals {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case **string:
			if v == nil {
				*d = nil
			} else {
				s := v.(string)
				*d = &s
			}
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case **time.Time:
			if v == nil {
				*d = nil
			} else {
				tm := v.(time.Time)
				*d = &tm
			}
		default:
			return fmt.Errorf("scan: unsupported dest %T", dest[i])
		}
	}
	return nil
}

func TestScanEvent(t *testing.T) {
	release := time.Date(2026, 3, 12, 12, 30, 0, 0, time.UTC)
	row := fakeRow{vals: []any{
		"e1", "CPI", "", "BTC", release,
		"3.10000000", "2.9", "SHOCKWAVE", "",
		"LIVE", "95000.00000000", nil, release, nil,
	}}
	ev, err := scanEvent(row)
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeShockwave, ev.EventType)
	assert.Equal(t, domain.StatusLive, ev.Status)
	assert.True(t, ev.ExpectedValue.Equal(decimal.RequireFromString("3.1")))
	assert.True(t, ev.ActualValue.Valid)
	assert.True(t, ev.BasePrice.Decimal.Equal(decimal.NewFromInt(95000)))
	assert.False(t, ev.SettlePrice.Valid)
	assert.Nil(t, ev.SettledAt)
}

func TestScanOption(t *testing.T) {
	row := fakeRow{vals: []any{
		"o1", "e1", "97k-98k", "97000", "98000",
		"JACKPOT", "50.0000", "10.5", false, "",
	}}
	o, err := scanOption(row)
	require.NoError(t, err)
	assert.Equal(t, domain.SubModeJackpot, o.Market())
	assert.True(t, o.Odds.Decimal.Equal(decimal.NewFromInt(50)))
	assert.True(t, o.TotalExposure.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, domain.VerdictPending, o.Verdict)
}

func TestPaginate(t *testing.T) {
	q, args := paginate("SELECT 1 WHERE a = $1", []any{"x"}, domain.ListOpts{Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT 1 WHERE a = $1 LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{"x", 10, 20}, args)

	q, args = paginate("SELECT 1", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT 1", q)
	assert.Empty(t, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/macrobet?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "macrobet"}))
	assert.Equal(t, "postgres://override", DSN(ClientConfig{DSN: "postgres://override", Host: "ignored"}))
}
