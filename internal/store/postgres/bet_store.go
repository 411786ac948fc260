package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betDetailFrom = `
	FROM bets b
	JOIN options o ON o.id = b.option_id
	JOIN events e ON e.id = o.event_id
	JOIN users u ON u.id = b.user_id`

const betDetailCols = betCols + `,
	o.id, o.event_id, o.range_label, o.range_min::text, o.range_max::text,
	o.sub_mode, o.odds::text, o.total_exposure::text, o.is_winner, o.verdict,
	u.username, e.indicator_name, e.status`

// ListByUser returns a user's bets, newest first.
func (s *BetStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BetDetail, error) {
	query := `SELECT ` + betDetailCols + betDetailFrom + ` WHERE b.user_id = $1`
	args := []any{userID}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND b.created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND b.created_at <= $%d", len(args))
	}
	query, args = paginate(query+" ORDER BY b.created_at DESC, b.id DESC", args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets of %s: %w", userID, err)
	}
	out, err := scanBetDetails(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets of %s: %w", userID, err)
	}
	return out, nil
}

// ListByOptions returns the bets on any of the given options.
func (s *BetStore) ListByOptions(ctx context.Context, optionIDs []string) ([]domain.BetDetail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betDetailCols+betDetailFrom+`
		 WHERE b.option_id = ANY($1)
		 ORDER BY b.created_at, b.id`, optionIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets by options: %w", err)
	}
	out, err := scanBetDetails(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets by options: %w", err)
	}
	return out, nil
}

func scanBetDetails(rows pgx.Rows) ([]domain.BetDetail, error) {
	defer rows.Close()
	var out []domain.BetDetail
	for rows.Next() {
		var (
			d            domain.BetDetail
			lo, hi, odds *string
			subMode      string
			exposure     string
			verdict      string
			status       string
		)
		b, err := scanBet(rows,
			&d.Option.ID, &d.Option.EventID, &d.Option.RangeLabel, &lo, &hi,
			&subMode, &odds, &exposure, &d.Option.IsWinner, &verdict,
			&d.Username, &d.IndicatorName, &status,
		)
		if err != nil {
			return nil, err
		}
		d.Bet = b
		d.Option.SubMode = domain.SubMode(subMode)
		d.Option.Verdict = domain.Verdict(verdict)
		d.EventStatus = domain.EventStatus(status)
		if d.Option.RangeMin, err = parseNullDec(lo); err != nil {
			return nil, err
		}
		if d.Option.RangeMax, err = parseNullDec(hi); err != nil {
			return nil, err
		}
		if d.Option.Odds, err = parseNullDec(odds); err != nil {
			return nil, err
		}
		if d.Option.TotalExposure, err = parseDec(exposure); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ domain.BetStore = (*BetStore)(nil)
