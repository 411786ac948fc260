// Package settlement finalises events: it snapshots prices, judges every
// option and commits bet outcomes and balance credits in one transaction.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/judge"
	"github.com/alanyoungcy/macrobet/internal/lifecycle"
	"github.com/alanyoungcy/macrobet/internal/odds"
	"github.com/alanyoungcy/macrobet/internal/scheduler"
	"github.com/shopspring/decimal"
)

// errSkip aborts a transaction whose work another delivery already did.
var errSkip = errors.New("settlement: nothing to do")

// errBettorsChanged aborts a commit that found bets from users it had not
// locked. It stays a conflict so an exhausted retry is redelivered.
var errBettorsChanged = fmt.Errorf("settlement: bettors changed while locking: %w", domain.ErrConflict)

const maxCommitAttempts = 3

// Config tunes the executor.
type Config struct {
	Rules judge.Rules
	// SettleOffset is the SHOCKWAVE settle stage offset from release.
	SettleOffset time.Duration
	Price        PriceWindow
	// LockTTL bounds the cross-process settle lock.
	LockTTL time.Duration
}

// Executor settles events.
type Executor struct {
	events  domain.EventStore
	ledger  domain.Ledger
	oracle  domain.PriceOracle
	calc    odds.Calculator
	cfg     Config
	locks   domain.LockManager
	audit   domain.AuditStore
	bus     domain.SignalBus
	archive domain.ReportArchive
	alerter domain.Alerter
	values  domain.IndicatorSource
	now     func() time.Time
	logger  *slog.Logger
}

// NewExecutor creates an Executor with its required dependencies.
func NewExecutor(
	events domain.EventStore,
	ledger domain.Ledger,
	oracle domain.PriceOracle,
	calc odds.Calculator,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		events: events,
		ledger: ledger,
		oracle: oracle,
		calc:   calc,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "settlement")),
	}
}

// WithLocks guards concurrent runs for the same event across processes.
func (e *Executor) WithLocks(l domain.LockManager) *Executor { e.locks = l; return e }

// WithAudit writes an audit row per settlement.
func (e *Executor) WithAudit(a domain.AuditStore) *Executor { e.audit = a; return e }

// WithBus publishes each report on the settlement channel.
func (e *Executor) WithBus(b domain.SignalBus) *Executor { e.bus = b; return e }

// WithArchive stores each report in object storage.
func (e *Executor) WithArchive(a domain.ReportArchive) *Executor { e.archive = a; return e }

// WithAlerter sends operator alerts for events that cannot be judged.
func (e *Executor) WithAlerter(a domain.Alerter) *Executor { e.alerter = a; return e }

// WithIndicators fetches the actual value when no operator has posted one.
func (e *Executor) WithIndicators(src domain.IndicatorSource) *Executor { e.values = src; return e }

// SetClock replaces the time source.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// Handle is the process-settlement job handler.
func (e *Executor) Handle(ctx context.Context, job domain.Job) error {
	_, err := e.Settle(ctx, job.EventID)
	return err
}

// Settle finalises one event. Settling an already SETTLED event is a no-op
// that returns a nil report. If no winner can be determined the event is
// left in SETTLING and a permanent error is returned.
func (e *Executor) Settle(ctx context.Context, eventID string) (*domain.SettlementReport, error) {
	log := e.logger.With(slog.String("event_id", eventID))

	ev, err := e.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, scheduler.Permanent(fmt.Errorf("settlement: event %s: %w", eventID, err))
		}
		return nil, fmt.Errorf("settlement: load event %s: %w", eventID, err)
	}
	if ev.Status == domain.StatusSettled {
		log.WarnContext(ctx, "event already settled, skipping")
		return nil, nil
	}
	if ev.Status == domain.StatusCancelled {
		log.WarnContext(ctx, "event cancelled, skipping settlement")
		return nil, nil
	}

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "settle:"+eventID, e.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("settlement: lock event %s: %w", eventID, err)
		}
		defer unlock()
	}

	if err := e.capture(ctx, &ev); err != nil {
		return nil, err
	}
	if err := e.enterSettling(ctx, ev); err != nil {
		if errors.Is(err, errSkip) {
			log.WarnContext(ctx, "event settled concurrently, skipping")
			return nil, nil
		}
		return nil, err
	}

	report, err := e.commit(ctx, ev)
	for attempt := 1; errors.Is(err, errBettorsChanged) && attempt < maxCommitAttempts; attempt++ {
		log.InfoContext(ctx, "bets landed while locking, retrying commit", slog.Int("attempt", attempt))
		report, err = e.commit(ctx, ev)
	}
	switch {
	case errors.Is(err, errSkip):
		log.WarnContext(ctx, "event settled concurrently, skipping")
		return nil, nil
	case errors.Is(err, domain.ErrNoWinningOption), errors.Is(err, domain.ErrAmbiguousWinner):
		log.ErrorContext(ctx, "cannot determine winner, event left in SETTLING",
			slog.String("error", err.Error()),
		)
		e.alert(ctx, domain.Alert{
			Kind:    domain.AlertJudgeIndeterminate,
			EventID: eventID,
			Title:   "Settlement needs an operator",
			Message: fmt.Sprintf("%s (%s): %v", ev.IndicatorName, eventID, err),
		})
		return nil, scheduler.Permanent(err)
	case err != nil:
		return nil, err
	}

	log.InfoContext(ctx, "event settled",
		slog.Int("won", report.BetsWon),
		slog.Int("lost", report.BetsLost),
		slog.Int("refunded", report.BetsRefunded),
		slog.String("paid", report.TotalPaid.String()),
		slog.String("refunded_amount", report.TotalRefunded.String()),
	)
	e.publish(ctx, *report)
	return report, nil
}

// capture fills in the prices the event still lacks. It runs before any
// transaction; prices already persisted by an earlier attempt are reused.
func (e *Executor) capture(ctx context.Context, ev *domain.Event) error {
	if hasSubMode(ev.Options, domain.SubModeDataSniper) && !ev.ActualValue.Valid {
		if e.values == nil {
			return fmt.Errorf("settlement: event %s: %w", ev.ID, domain.ErrActualValueMissing)
		}
		v, err := e.values.ActualValue(ctx, *ev)
		if err != nil {
			return fmt.Errorf("settlement: actual value for %s: %w", ev.ID, err)
		}
		ev.ActualValue = decimal.NewNullDecimal(v)
	}

	switch ev.EventType {
	case domain.EventTypeShockwave:
		if !ev.BasePrice.Valid {
			return fmt.Errorf("settlement: event %s has no base price (status %s): %w", ev.ID, ev.Status, domain.ErrStageNotReady)
		}
		if !ev.SettlePrice.Valid {
			p, err := e.cfg.Price.Capture(ctx, e.oracle, ev.Asset, ev.ReleaseTime.Add(e.cfg.SettleOffset))
			if err != nil {
				return err
			}
			ev.SettlePrice = decimal.NewNullDecimal(p)
		}
	case domain.EventTypeRegular:
		if !ev.BasePrice.Valid {
			p, err := e.cfg.Price.Capture(ctx, e.oracle, ev.Asset, ev.ReleaseTime)
			if err != nil {
				return err
			}
			ev.BasePrice = decimal.NewNullDecimal(p)
		}
		if !ev.SettlePrice.Valid {
			p, err := e.cfg.Price.Capture(ctx, e.oracle, ev.Asset, ev.ReleaseTime.Add(ev.SettlementWindow.Duration()))
			if err != nil {
				return err
			}
			ev.SettlePrice = decimal.NewNullDecimal(p)
		}
	}
	return nil
}

// enterSettling persists the captured prices and moves the event to
// SETTLING, so a stuck settlement is visible in the event's status.
func (e *Executor) enterSettling(ctx context.Context, snap domain.Event) error {
	return e.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		cur, err := tx.EventForUpdate(ctx, snap.ID)
		if err != nil {
			return fmt.Errorf("settlement: lock event %s: %w", snap.ID, err)
		}
		if cur.Status.Terminal() {
			return errSkip
		}
		changed := false
		if !cur.BasePrice.Valid && snap.BasePrice.Valid {
			cur.BasePrice = snap.BasePrice
			changed = true
		}
		if !cur.SettlePrice.Valid && snap.SettlePrice.Valid {
			cur.SettlePrice = snap.SettlePrice
			changed = true
		}
		// A value posted by an operator meanwhile wins over a fetched one.
		if !cur.ActualValue.Valid && snap.ActualValue.Valid {
			cur.ActualValue = snap.ActualValue
			changed = true
		}
		if cur.Status != domain.StatusSettling {
			if err := lifecycle.Apply(&cur, domain.StatusSettling, e.now()); err != nil {
				return fmt.Errorf("settlement: event %s: %w", snap.ID, err)
			}
			changed = true
		}
		if !changed {
			return nil
		}
		return tx.UpdateEvent(ctx, cur)
	})
}

// commit judges the event and applies every bet outcome atomically. Locks
// are taken users first, then options, then the event.
func (e *Executor) commit(ctx context.Context, ev domain.Event) (*domain.SettlementReport, error) {
	var report *domain.SettlementReport
	err := e.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		optionIDs := ev.OptionIDs()
		bets, err := tx.BetsByOptions(ctx, optionIDs)
		if err != nil {
			return fmt.Errorf("settlement: load bets: %w", err)
		}
		users, err := tx.UsersForUpdate(ctx, userIDs(bets, nil))
		if err != nil {
			return fmt.Errorf("settlement: lock users: %w", err)
		}
		options, err := tx.OptionsForUpdate(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("settlement: lock options: %w", err)
		}
		// No bet can be placed once options are locked; pick up any that
		// landed in between. Their users cannot be locked now without
		// breaking the lock order, so a new bettor restarts the attempt.
		bets, err = tx.BetsByOptions(ctx, optionIDs)
		if err != nil {
			return fmt.Errorf("settlement: reload bets: %w", err)
		}
		if missing := userIDs(bets, users); len(missing) > 0 {
			return fmt.Errorf("settlement: %d new bettor(s) on event %s: %w", len(missing), ev.ID, errBettorsChanged)
		}

		cur, err := tx.EventForUpdate(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("settlement: lock event: %w", err)
		}
		if cur.Status.Terminal() {
			return errSkip
		}
		if cur.Status != domain.StatusSettling {
			return fmt.Errorf("settlement: event %s is %s: %w", ev.ID, cur.Status, domain.ErrIllegalTransition)
		}

		snap, err := judgeSnapshot(cur)
		if err != nil {
			return err
		}
		decisions, err := judge.Judge(e.cfg.Rules, options, snap)
		if err != nil {
			return fmt.Errorf("settlement: event %s: %w", ev.ID, err)
		}
		verdicts := make(map[string]domain.Verdict, len(decisions))
		for _, d := range decisions {
			verdicts[d.OptionID] = d.Verdict
		}
		byID := make(map[string]domain.Option, len(options))
		for i := range options {
			options[i].Verdict = verdicts[options[i].ID]
			options[i].IsWinner = options[i].Verdict == domain.VerdictWin
			byID[options[i].ID] = options[i]
		}

		now := e.now()
		markets := e.price(options)
		credited := make(map[string]bool)
		var won, lost, refunded int
		for _, b := range bets {
			if b.Status != domain.BetPending {
				continue
			}
			opt := byID[b.OptionID]
			mr := markets[opt.Market()]
			var kind domain.LedgerKind
			switch opt.Verdict {
			case domain.VerdictRefund:
				b.Status = domain.BetRefunded
				b.Payout = b.Amount
				kind = domain.LedgerRefund
				mr.Refunded = mr.Refunded.Add(b.Payout)
				refunded++
			case domain.VerdictWin:
				if opt.Market().FixedOdds() {
					if b.PayoutOdds.IsZero() && opt.Odds.Valid {
						b.PayoutOdds = opt.Odds.Decimal
					}
				} else {
					b.PayoutOdds = mr.FinalOdds
				}
				b.Status = domain.BetWon
				b.Payout = domain.TruncAmount(b.Amount.Mul(b.PayoutOdds))
				kind = domain.LedgerPayout
				mr.Paid = mr.Paid.Add(b.Payout)
				won++
			default:
				b.Status = domain.BetLost
				b.Payout = decimal.Zero
				lost++
			}
			settledAt := now
			b.SettledAt = &settledAt
			if err := tx.UpdateBet(ctx, b); err != nil {
				return fmt.Errorf("settlement: update bet %s: %w", b.ID, err)
			}
			markets[opt.Market()] = mr

			if b.Payout.IsPositive() {
				u := users[b.UserID]
				u.Balance = u.Balance.Add(b.Payout)
				users[b.UserID] = u
				credited[b.UserID] = true
				if err := tx.AppendLedger(ctx, domain.LedgerEntry{
					ID:           b.ID + ":" + string(kind),
					UserID:       b.UserID,
					BetID:        b.ID,
					Kind:         kind,
					Amount:       b.Payout,
					BalanceAfter: u.Balance,
					CreatedAt:    now,
				}); err != nil {
					return fmt.Errorf("settlement: ledger entry for bet %s: %w", b.ID, err)
				}
			}
		}

		ids := make([]string, 0, len(credited))
		for id := range credited {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := tx.UpdateBalance(ctx, id, users[id].Balance); err != nil {
				return fmt.Errorf("settlement: credit user %s: %w", id, err)
			}
		}
		for _, o := range options {
			if err := tx.UpdateOption(ctx, o); err != nil {
				return fmt.Errorf("settlement: update option %s: %w", o.ID, err)
			}
		}
		if err := lifecycle.Apply(&cur, domain.StatusSettled, now); err != nil {
			return fmt.Errorf("settlement: event %s: %w", ev.ID, err)
		}
		if err := tx.UpdateEvent(ctx, cur); err != nil {
			return fmt.Errorf("settlement: update event %s: %w", ev.ID, err)
		}

		report = e.buildReport(cur, snap, options, markets)
		report.BetsWon, report.BetsLost, report.BetsRefunded = won, lost, refunded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// price computes each pool's binding multiplier over its winning subset.
func (e *Executor) price(options []domain.Option) map[domain.SubMode]domain.MarketResult {
	out := make(map[domain.SubMode]domain.MarketResult)
	for m, pool := range odds.GroupByMarket(options) {
		total := odds.TotalExposure(pool)
		winners := decimal.Zero
		results := make([]domain.OptionResult, 0, len(pool))
		for _, o := range pool {
			if o.Verdict == domain.VerdictWin {
				winners = winners.Add(o.TotalExposure)
			}
			results = append(results, domain.OptionResult{
				OptionID: o.ID,
				Label:    o.RangeLabel,
				Verdict:  o.Verdict,
				Exposure: o.TotalExposure,
			})
		}
		mr := domain.MarketResult{
			Market:         m,
			TotalExposure:  total,
			NetPool:        domain.TruncAmount(e.calc.NetPool(total)),
			WinnerExposure: winners,
			FinalOdds:      decimal.Zero,
			Paid:           decimal.Zero,
			Refunded:       decimal.Zero,
			Options:        results,
		}
		if !m.FixedOdds() && !total.IsZero() {
			mr.FinalOdds = e.calc.FinalOdds(total, winners)
		}
		out[m] = mr
	}
	return out
}

func (e *Executor) buildReport(ev domain.Event, snap judge.Snapshot, options []domain.Option, markets map[domain.SubMode]domain.MarketResult) *domain.SettlementReport {
	r := &domain.SettlementReport{
		EventID:       ev.ID,
		IndicatorName: ev.IndicatorName,
		EventType:     ev.EventType,
		Asset:         ev.Asset,
		ReleaseTime:   ev.ReleaseTime,
		ExpectedValue: ev.ExpectedValue,
		ActualValue:   ev.ActualValue,
		BasePrice:     ev.BasePrice,
		SettlePrice:   ev.SettlePrice,
		Delta:         snap.Delta,
		HouseFee:      e.calc.HouseFee(),
		TotalPaid:     decimal.Zero,
		TotalRefunded: decimal.Zero,
	}
	if ev.SettledAt != nil {
		r.SettledAt = *ev.SettledAt
	}
	keys := make([]domain.SubMode, 0, len(markets))
	for m := range markets {
		keys = append(keys, m)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, m := range keys {
		mr := markets[m]
		r.Markets = append(r.Markets, mr)
		r.TotalPaid = r.TotalPaid.Add(mr.Paid)
		r.TotalRefunded = r.TotalRefunded.Add(mr.Refunded)
	}
	return r
}

// publish runs the post-commit side effects. None of them can undo the
// settlement, so failures are logged and dropped.
func (e *Executor) publish(ctx context.Context, r domain.SettlementReport) {
	log := e.logger.With(slog.String("event_id", r.EventID))
	if e.audit != nil {
		if err := e.audit.Log(ctx, "event_settled", map[string]any{
			"event_id":       r.EventID,
			"bets_won":       r.BetsWon,
			"bets_lost":      r.BetsLost,
			"bets_refunded":  r.BetsRefunded,
			"total_paid":     r.TotalPaid.String(),
			"total_refunded": r.TotalRefunded.String(),
		}); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if e.bus != nil {
		if payload, err := json.Marshal(r); err == nil {
			if err := e.bus.Publish(ctx, domain.ChannelSettlement, payload); err != nil {
				log.WarnContext(ctx, "publish settlement failed", slog.String("error", err.Error()))
			}
		}
	}
	if e.archive != nil {
		if err := e.archive.Save(ctx, r); err != nil {
			log.WarnContext(ctx, "archive report failed", slog.String("error", err.Error()))
		}
	}
	e.alert(ctx, domain.Alert{
		Kind:    domain.AlertEventSettled,
		EventID: r.EventID,
		Title:   "Event settled",
		Message: fmt.Sprintf("%s: %d won, %d lost, %d refunded, paid %s",
			r.IndicatorName, r.BetsWon, r.BetsLost, r.BetsRefunded, r.TotalPaid.StringFixed(2)),
	})
}

func (e *Executor) alert(ctx context.Context, a domain.Alert) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Alert(ctx, a); err != nil {
		e.logger.WarnContext(ctx, "alert failed",
			slog.String("kind", string(a.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// userIDs returns the sorted distinct owners of bets not already in have.
func userIDs(bets []domain.Bet, have map[string]domain.User) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, b := range bets {
		if seen[b.UserID] {
			continue
		}
		seen[b.UserID] = true
		if _, ok := have[b.UserID]; ok {
			continue
		}
		ids = append(ids, b.UserID)
	}
	sort.Strings(ids)
	return ids
}
