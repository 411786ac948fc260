// Package memory is an in-process implementation of the ledger and read
// stores. Transactions are serialised by one mutex and run against a copy
// of the state that replaces the original only on commit, so a failed unit
// of work leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/shopspring/decimal"
)

type state struct {
	events       map[string]domain.Event
	options      map[string]domain.Option
	eventOptions map[string][]string
	users        map[string]domain.User
	bets         map[string]domain.Bet
	ledger       []domain.LedgerEntry
}

func newState() *state {
	return &state{
		events:       map[string]domain.Event{},
		options:      map[string]domain.Option{},
		eventOptions: map[string][]string{},
		users:        map[string]domain.User{},
		bets:         map[string]domain.Bet{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.options {
		c.options[k] = v
	}
	for k, v := range s.eventOptions {
		c.eventOptions[k] = append([]string(nil), v...)
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.bets {
		c.bets[k] = v
	}
	c.ledger = append([]domain.LedgerEntry(nil), s.ledger...)
	return c
}

func (s *state) eventWithOptions(id string) (domain.Event, bool) {
	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, false
	}
	ev.Options = make([]domain.Option, 0, len(s.eventOptions[id]))
	for _, oid := range s.eventOptions[id] {
		ev.Options = append(ev.Options, s.options[oid])
	}
	return ev, true
}

func (s *state) detail(b domain.Bet) domain.BetDetail {
	opt := s.options[b.OptionID]
	ev := s.events[opt.EventID]
	return domain.BetDetail{
		Bet:           b,
		Option:        opt,
		Username:      s.users[b.UserID].Username,
		IndicatorName: ev.IndicatorName,
		EventStatus:   ev.Status,
	}
}

// Store holds all entities in memory.
type Store struct {
	mu    sync.Mutex
	st    *state
	audit []domain.AuditEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// GetByID returns the event with its options.
func (s *Store) GetByID(_ context.Context, id string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.st.eventWithOptions(id)
	if !ok {
		return domain.Event{}, fmt.Errorf("memory: get event %s: %w", id, domain.ErrNotFound)
	}
	return ev, nil
}

// ListUpcoming returns events still open or about to open, soonest first.
func (s *Store) ListUpcoming(_ context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for id, ev := range s.st.events {
		if ev.Status != domain.StatusUpcoming && ev.Status != domain.StatusBetting {
			continue
		}
		full, _ := s.st.eventWithOptions(id)
		out = append(out, full)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReleaseTime.Equal(out[j].ReleaseTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReleaseTime.Before(out[j].ReleaseTime)
	})
	return page(out, opts), nil
}

// ListUnsettled returns non-terminal events released before the cutoff.
func (s *Store) ListUnsettled(_ context.Context, releasedBefore time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.st.events {
		if ev.Status.Terminal() || !ev.ReleaseTime.Before(releasedBefore) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseTime.Before(out[j].ReleaseTime) })
	return out, nil
}

// ListByUser returns a user's bets, newest first.
func (s *Store) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.BetDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BetDetail
	for _, b := range s.st.bets {
		if b.UserID == userID {
			out = append(out, s.st.detail(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, opts), nil
}

// ListByOptions returns the bets on any of the given options.
func (s *Store) ListByOptions(_ context.Context, optionIDs []string) ([]domain.BetDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BetDetail
	for _, b := range betsByOptions(s.st, optionIDs) {
		out = append(out, s.st.detail(b))
	}
	return out, nil
}

// Users returns the UserStore view of s. It is separate because Store's
// own GetByID reads events.
func (s *Store) Users() domain.UserStore { return userView{s} }

type userView struct{ s *Store }

func (v userView) Create(_ context.Context, user domain.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.st.users[user.ID]; ok {
		return fmt.Errorf("memory: create user %s: %w", user.ID, domain.ErrAlreadyExists)
	}
	v.s.st.users[user.ID] = user
	return nil
}

func (v userView) GetByID(_ context.Context, id string) (domain.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	u, ok := v.s.st.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: get user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, action string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries, newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		out = append(out, s.audit[i])
	}
	return page(out, opts), nil
}

// Entries returns the balance history of a user in write order.
func (s *Store) Entries(userID string) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.st.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

func betsByOptions(st *state, optionIDs []string) []domain.Bet {
	want := make(map[string]bool, len(optionIDs))
	for _, id := range optionIDs {
		want[id] = true
	}
	var out []domain.Bet
	for _, b := range st.bets {
		if want[b.OptionID] {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

var (
	_ domain.Ledger     = (*Store)(nil)
	_ domain.EventStore = (*Store)(nil)
	_ domain.BetStore   = (*Store)(nil)
	_ domain.AuditStore = (*Store)(nil)
	_ domain.UserStore  = userView{}
)

type tx struct {
	st *state
}

func (t *tx) CreateEvent(_ context.Context, ev domain.Event) error {
	if _, ok := t.st.events[ev.ID]; ok {
		return fmt.Errorf("memory: create event %s: %w", ev.ID, domain.ErrAlreadyExists)
	}
	ids := make([]string, 0, len(ev.Options))
	for _, o := range ev.Options {
		if _, ok := t.st.options[o.ID]; ok {
			return fmt.Errorf("memory: create option %s: %w", o.ID, domain.ErrAlreadyExists)
		}
		o.EventID = ev.ID
		t.st.options[o.ID] = o
		ids = append(ids, o.ID)
	}
	t.st.eventOptions[ev.ID] = ids
	ev.Options = nil
	t.st.events[ev.ID] = ev
	return nil
}

func (t *tx) Event(_ context.Context, id string) (domain.Event, error) {
	ev, ok := t.st.events[id]
	if !ok {
		return domain.Event{}, fmt.Errorf("memory: get event %s: %w", id, domain.ErrNotFound)
	}
	return ev, nil
}

func (t *tx) EventForUpdate(ctx context.Context, id string) (domain.Event, error) {
	return t.Event(ctx, id)
}

func (t *tx) UpdateEvent(_ context.Context, ev domain.Event) error {
	if _, ok := t.st.events[ev.ID]; !ok {
		return fmt.Errorf("memory: update event %s: %w", ev.ID, domain.ErrNotFound)
	}
	ev.Options = nil
	t.st.events[ev.ID] = ev
	return nil
}

func (t *tx) OptionForUpdate(_ context.Context, id string) (domain.Option, error) {
	o, ok := t.st.options[id]
	if !ok {
		return domain.Option{}, fmt.Errorf("memory: get option %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

func (t *tx) OptionsForUpdate(_ context.Context, eventID string) ([]domain.Option, error) {
	ids := append([]string(nil), t.st.eventOptions[eventID]...)
	sort.Strings(ids)
	out := make([]domain.Option, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.st.options[id])
	}
	return out, nil
}

func (t *tx) UpdateOption(_ context.Context, o domain.Option) error {
	if _, ok := t.st.options[o.ID]; !ok {
		return fmt.Errorf("memory: update option %s: %w", o.ID, domain.ErrNotFound)
	}
	t.st.options[o.ID] = o
	return nil
}

func (t *tx) UserForUpdate(_ context.Context, id string) (domain.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: get user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

func (t *tx) UsersForUpdate(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		u, err := t.UserForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = u
	}
	return out, nil
}

func (t *tx) UpdateBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	u, ok := t.st.users[userID]
	if !ok {
		return fmt.Errorf("memory: update balance %s: %w", userID, domain.ErrNotFound)
	}
	if balance.IsNegative() {
		return fmt.Errorf("memory: update balance %s to %s: %w", userID, balance, domain.ErrInvalidInput)
	}
	u.Balance = balance
	t.st.users[userID] = u
	return nil
}

func (t *tx) CreateBet(_ context.Context, b domain.Bet) error {
	if _, ok := t.st.bets[b.ID]; ok {
		return fmt.Errorf("memory: create bet %s: %w", b.ID, domain.ErrAlreadyExists)
	}
	t.st.bets[b.ID] = b
	return nil
}

func (t *tx) BetsByOptions(_ context.Context, optionIDs []string) ([]domain.Bet, error) {
	return betsByOptions(t.st, optionIDs), nil
}

func (t *tx) UpdateBet(_ context.Context, b domain.Bet) error {
	if _, ok := t.st.bets[b.ID]; !ok {
		return fmt.Errorf("memory: update bet %s: %w", b.ID, domain.ErrNotFound)
	}
	t.st.bets[b.ID] = b
	return nil
}

func (t *tx) AppendLedger(_ context.Context, e domain.LedgerEntry) error {
	t.st.ledger = append(t.st.ledger, e)
	return nil
}
