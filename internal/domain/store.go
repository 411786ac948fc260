package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore reads events outside any transaction. Reads take no locks and
// may observe slightly stale exposure.
type EventStore interface {
	// GetByID returns the event with its options.
	GetByID(ctx context.Context, id string) (Event, error)
	ListUpcoming(ctx context.Context, opts ListOpts) ([]Event, error)
	// ListUnsettled returns non-terminal events released before the cutoff.
	ListUnsettled(ctx context.Context, releasedBefore time.Time) ([]Event, error)
}

// BetStore reads bets outside any transaction.
type BetStore interface {
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]BetDetail, error)
	ListByOptions(ctx context.Context, optionIDs []string) ([]BetDetail, error)
}

// UserStore manages balance holders.
type UserStore interface {
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id string) (User, error)
}

// LedgerTx is the unit of work handed to Ledger.InTx. Methods suffixed
// ForUpdate take exclusive row locks held until the transaction ends.
// Callers lock users before options and options before the event, each
// group in ascending id order.
type LedgerTx interface {
	// CreateEvent inserts the event and its options.
	CreateEvent(ctx context.Context, event Event) error
	// Event and EventForUpdate return the event row without options.
	Event(ctx context.Context, id string) (Event, error)
	EventForUpdate(ctx context.Context, id string) (Event, error)
	// UpdateEvent persists status, actual value, prices and settledAt.
	UpdateEvent(ctx context.Context, event Event) error

	OptionForUpdate(ctx context.Context, id string) (Option, error)
	// OptionsForUpdate locks every option of the event in id order.
	OptionsForUpdate(ctx context.Context, eventID string) ([]Option, error)
	UpdateOption(ctx context.Context, option Option) error

	UserForUpdate(ctx context.Context, id string) (User, error)
	// UsersForUpdate locks the given users in id order.
	UsersForUpdate(ctx context.Context, ids []string) (map[string]User, error)
	UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error

	CreateBet(ctx context.Context, bet Bet) error
	BetsByOptions(ctx context.Context, optionIDs []string) ([]Bet, error)
	UpdateBet(ctx context.Context, bet Bet) error

	AppendLedger(ctx context.Context, entry LedgerEntry) error
}

// Ledger runs fn inside one atomic transaction. Any error from fn rolls the
// whole unit back.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, action string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
