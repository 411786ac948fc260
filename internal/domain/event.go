package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType selects the betting format of an event.
type EventType string

const (
	EventTypeRegular   EventType = "REGULAR"
	EventTypeShockwave EventType = "SHOCKWAVE"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventTypeRegular || t == EventTypeShockwave
}

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	StatusUpcoming  EventStatus = "UPCOMING"
	StatusBetting   EventStatus = "BETTING"
	StatusLocked    EventStatus = "LOCKED"
	StatusLive      EventStatus = "LIVE"
	StatusSettling  EventStatus = "SETTLING"
	StatusSettled   EventStatus = "SETTLED"
	StatusCancelled EventStatus = "CANCELLED"
)

// Terminal reports whether no further transition can leave s.
func (s EventStatus) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// SettlementWindow is how long after release a REGULAR event settles.
type SettlementWindow string

const (
	Window30m SettlementWindow = "30m"
	Window24h SettlementWindow = "24h"
)

// Duration returns the window length. Unknown values yield zero.
func (w SettlementWindow) Duration() time.Duration {
	switch w {
	case Window30m:
		return 30 * time.Minute
	case Window24h:
		return 24 * time.Hour
	}
	return 0
}

// Event is one scheduled data release people bet on.
type Event struct {
	ID               string              `json:"id"`
	IndicatorName    string              `json:"indicator_name"`
	IndicatorID      string              `json:"indicator_id,omitempty"`
	Asset            string              `json:"asset"`
	ReleaseTime      time.Time           `json:"release_time"`
	ExpectedValue    decimal.Decimal     `json:"expected_value"`
	ActualValue      decimal.NullDecimal `json:"actual_value"`
	EventType        EventType           `json:"event_type"`
	SettlementWindow SettlementWindow    `json:"settlement_window,omitempty"`
	Status           EventStatus         `json:"status"`
	BasePrice        decimal.NullDecimal `json:"base_price"`
	SettlePrice      decimal.NullDecimal `json:"settle_price"`
	CreatedAt        time.Time           `json:"created_at"`
	SettledAt        *time.Time          `json:"settled_at,omitempty"`
	Options          []Option            `json:"options,omitempty"`
}

// SettleTime is when the event's final settlement is due.
func (e Event) SettleTime(shockwaveOffset time.Duration) time.Time {
	if e.EventType == EventTypeShockwave {
		return e.ReleaseTime.Add(shockwaveOffset)
	}
	return e.ReleaseTime.Add(e.SettlementWindow.Duration())
}

// OptionIDs returns the ids of the loaded options.
func (e Event) OptionIDs() []string {
	ids := make([]string, 0, len(e.Options))
	for _, o := range e.Options {
		ids = append(ids, o.ID)
	}
	return ids
}
