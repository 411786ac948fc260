package domain

import "context"

// AlertKind classifies operator alerts.
type AlertKind string

const (
	AlertJudgeIndeterminate AlertKind = "judge_indeterminate"
	AlertJobDeadLettered    AlertKind = "job_dead_lettered"
	AlertEventOverdue       AlertKind = "event_overdue"
	AlertEventSettled       AlertKind = "event_settled"
)

// Alert is an operator-facing notification.
type Alert struct {
	Kind    AlertKind
	EventID string
	Title   string
	Message string
}

// Alerter delivers operator alerts.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}
