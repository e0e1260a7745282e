package models

import "time"

// StatsSummary is the windowed overview returned to privileged consumers.
// UniqueUsers counts distinct user tokens across both stores (union, not sum).
type StatsSummary struct {
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	TotalEvents    int64     `json:"total_events"`
	TotalWorkflows int64     `json:"total_workflows"`
	UniqueUsers    int64     `json:"unique_users"`
	EventsToday    int64     `json:"events_today"`
	WorkflowsToday int64     `json:"workflows_today"`
}

// EventTypeStats is one row of the per-event-type rollup, computed over all
// retained data.
type EventTypeStats struct {
	Event       string    `json:"event"`
	Count       int64     `json:"count"`
	UniqueUsers int64     `json:"unique_users"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// ComplexityStats is one row of the per-complexity-bucket workflow rollup.
type ComplexityStats struct {
	Complexity   Complexity `json:"complexity"`
	Count        int64      `json:"count"`
	AvgNodeCount float64    `json:"avg_node_count"`
	MinNodeCount int        `json:"min_node_count"`
	MaxNodeCount int        `json:"max_node_count"`
	WithTrigger  int64      `json:"with_trigger"`
	WithWebhook  int64      `json:"with_webhook"`
}

// DailyActivity is one day of the trailing activity series.
type DailyActivity struct {
	Date          time.Time `json:"date"`
	EventCount    int64     `json:"event_count"`
	WorkflowCount int64     `json:"workflow_count"`
	ActiveUsers   int64     `json:"active_users"`
}
