package domain

import "time"

// RequestKind is the execution path chosen for an event.
type RequestKind string

const (
	RequestMerge RequestKind = "MERGE"
	RequestBuy   RequestKind = "BUY"
	RequestSell  RequestKind = "SELL"
)

// ExecutionOutcome summarises one MERGE, BUY or SELL execution. It is
// published as JSON on the executions stream.
type ExecutionOutcome struct {
	Kind           RequestKind    `json:"kind"`
	ConditionID    string         `json:"condition_id"`
	Asset          string         `json:"asset"`
	MarketSlug     string         `json:"market_slug,omitempty"`
	EventIDs       []string       `json:"event_ids"`
	FilledQuantity float64        `json:"filled_quantity"`
	FilledCost     float64        `json:"filled_cost"`
	Success        bool           `json:"success"`
	ErrorKind      ErrorKind      `json:"error_kind,omitempty"`
	Status         ActivityStatus `json:"status"`
	Retries        int            `json:"retries"`
	Exhausted      bool           `json:"exhausted"`
	Reason         string         `json:"reason,omitempty"`
	DecayFraction  float64        `json:"decay_fraction,omitempty"` // share of tracked buys sold, SELL only
	BalanceBefore  float64        `json:"balance_before"`
	BalanceAfter   float64        `json:"balance_after"`
	FinishedAt     time.Time      `json:"finished_at"`
}
