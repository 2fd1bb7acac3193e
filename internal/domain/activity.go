package domain

import "time"

// ActivityType distinguishes plain trades from position merges.
type ActivityType string

const (
	ActivityTrade ActivityType = "TRADE"
	ActivityMerge ActivityType = "MERGE"
)

// Side is the direction of an observed or submitted trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeEvent is one observed trade of a followed trader, as stored in the
// activity feed.
type TradeEvent struct {
	ID            string
	TraderAddress string
	Type          ActivityType
	ConditionID   string
	Asset         string
	Side          Side
	Size          float64 // tokens
	UsdcSize      float64
	Price         float64
	Timestamp     time.Time
	MarketSlug    string
	Outcome       string
}

// ActivityStatus is the terminal status written back for a processed event.
type ActivityStatus string

const (
	StatusFilled             ActivityStatus = "filled"
	StatusPartial            ActivityStatus = "partial"
	StatusAbortedNoLiquidity ActivityStatus = "aborted_no_liquidity"
	StatusAbortedFunds       ActivityStatus = "aborted_funds"
	StatusAbortedSize        ActivityStatus = "aborted_size"
	StatusAbortedPrecision   ActivityStatus = "aborted_precision"
	StatusAbortedSlippage    ActivityStatus = "aborted_slippage"
	StatusExhausted          ActivityStatus = "exhausted"
	StatusRiskRejected       ActivityStatus = "risk_rejected"
	StatusBelowMinimum       ActivityStatus = "below_minimum"
	StatusSkipped            ActivityStatus = "skipped"
)

// Annotation is the outcome written back to the activity store when an
// event is marked processed. Nil pointers leave the column untouched.
type Annotation struct {
	Status       ActivityStatus
	BoughtTokens *float64
	RetryCount   *int
}

// ProcessedActivity is a processed event with its write-back annotation.
type ProcessedActivity struct {
	TradeEvent
	Annotation
	ProcessedAt time.Time
}
