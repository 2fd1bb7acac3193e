package domain

import "time"

// Position is a wallet's live holding of one outcome token, as reported by
// the exchange data API.
type Position struct {
	Wallet       string
	ConditionID  string
	Asset        string
	Size         float64
	AvgPrice     float64
	CurrentValue float64
	CurPrice     float64
}

// TrackerEntry is the controlled account's own cumulative buys of one asset.
type TrackerEntry struct {
	ConditionID string    `json:"condition_id"`
	Asset       string    `json:"asset"`
	Quantity    float64   `json:"quantity"`
	Cost        float64   `json:"cost"`
	AvgPrice    float64   `json:"avg_price"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SideRecord is one outcome leg of a market as seen by the risk gate.
type SideRecord struct {
	Asset     string  `json:"asset"`
	Quantity  float64 `json:"quantity"`
	TotalCost float64 `json:"total_cost"`
}

// AvgPrice is TotalCost/Quantity, or zero for an empty record.
func (s SideRecord) AvgPrice() float64 {
	if s.Quantity <= 0 {
		return 0
	}
	return s.TotalCost / s.Quantity
}

// RiskState holds up to two complementary side records for a market.
type RiskState struct {
	ConditionID string       `json:"condition_id"`
	Sides       []SideRecord `json:"sides"`
}
