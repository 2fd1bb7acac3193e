package domain

import "time"

// AggregationKey identifies one accumulator in the aggregation buffer.
type AggregationKey struct {
	Trader      string `json:"trader"`
	ConditionID string `json:"condition_id"`
	Asset       string `json:"asset"`
}

// AggregatedTrade is a group of small BUY events of one trader on one asset,
// dispatched together once large enough to be tradable.
type AggregatedTrade struct {
	Key            AggregationKey `json:"key"`
	EventIDs       []string       `json:"event_ids"`
	MarketSlug     string         `json:"market_slug"`
	RawUsdcSize    float64        `json:"raw_usdc_size"`    // sum of observed sizes
	ScaledUsdcSize float64        `json:"scaled_usdc_size"` // sum of sizing-policy targets
	AveragePrice   float64        `json:"average_price"`    // raw-size weighted
	FirstSeen      time.Time      `json:"first_seen"`
	LastSeen       time.Time      `json:"last_seen"`
}

// ScaledTokens is the token quantity implied by the scaled size at the
// average price.
func (a AggregatedTrade) ScaledTokens() float64 {
	if a.AveragePrice <= 0 {
		return 0
	}
	return a.ScaledUsdcSize / a.AveragePrice
}
