package polymarket

import (
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// APIOrderResult is the response to POST /order. Rejections arrive either
// with success=false or as an HTTP 400 carrying the same body.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	Error       string `json:"error,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// Message returns whichever error text the server populated.
func (r APIOrderResult) Message() string {
	if r.ErrorMsg != "" {
		return r.ErrorMsg
	}
	return r.Error
}

// APIOrder is the order body of POST /order.
type APIOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// PostOrderRequest wraps an order with its owner API key and time-in-force.
type PostOrderRequest struct {
	Order     APIOrder `json:"order"`
	Owner     string   `json:"owner"`
	OrderType string   `json:"orderType"`
}

// APIPriceLevel is one level of GET /book, as decimal strings.
type APIPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the response of GET /book.
type APIBook struct {
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Bids      []APIPriceLevel `json:"bids"`
	Asks      []APIPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
	Hash      string          `json:"hash"`
}

// ToDomain converts the book, dropping unparseable levels. Level order is
// preserved as received.
func (b APIBook) ToDomain() domain.OrderBook {
	book := domain.OrderBook{
		AssetID: b.AssetID,
		Bids:    parseLevels(b.Bids),
		Asks:    parseLevels(b.Asks),
	}
	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		book.Timestamp = time.UnixMilli(ms).UTC()
	} else {
		book.Timestamp = time.Now().UTC()
	}
	return book
}

func parseLevels(levels []APIPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		p, err := strconv.ParseFloat(strings.TrimSpace(lvl.Price), 64)
		if err != nil {
			continue
		}
		s, err := strconv.ParseFloat(strings.TrimSpace(lvl.Size), 64)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// APIBalanceAllowance is the response of GET /balance-allowance. Balance
// is in 6-decimal micro units.
type APIBalanceAllowance struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// APIPosition is one entry of the data API /positions response.
type APIPosition struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CurPrice     float64 `json:"curPrice"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
}

// ToDomain converts the position.
func (p APIPosition) ToDomain() domain.Position {
	return domain.Position{
		Wallet:       p.ProxyWallet,
		ConditionID:  p.ConditionID,
		Asset:        p.Asset,
		Size:         p.Size,
		AvgPrice:     p.AvgPrice,
		CurrentValue: p.CurrentValue,
		CurPrice:     p.CurPrice,
	}
}

// APIActivity is one entry of the data API /activity response.
type APIActivity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"`
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	TransactionHash string  `json:"transactionHash"`
	Price           float64 `json:"price"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	Slug            string  `json:"slug"`
	Outcome         string  `json:"outcome"`
}

// ToDomain converts the entry. ok is false for activity kinds the copier
// does not mirror.
func (a APIActivity) ToDomain() (ev domain.TradeEvent, ok bool) {
	typ := domain.ActivityType(strings.ToUpper(a.Type))
	if typ != domain.ActivityTrade && typ != domain.ActivityMerge {
		return domain.TradeEvent{}, false
	}
	side := domain.Side(strings.ToUpper(a.Side))
	id := a.TransactionHash + "-" + a.Asset + "-" + string(side)
	if typ == domain.ActivityMerge {
		id = a.TransactionHash + "-" + a.ConditionID + "-MERGE"
	}
	return domain.TradeEvent{
		ID:            id,
		TraderAddress: a.ProxyWallet,
		Type:          typ,
		ConditionID:   a.ConditionID,
		Asset:         a.Asset,
		Side:          side,
		Size:          a.Size,
		UsdcSize:      a.UsdcSize,
		Price:         a.Price,
		Timestamp:     time.Unix(a.Timestamp, 0).UTC(),
		MarketSlug:    a.Slug,
		Outcome:       a.Outcome,
	}, true
}
