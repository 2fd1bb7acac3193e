package domain

import (
	"math/big"
	"time"
)

// OrderStyle is the time-in-force of a submitted order.
type OrderStyle string

const (
	OrderStyleFOK OrderStyle = "FOK"
	OrderStyleGTC OrderStyle = "GTC"
)

// Exchange-imposed minimums.
const (
	TakerMinTokens  = 5.0
	MakerMinUSD     = 1.0
	AbsoluteMinimum = 0.10
)

// OrderIntent is a single order the engine wants to place. For FOK buys
// Amount is the USD spent; otherwise Amount is a token quantity.
type OrderIntent struct {
	Side    Side
	TokenID string
	Amount  float64
	Tokens  float64
	Price   float64
	Style   OrderStyle
}

// SignedOrder is an intent converted to exchange units and signed.
type SignedOrder struct {
	Intent      OrderIntent
	Salt        int64
	Maker       string
	Signer      string
	MakerAmount *big.Int
	TakerAmount *big.Int
	Expiration  int64
	Nonce       int64
	FeeRateBps  int64
	SigType     int
	Signature   string
	CreatedAt   time.Time
}

// SubmitResult is the exchange answer for one submitted order. A failed
// result carries its classified Kind.
type SubmitResult struct {
	Success bool
	OrderID string
	Status  string
	Kind    ErrorKind
	Message string
}
