package domain

import "context"

// Exchange is the order-placement capability used by the execution engine.
type Exchange interface {
	OrderBook(ctx context.Context, tokenID string) (OrderBook, error)
	BuildOrder(ctx context.Context, intent OrderIntent) (SignedOrder, error)
	Submit(ctx context.Context, order SignedOrder) (SubmitResult, error)
}

// Portfolio answers balance and position lookups.
type Portfolio interface {
	Balance(ctx context.Context) (float64, error)
	// Position returns a zero-size Position when wallet holds none of asset.
	Position(ctx context.Context, wallet, conditionID, asset string) (Position, error)
	// Positions lists every holding of wallet in conditionID.
	Positions(ctx context.Context, wallet, conditionID string) ([]Position, error)
	PositionValue(ctx context.Context, wallet, conditionID string) (float64, error)
}
