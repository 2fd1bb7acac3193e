package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// BalanceSource reports the controlled account's USDC balance.
type BalanceSource interface {
	GetCollateralBalance(ctx context.Context, signatureType int) (float64, error)
}

// PositionSource lists wallet positions.
type PositionSource interface {
	Positions(ctx context.Context, wallet, conditionID string) ([]domain.Position, error)
}

// PortfolioService answers the balance and position lookups of the copy
// worker.
type PortfolioService struct {
	balances      BalanceSource
	positions     PositionSource
	signatureType int
	logger        *slog.Logger
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(balances BalanceSource, positions PositionSource, signatureType int, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		balances:      balances,
		positions:     positions,
		signatureType: signatureType,
		logger:        logger.With(slog.String("component", "portfolio")),
	}
}

// Balance returns the spendable USDC balance.
func (s *PortfolioService) Balance(ctx context.Context) (float64, error) {
	bal, err := s.balances.GetCollateralBalance(ctx, s.signatureType)
	if err != nil {
		return 0, fmt.Errorf("portfolio: balance: %w", err)
	}
	return bal, nil
}

// Position returns wallet's holding of asset in conditionID.
func (s *PortfolioService) Position(ctx context.Context, wallet, conditionID, asset string) (domain.Position, error) {
	all, err := s.positions.Positions(ctx, wallet, conditionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: positions of %s: %w", wallet, err)
	}
	for _, p := range all {
		if p.Asset == asset {
			return p, nil
		}
	}
	return domain.Position{Wallet: wallet, ConditionID: conditionID, Asset: asset}, nil
}

// Positions returns wallet's non-empty holdings in conditionID.
func (s *PortfolioService) Positions(ctx context.Context, wallet, conditionID string) ([]domain.Position, error) {
	all, err := s.positions.Positions(ctx, wallet, conditionID)
	if err != nil {
		return nil, fmt.Errorf("portfolio: positions of %s: %w", wallet, err)
	}
	out := make([]domain.Position, 0, len(all))
	for _, p := range all {
		if p.ConditionID == conditionID && p.Size > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

// PositionValue returns the current value of wallet's positions in
// conditionID.
func (s *PortfolioService) PositionValue(ctx context.Context, wallet, conditionID string) (float64, error) {
	all, err := s.positions.Positions(ctx, wallet, conditionID)
	if err != nil {
		return 0, fmt.Errorf("portfolio: positions of %s: %w", wallet, err)
	}
	var total float64
	for _, p := range all {
		if p.ConditionID == conditionID {
			total += p.CurrentValue
		}
	}
	return total, nil
}
