package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/platform/polymarket"
	"github.com/alanyoungcy/polycopy/internal/precision"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Signer abstracts EIP-712 order signing.
type Signer interface {
	SignOrder(payload crypto.OrderPayload, negRisk bool) (string, error)
	Address() common.Address
}

// ClobAPI is the subset of the CLOB client used for trading.
type ClobAPI interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)
	PostOrder(ctx context.Context, req polymarket.PostOrderRequest) (polymarket.APIOrderResult, error)
}

// OrderConfig holds account and submission settings.
type OrderConfig struct {
	Owner         string // L2 API key
	Funder        string // proxy wallet holding funds; signer address when empty
	SignatureType int
	NegRisk       bool
	RateLimit     int
	RateWindow    time.Duration
	DryRun        bool
}

// OrderService is the exchange seam of the execution engine: it fetches
// books, signs and submits orders, and turns every failure into a
// structured ErrorKind.
type OrderService struct {
	clob    ClobAPI
	signer  Signer
	limiter domain.RateLimiter
	bus     domain.SignalBus
	audit   domain.AuditStore
	cfg     OrderConfig
	logger  *slog.Logger
}

// NewOrderService creates an OrderService. limiter, bus and audit may be nil.
func NewOrderService(
	clob ClobAPI,
	signer Signer,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg OrderConfig,
	logger *slog.Logger,
) *OrderService {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	return &OrderService{
		clob:    clob,
		signer:  signer,
		limiter: limiter,
		bus:     bus,
		audit:   audit,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "order_service")),
	}
}

// OrderBook fetches a fresh book for tokenID.
func (s *OrderService) OrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	book, err := s.clob.GetOrderBook(ctx, tokenID)
	if err != nil {
		return domain.OrderBook{}, &domain.ExchangeError{
			Kind:    polymarket.ClassifyError(err),
			Message: "order book",
			Err:     err,
		}
	}
	return book, nil
}

// BuildOrder converts an intent to 6-decimal exchange amounts and signs it.
func (s *OrderService) BuildOrder(_ context.Context, intent domain.OrderIntent) (domain.SignedOrder, error) {
	makerAmt, takerAmt, err := orderAmounts(intent)
	if err != nil {
		return domain.SignedOrder{}, &domain.ExchangeError{Kind: domain.ErrorKindPrecision, Message: "build order", Err: err}
	}

	signerAddr := s.signer.Address().Hex()
	maker := signerAddr
	if s.cfg.Funder != "" {
		maker = common.HexToAddress(s.cfg.Funder).Hex()
	}
	side := 0
	if intent.Side == domain.SideSell {
		side = 1
	}

	order := domain.SignedOrder{
		Intent:      intent,
		Salt:        int64(uuid.New().ID()),
		Maker:       maker,
		Signer:      signerAddr,
		MakerAmount: big.NewInt(makerAmt),
		TakerAmount: big.NewInt(takerAmt),
		SigType:     s.cfg.SignatureType,
		CreatedAt:   time.Now().UTC(),
	}
	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(order.Salt, 10),
		Maker:         maker,
		Signer:        signerAddr,
		Taker:         zeroAddress,
		TokenID:       intent.TokenID,
		MakerAmount:   order.MakerAmount.String(),
		TakerAmount:   order.TakerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: s.cfg.SignatureType,
	}
	sig, err := s.signer.SignOrder(payload, s.cfg.NegRisk)
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("order_service: %w: %w", domain.ErrSigningFailed, err)
	}
	order.Signature = sig
	return order, nil
}

// orderAmounts returns maker and taker amounts in micro units. Buyers give
// USDC and take tokens; sellers the reverse.
func orderAmounts(intent domain.OrderIntent) (maker, taker int64, err error) {
	var usd, tokens float64
	switch intent.Style {
	case domain.OrderStyleFOK:
		if intent.Side == domain.SideBuy {
			usd, tokens = intent.Amount, intent.Tokens
		} else {
			tokens, usd = precision.GTC(intent.Tokens, intent.Price)
		}
	default:
		tokens, usd = precision.GTC(intent.Tokens, intent.Price)
	}
	if usd <= 0 || tokens <= 0 {
		return 0, 0, fmt.Errorf("%w: usd=%v tokens=%v", domain.ErrInvalidOrder, usd, tokens)
	}
	if intent.Side == domain.SideBuy {
		return precision.MicroUnits(usd), precision.MicroUnits(tokens), nil
	}
	return precision.MicroUnits(tokens), precision.MicroUnits(usd), nil
}

// Submit posts a signed order. Rejections are reported in the result with
// their classified kind; a non-nil error is an *domain.ExchangeError from
// the client itself.
func (s *OrderService) Submit(ctx context.Context, order domain.SignedOrder) (domain.SubmitResult, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "orders:"+order.Signer, s.cfg.RateLimit, s.cfg.RateWindow)
		if err != nil {
			s.logger.WarnContext(ctx, "rate limiter unavailable, submitting anyway", slog.String("error", err.Error()))
		} else if !allowed {
			return domain.SubmitResult{Kind: domain.ErrorKindRateLimit, Message: "local order rate limit reached"}, nil
		}
	}

	intent := order.Intent
	if s.cfg.DryRun {
		s.logger.InfoContext(ctx, "dry run: order not submitted",
			slog.String("token", intent.TokenID),
			slog.String("side", string(intent.Side)),
			slog.String("style", string(intent.Style)),
			slog.Float64("tokens", intent.Tokens),
			slog.Float64("price", intent.Price),
		)
		return domain.SubmitResult{Success: true, OrderID: "dry-run-" + strconv.FormatInt(order.Salt, 10), Status: "matched"}, nil
	}

	side := "BUY"
	if intent.Side == domain.SideSell {
		side = "SELL"
	}
	req := polymarket.PostOrderRequest{
		Order: polymarket.APIOrder{
			Salt:          order.Salt,
			Maker:         order.Maker,
			Signer:        order.Signer,
			Taker:         zeroAddress,
			TokenID:       intent.TokenID,
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    "0",
			Nonce:         "0",
			FeeRateBps:    "0",
			Side:          side,
			SignatureType: order.SigType,
			Signature:     order.Signature,
		},
		Owner:     s.cfg.Owner,
		OrderType: string(intent.Style),
	}

	res, err := s.clob.PostOrder(ctx, req)
	if err != nil {
		return domain.SubmitResult{}, &domain.ExchangeError{
			Kind:    polymarket.ClassifyError(err),
			Message: "post order",
			Err:     err,
		}
	}
	if !res.Success {
		msg := res.Message()
		if msg == "" {
			msg = "order rejected"
		}
		return domain.SubmitResult{
			Status:  res.Status,
			Kind:    polymarket.ClassifyMessage(msg),
			Message: msg,
		}, nil
	}

	s.recordPlaced(ctx, res, intent)
	return domain.SubmitResult{Success: true, OrderID: res.OrderID, Status: res.Status}, nil
}

func (s *OrderService) recordPlaced(ctx context.Context, res polymarket.APIOrderResult, intent domain.OrderIntent) {
	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":    "order_placed",
			"order_id": res.OrderID,
			"token":    intent.TokenID,
			"side":     string(intent.Side),
			"style":    string(intent.Style),
			"status":   res.Status,
		})
		if err := s.bus.Publish(ctx, "orders", evt); err != nil {
			s.logger.WarnContext(ctx, "publish order event failed",
				slog.String("order_id", res.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, "order_placed", map[string]any{
			"order_id": res.OrderID,
			"token":    intent.TokenID,
			"side":     string(intent.Side),
			"style":    string(intent.Style),
			"price":    intent.Price,
			"tokens":   intent.Tokens,
			"amount":   intent.Amount,
			"status":   res.Status,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("order_id", res.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", res.OrderID),
		slog.String("token", intent.TokenID),
		slog.String("side", string(intent.Side)),
		slog.String("status", res.Status),
	)
}
