// Package execution places the orders triggered by position transitions.
//
// The default is paper trading: fills are recorded in memory and logged.
// BinanceExecutor sends real market orders through the REST client.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"klinewatch/internal/model"
	"klinewatch/pkg/binance"

	"go.uber.org/zap"
)

// Fill is a simulated order fill.
type Fill struct {
	OrderID  string     `json:"order_id"`
	Symbol   string     `json:"symbol"`
	Side     model.Side `json:"side"`
	Quantity float64    `json:"quantity"`
	FilledAt time.Time  `json:"filled_at"`
}

// PaperExecutor simulates order execution without broker calls.
type PaperExecutor struct {
	mu       sync.RWMutex
	fills    []Fill
	orderSeq int64
	logger   *zap.Logger
}

func NewPaperExecutor(logger *zap.Logger) *PaperExecutor {
	return &PaperExecutor{
		fills:  make([]Fill, 0, 64),
		logger: logger,
	}
}

// Place records a fill.
func (p *PaperExecutor) Place(_ context.Context, side model.Side, quantity float64, symbol string) error {
	p.mu.Lock()
	p.orderSeq++
	fill := Fill{
		OrderID:  fmt.Sprintf("PAPER-%d", p.orderSeq),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		FilledAt: time.Now().UTC(),
	}
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	p.logger.Info("paper order filled",
		zap.String("order_id", fill.OrderID),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("quantity", quantity),
	)
	return nil
}

// Fills returns a snapshot of all fills.
func (p *PaperExecutor) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// OrderPlacer is the part of the Binance REST client used for orders.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, side model.Side, quantity float64, symbol string) (*binance.OrderResponse, error)
}

// BinanceExecutor sends market orders to Binance.
type BinanceExecutor struct {
	client OrderPlacer
	logger *zap.Logger
}

func NewBinanceExecutor(client OrderPlacer, logger *zap.Logger) *BinanceExecutor {
	return &BinanceExecutor{client: client, logger: logger}
}

// Place sends a market order and logs the exchange's answer.
func (b *BinanceExecutor) Place(ctx context.Context, side model.Side, quantity float64, symbol string) error {
	b.logger.Info("sending order",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("quantity", quantity),
	)

	resp, err := b.client.PlaceMarketOrder(ctx, side, quantity, symbol)
	if err != nil {
		return fmt.Errorf("place %s %s: %w", side, symbol, err)
	}

	b.logger.Info("order accepted",
		zap.String("symbol", resp.Symbol),
		zap.Int64("order_id", resp.OrderID),
		zap.String("status", resp.Status),
		zap.String("executed_qty", resp.ExecutedQty),
	)
	return nil
}
