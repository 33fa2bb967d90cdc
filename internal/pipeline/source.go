package pipeline

import (
	"context"

	"klinewatch/internal/model"
	"klinewatch/internal/supervisor"
	"klinewatch/pkg/binance"
)

// BinanceSource adapts the websocket client to supervisor.Source.
func BinanceSource(ws *binance.WSSource) supervisor.Source {
	return supervisor.SourceFunc(func(ctx context.Context, key model.Key) (supervisor.Stream, error) {
		s, err := ws.Subscribe(ctx, key)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
