package stream

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/model"
)

const (
	_binanceCombinedWsURL           = "wss://stream.binance.com:9443/stream"
	_binanceCombinedWsURLMarketOnly = "wss://data-stream.binance.vision/stream"
)

// BinanceProvider opens one combined-stream websocket per subscription so
// every inbound message carries the {stream, data} wrapper.
type BinanceProvider struct {
	baseURL string
}

func NewBinanceProvider() *BinanceProvider {
	return &BinanceProvider{baseURL: _binanceCombinedWsURL}
}

// NewBinanceMarketOnlyProvider uses the market-data-only endpoint.
func NewBinanceMarketOnlyProvider() *BinanceProvider {
	return &BinanceProvider{baseURL: _binanceCombinedWsURLMarketOnly}
}

type binanceSubscription struct {
	wss    *ws.WebSocket
	cancel func()
}

func (s *binanceSubscription) Close() error {
	s.cancel()
	s.wss.Close()
	return nil
}

// Subscribe dials the combined stream endpoint and pumps decoded messages
// into onMessage until the subscription is closed.
func (repo *BinanceProvider) Subscribe(ctx context.Context, stream string, onMessage func(model.StreamMessage)) (Subscription, error) {
	wss := ws.New(ctx, repo.baseURL+"?streams="+stream)
	if err := wss.Start(ctx); err != nil {
		return nil, errors.Wrapf(err, "start wss for %q", stream)
	}

	ch, cancel := wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				msg, ok := ws.ReadMessage[model.StreamMessage](m)
				if !ok {
					logs.Warnf("unreadable frame on %q, skipping", stream)
					continue
				}

				onMessage(msg)
			}
		}
	}()

	return &binanceSubscription{wss: wss, cancel: cancel}, nil
}
