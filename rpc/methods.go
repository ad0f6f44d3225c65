package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *Server) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	provider, market, err := s.marketArgs(in)
	if err != nil {
		return nil, err
	}
	maxDepth, err := intArg(in, "max_depth")
	if err != nil {
		return nil, err
	}
	if !s.validationService.IsValidDepth(maxDepth) {
		return nil, status.Errorf(codes.InvalidArgument, "max_depth %d is out of range", maxDepth)
	}

	snapshot, err := s.orderbookSnapshotUseCase.GetOrderBookSnapshot(ctx, provider, market, maxDepth)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"provider":  provider,
		"market":    snapshot.Symbol,
		"source":    string(snapshot.Source),
		"nonce":     snapshot.Nonce,
		"timestamp": unixMilli(snapshot.Timestamp),
		"bids":      levels(snapshot.Bids),
		"asks":      levels(snapshot.Asks),
	})
}

func (s *Server) GetTicker(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	provider, market, err := s.marketArgs(in)
	if err != nil {
		return nil, err
	}
	watcher, err := s.connManager.Watcher(provider)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ticker, err := watcher.WatchTicker(ctx, market)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"provider":    provider,
		"market":      ticker.Symbol,
		"timestamp":   unixMilli(ticker.Timestamp),
		"high":        ticker.High.String(),
		"low":         ticker.Low.String(),
		"bid":         ticker.Bid.String(),
		"bidVolume":   ticker.BidVolume.String(),
		"ask":         ticker.Ask.String(),
		"askVolume":   ticker.AskVolume.String(),
		"vwap":        ticker.Vwap.String(),
		"open":        ticker.Open.String(),
		"close":       ticker.Close.String(),
		"last":        ticker.Last.String(),
		"change":      ticker.Change.String(),
		"percentage":  ticker.Percentage.String(),
		"baseVolume":  ticker.BaseVolume.String(),
		"quoteVolume": ticker.QuoteVolume.String(),
	})
}

func (s *Server) GetTrades(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	provider, market, err := s.marketArgs(in)
	if err != nil {
		return nil, err
	}
	since, err := intArg(in, "since")
	if err != nil {
		return nil, err
	}
	limit, err := intArg(in, "limit")
	if err != nil {
		return nil, err
	}
	watcher, err := s.connManager.Watcher(provider)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var sinceTime time.Time
	if since > 0 {
		sinceTime = time.UnixMilli(int64(since))
	}
	trades, err := watcher.WatchTrades(ctx, market, sinceTime, limit)
	if err != nil {
		return nil, toStatus(err)
	}

	out := make([]interface{}, 0, len(trades))
	for _, t := range trades {
		out = append(out, map[string]interface{}{
			"id":        t.ID,
			"timestamp": unixMilli(t.Timestamp),
			"side":      t.Side,
			"price":     t.Price.String(),
			"amount":    t.Amount.String(),
			"cost":      t.Cost.String(),
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"provider": provider,
		"market":   market,
		"trades":   out,
	})
}

func (s *Server) marketArgs(in *structpb.Struct) (provider, market string, err error) {
	provider = in.GetFields()["provider"].GetStringValue()
	if !s.validationService.IsSupportedProvider(provider) {
		return "", "", status.Errorf(codes.InvalidArgument, "provider %s is not supported", provider)
	}

	raw := in.GetFields()["market"].GetStringValue()
	symbol, err := domain.NewMarketSymbolFromString(raw)
	if err != nil {
		return "", "", status.Errorf(codes.InvalidArgument,
			"invalid market symbol %s. Correct market symbol should use / as a separator", raw)
	}
	return provider, symbol.String(), nil
}

// intArg reads an optional non-negative integer; absent means 0.
func intArg(in *structpb.Struct, name string) (int, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, nil
	}
	n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber || n.NumberValue < 0 || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a non-negative integer", name)
	}
	return int(n.NumberValue), nil
}

func levels(in []domain.PriceLevel) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, l := range in {
		out = append(out, map[string]interface{}{
			"price": l.Price.String(),
			"qty":   l.Amount.String(),
		})
	}
	return out
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, domain.ErrMarketNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrNotImplemented):
		code = codes.Unimplemented
	case errors.Is(err, domain.ErrRateLimitExceeded):
		code = codes.ResourceExhausted
	case errors.Is(err, domain.ErrSubscriptionCancelled):
		code = codes.Aborted
	case errors.Is(err, domain.ErrExchange):
		code = codes.Unavailable
	}
	return status.Error(code, fmt.Sprint(err))
}
