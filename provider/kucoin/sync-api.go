package kucoin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/helpers"
)

var logger = logrus.WithField("component", "kucoin")

const (
	DefaultRestEndpoint = "https://api.kucoin.com"

	codeTooManyRequests = "429000"
)

type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

func (c Credentials) empty() bool {
	return c.Key == "" || c.Secret == "" || c.Passphrase == ""
}

type OrderBookSnapshot struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

// KucoinSyncAPI fetches snapshots and websocket tokens through the Kucoin SDK.
// The full book needs credentials; without them the 100 level book is used.
type KucoinSyncAPI struct {
	apiService *kucoin.ApiService
	authorized bool
}

func NewKucoinSyncAPI(endpoint string, creds Credentials) *KucoinSyncAPI {
	if endpoint == "" {
		endpoint = DefaultRestEndpoint
	}
	return &KucoinSyncAPI{
		apiService: kucoin.NewApiService(
			kucoin.ApiBaseURIOption(endpoint),
			kucoin.ApiKeyOption(creds.Key),
			kucoin.ApiSecretOption(creds.Secret),
			kucoin.ApiPassPhraseOption(creds.Passphrase),
		),
		authorized: !creds.empty(),
	}
}

// WsToken requests a public bullet token. The SDK call is not cancellable;
// ctx only bounds how long the caller waits.
func (api *KucoinSyncAPI) WsToken(ctx context.Context) (*kucoin.WebSocketTokenModel, error) {
	token := &kucoin.WebSocketTokenModel{}
	err := api.call(ctx, func() (*kucoin.ApiResponse, error) {
		return api.apiService.WebSocketPublicToken()
	}, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get ws connection options: %w", err)
	}
	return token, nil
}

func (api *KucoinSyncAPI) OrderBookSnapshot(ctx context.Context, market *domain.Market, limit int) (*domain.OrderBookSnapshot, error) {
	logger.WithField("market", market.ID).Debug("fetching order book snapshot")

	data := &OrderBookSnapshot{}
	err := api.call(ctx, func() (*kucoin.ApiResponse, error) {
		if api.authorized {
			return api.apiService.AggregatedFullOrderBookV3(market.ID)
		}
		return api.apiService.AggregatedPartOrderBook(market.ID, partDepth(limit))
	}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}

	nonce, err := strconv.ParseInt(data.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to convert sequence to int: %w", err)
	}
	bids, err := domain.ParsePriceLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bids: %w", err)
	}
	asks, err := domain.ParsePriceLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse asks: %w", err)
	}

	return domain.LimitSnapshot(&domain.OrderBookSnapshot{
		Source:    domain.OrderBookSource_Provider,
		Symbol:    market.Symbol,
		Nonce:     nonce,
		Timestamp: helpers.UnixMilli(data.Time),
		Bids:      bids,
		Asks:      asks,
	}, limit), nil
}

// partDepth picks the smallest public book serving limit.
func partDepth(limit int) int64 {
	if limit > 0 && limit <= 20 {
		return 20
	}
	return 100
}

type apiResult struct {
	resp *kucoin.ApiResponse
	err  error
}

func (api *KucoinSyncAPI) call(ctx context.Context, fn func() (*kucoin.ApiResponse, error), v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan apiResult, 1)
	go func() {
		resp, err := fn()
		done <- apiResult{resp, err}
	}()

	var res apiResult
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return res.err
	}

	if !res.resp.ApiSuccessful() {
		status, _ := strconv.Atoi(res.resp.Code)
		exErr := domain.NewExchangeError(Provider, status, res.resp.Message)
		if res.resp.Code == codeTooManyRequests {
			exErr.Kind = domain.ErrRateLimitExceeded
		}
		return exErr
	}
	return res.resp.ReadData(v)
}
