package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/helpers"
)

var logger = logrus.WithField("component", "binance")

const DefaultRestEndpoint = "https://api.binance.com"

// depth limits accepted by /api/v3/depth
var depthLimits = []int{5, 10, 20, 50, 100, 500, 1000, 5000}

type DepthResponse struct {
	LastUpdateId int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Get OrderBookSnapshot (Depth)
type BinanceSyncAPI struct {
	endpoint string
	client   *http.Client
}

func NewBinanceSyncAPI(endpoint string, client *http.Client) *BinanceSyncAPI {
	if endpoint == "" {
		endpoint = DefaultRestEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &BinanceSyncAPI{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   client,
	}
}

func (api *BinanceSyncAPI) OrderBookSnapshot(ctx context.Context, market *domain.Market, limit int) (*domain.OrderBookSnapshot, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(market.ID))
	query.Set("limit", fmt.Sprintf("%d", depthLimit(limit)))
	endpoint := api.endpoint + "/api/v3/depth?" + query.Encode()
	logger.WithField("url", endpoint).Debug("fetching order book snapshot")

	var resp DepthResponse
	if err := helpers.GetJSON(ctx, api.client, endpoint, &resp); err != nil {
		return nil, restError(err)
	}

	bids, err := domain.ParsePriceLevels(resp.Bids)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bids: %w", err)
	}
	asks, err := domain.ParsePriceLevels(resp.Asks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse asks: %w", err)
	}

	return domain.LimitSnapshot(&domain.OrderBookSnapshot{
		Source: domain.OrderBookSource_Provider,
		Symbol: market.Symbol,
		Nonce:  resp.LastUpdateId,
		Bids:   bids,
		Asks:   asks,
	}, limit), nil
}

// depthLimit rounds up to the nearest accepted limit; 0 asks for the deepest
// book the endpoint serves, which is what a delta-synced book must start from.
func depthLimit(limit int) int {
	if limit <= 0 {
		return depthLimits[len(depthLimits)-1]
	}
	for _, l := range depthLimits {
		if limit <= l {
			return l
		}
	}
	return depthLimits[len(depthLimits)-1]
}

func restError(err error) error {
	var statusErr *helpers.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	body := apiError{Code: statusErr.StatusCode, Msg: statusErr.Body}
	_ = json.Unmarshal([]byte(statusErr.Body), &body)

	exErr := domain.NewExchangeError(Provider, body.Code, body.Msg)
	// 429 is the request weight limit, 418 an IP ban for ignoring it
	if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode == http.StatusTeapot {
		exErr.Kind = domain.ErrRateLimitExceeded
	}
	return exErr
}
