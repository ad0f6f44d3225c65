package ripio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/helpers"
)

var logger = logrus.WithField("component", "ripio")

type OrderBookResponse struct {
	Buy       []BookLevel `json:"buy"`
	Sell      []BookLevel `json:"sell"`
	UpdatedID int64       `json:"updated_id"`
}

type RipioSyncAPI struct {
	endpoint string
	client   *http.Client
}

func NewRipioSyncAPI(endpoint string, client *http.Client) *RipioSyncAPI {
	if endpoint == "" {
		endpoint = DefaultRestEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RipioSyncAPI{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   client,
	}
}

func (api *RipioSyncAPI) OrderBookSnapshot(ctx context.Context, market *domain.Market, limit int) (*domain.OrderBookSnapshot, error) {
	url := fmt.Sprintf("%s/orderbook/%s/", api.endpoint, market.ID)
	logger.WithField("url", url).Debug("fetching order book snapshot")

	var resp OrderBookResponse
	if err := helpers.GetJSON(ctx, api.client, url, &resp); err != nil {
		return nil, restError(err)
	}

	bids, err := priceLevels(resp.Buy)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bids: %w", err)
	}
	asks, err := priceLevels(resp.Sell)
	if err != nil {
		return nil, fmt.Errorf("failed to parse asks: %w", err)
	}

	return domain.LimitSnapshot(&domain.OrderBookSnapshot{
		Source: domain.OrderBookSource_Provider,
		Symbol: market.Symbol,
		Nonce:  resp.UpdatedID,
		Bids:   bids,
		Asks:   asks,
	}, limit), nil
}

func priceLevels(levels []BookLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err := helpers.ParseDecimal(l.Price)
		if err != nil {
			return nil, err
		}
		amount, err := helpers.ParseDecimal(l.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PriceLevel{Price: price, Amount: amount})
	}
	return out, nil
}

func restError(err error) error {
	var statusErr *helpers.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	exErr := domain.NewExchangeError(Provider, statusErr.StatusCode, statusErr.Body)
	if statusErr.StatusCode == http.StatusTooManyRequests {
		exErr.Kind = domain.ErrRateLimitExceeded
	}
	return exErr
}
