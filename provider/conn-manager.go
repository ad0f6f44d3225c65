package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/config"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/provider/binance"
	"github.com/spooky-finn/go-cryptomarkets-sync/provider/bitmex"
	"github.com/spooky-finn/go-cryptomarkets-sync/provider/kucoin"
	"github.com/spooky-finn/go-cryptomarkets-sync/provider/ripio"
	"github.com/spooky-finn/go-cryptomarkets-sync/stream"
)

var logger = logrus.WithField("component", "conn-manager")

// ConnectionManager owns one stream client per enabled provider. Connections
// are dialed lazily by the clients on first watch.
type ConnectionManager struct {
	providers []string
	clients   map[string]*stream.Client
	syncAPIs  map[string]domain.ProviderSyncAPI
}

func NewConnectionManager(ctx context.Context, cfg *config.Config) (*ConnectionManager, error) {
	cm := &ConnectionManager{
		clients:  make(map[string]*stream.Client),
		syncAPIs: make(map[string]domain.ProviderSyncAPI),
	}

	opts := stream.Options{
		SnapshotWarmup: cfg.Stream.SnapshotWarmup,
		TradesLimit:    cfg.Stream.TradesLimit,
		GapLimit:       cfg.Stream.GapLimit,
		QueueSize:      cfg.Stream.QueueSize,
	}
	httpClient := &http.Client{Timeout: cfg.Snapshot.Timeout}

	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]

		var (
			api     domain.ProviderStreamAPI
			syncAPI domain.ProviderSyncAPI
			dialer  = stream.WebsocketDialer{}
		)

		switch name {
		case binance.Provider:
			api = binance.NewBinanceStreamAPI(pc.WsURL)
			syncAPI = binance.NewBinanceSyncAPI(pc.RestURL, httpClient)
		case ripio.Provider:
			api = ripio.NewRipioStreamAPI(pc.WsURL)
			syncAPI = ripio.NewRipioSyncAPI(pc.RestURL, httpClient)
		case bitmex.Provider:
			// the realtime feed carries its own snapshots, there is no sync api
			api = bitmex.NewBitmexStreamAPI(pc.WsURL, time.Now)
		case kucoin.Provider:
			kucoinSyncAPI := kucoin.NewKucoinSyncAPI(pc.RestURL, kucoin.Credentials{
				Key:        cfg.Kucoin.APIKey,
				Secret:     cfg.Kucoin.SecretKey,
				Passphrase: cfg.Kucoin.Passphrase,
			})
			token, err := kucoinSyncAPI.WsToken(ctx)
			if err != nil {
				cm.Close()
				return nil, err
			}
			kucoinStreamAPI, err := kucoin.NewKucoinStreamAPI(token)
			if err != nil {
				cm.Close()
				return nil, err
			}
			api = kucoinStreamAPI
			syncAPI = kucoinSyncAPI
			dialer.PingFrame = kucoinStreamAPI.PingFrame
			dialer.PingPeriod = kucoinStreamAPI.PingInterval()
		default:
			cm.Close()
			return nil, fmt.Errorf("provider %s is not supported", name)
		}

		if syncAPI != nil {
			syncAPI = NewRetryingSyncAPI(name, syncAPI, cfg.Snapshot.MaxTries, cfg.Snapshot.Timeout)
			cm.syncAPIs[name] = syncAPI
		}

		catalog := domain.NewMarketCatalog(api.DefaultMarket, pc.Markets)
		cm.clients[name] = stream.NewClient(api, syncAPI, catalog, dialer, opts)
		cm.providers = append(cm.providers, name)

		logger.WithField("provider", name).Info("provider enabled")
	}

	return cm, nil
}

func (cm *ConnectionManager) Providers() []string {
	return append([]string(nil), cm.providers...)
}

func (cm *ConnectionManager) Watcher(provider string) (domain.OrderBookWatcher, error) {
	client, ok := cm.clients[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s is not enabled", provider)
	}
	return client, nil
}

func (cm *ConnectionManager) SyncAPI(provider string) domain.ProviderSyncAPI {
	return cm.syncAPIs[provider]
}

// Close unwatches everything and closes every connection.
func (cm *ConnectionManager) Close() {
	for name, client := range cm.clients {
		if err := client.Close(); err != nil {
			logger.WithError(err).WithField("provider", name).Warn("failed to close client")
		}
	}
}
