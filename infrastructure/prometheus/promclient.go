package promclient

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "promclient")

var OpenOrderBookGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "marketsync_open_order_books",
		Help: "order books currently maintained, per provider",
	},
	[]string{"provider"},
)

var FramesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marketsync_frames_total",
		Help: "decoded inbound messages, per provider and kind",
	},
	[]string{"provider", "kind"},
)

var DecodeErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marketsync_decode_errors_total",
		Help: "inbound frames dropped because they could not be decoded",
	},
	[]string{"provider"},
)

var UnroutedMessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marketsync_unrouted_messages_total",
		Help: "decoded messages that matched no subscription",
	},
	[]string{"provider"},
)

var SnapshotFetchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marketsync_snapshot_fetches_total",
		Help: "order book snapshot fetches, per provider and result",
	},
	[]string{"provider", "result"},
)

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(OpenOrderBookGauge)
	reg.MustRegister(FramesTotal)
	reg.MustRegister(DecodeErrorsTotal)
	reg.MustRegister(UnroutedMessagesTotal)
	reg.MustRegister(SnapshotFetchesTotal)
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

func NewRouter(reg *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

func NewServer(addr string, reg *prometheus.Registry) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// StartPromClientServer blocks serving /metrics and /healthz until srv is shut down.
func StartPromClientServer(srv *http.Server) {
	logger.Infof("prometheus server listening at %s", srv.Addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("metrics server stopped")
	}
}
