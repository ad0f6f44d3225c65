package rpc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/usecase"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var logger = logrus.WithField("component", "rpc")

type Server struct {
	orderbookSnapshotUseCase *usecase.OrderBookSnapshotUseCase
	connManager              domain.ConnManager
	validationService        *ValidationService
}

func NewServer(connManager domain.ConnManager, conf *ValidationServiceConfig) *Server {
	return &Server{
		orderbookSnapshotUseCase: usecase.NewOrderBookSnapshotUseCase(connManager),
		connManager:              connManager,
		validationService:        NewValidationService(conf),
	}
}

// NewGRPCServer returns a grpc server with the market data service registered.
func NewGRPCServer(srv MarketDataServiceServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor))
	s := grpc.NewServer(opts...)
	RegisterMarketDataServiceServer(s, srv)
	return s
}

func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	log := logger.WithFields(logrus.Fields{
		"method":   info.FullMethod,
		"code":     status.Code(err).String(),
		"duration": time.Since(start),
	})
	if err != nil {
		log.WithError(err).Warn("rpc failed")
	} else {
		log.Debug("rpc served")
	}
	return resp, err
}
