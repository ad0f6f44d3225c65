package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/config"
	"github.com/spooky-finn/go-cryptomarkets-sync/infrastructure/kafka"
	"github.com/spooky-finn/go-cryptomarkets-sync/infrastructure/logging"
	promclient "github.com/spooky-finn/go-cryptomarkets-sync/infrastructure/prometheus"
	"github.com/spooky-finn/go-cryptomarkets-sync/provider"
	"github.com/spooky-finn/go-cryptomarkets-sync/rpc"
	"github.com/spooky-finn/go-cryptomarkets-sync/usecase"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the yaml config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logrus.WithError(err).Error("marketsync stopped")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connManager, err := provider.NewConnectionManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer connManager.Close()

	metricsServer := promclient.NewServer(cfg.Metrics.Addr, promclient.NewRegistry())
	go promclient.StartPromClientServer(metricsServer)

	lis, err := net.Listen("tcp", cfg.RPC.Addr)
	if err != nil {
		return err
	}
	grpcServer := rpc.NewGRPCServer(rpc.NewServer(connManager, &rpc.ValidationServiceConfig{
		AvailableProviders: connManager.Providers(),
	}))

	errs := make(chan error, 2)
	go func() {
		logrus.Infof("grpc server listening at %v", lis.Addr())
		errs <- grpcServer.Serve(lis)
	}()

	if len(cfg.Kafka.Books) > 0 {
		books := make([]usecase.BookRef, 0, len(cfg.Kafka.Books))
		for _, s := range cfg.Kafka.Books {
			ref, err := usecase.ParseBookRef(s)
			if err != nil {
				return err
			}
			books = append(books, ref)
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()

		publisher := usecase.NewBookPublisherUseCase(connManager, producer, cfg.Kafka.Depth)
		go func() {
			if err := publisher.Run(ctx, books); err != nil {
				logrus.WithError(err).Error("book publisher stopped")
			}
		}()
	}

	select {
	case <-ctx.Done():
		logrus.Info("shutting down")
	case err = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logrus.WithError(shutdownErr).Warn("metrics server shutdown")
	}
	grpcServer.GracefulStop()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
