// Command gateway launches the market-data gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/tidefeed/gateway/config"
	"github.com/tidefeed/gateway/internal/bus/eventbus"
	"github.com/tidefeed/gateway/internal/observability"
	"github.com/tidefeed/gateway/internal/registry"
	"github.com/tidefeed/gateway/internal/server"
	"github.com/tidefeed/gateway/internal/services"
	"github.com/tidefeed/gateway/internal/telemetry"
)

const (
	shutdownTimeout          = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewStdLogger(os.Stdout, observability.ParseLevel(cfg.LogLevel))
	observability.SetLogger(logger)
	logger.Info("configuration loaded",
		observability.F("listen_addr", cfg.ListenAddr),
		observability.F("symbols", len(cfg.Symbols())))

	telemetryProvider, err := initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("initialize telemetry", observability.F("error", err))
		os.Exit(1)
	}
	observability.SetMetrics(telemetry.NewRecorder(telemetryProvider.Meter("gateway")))

	reg := registry.NewDefault(registry.Config{MaxBackoff: cfg.MaxBackoff()})
	reg.InitializeAll(ctx)

	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{QueueCapacity: cfg.BusQueueCapacity})

	liqSources, tradeSources, oiSource := buildSources(reg)

	liquidations := services.NewLiquidationService(bus, liqSources, services.LiquidationConfig{
		MinValueUSD: cfg.LiquidationMinValueUSD,
	})
	largeTrades := services.NewLargeTradeService(bus, tradeSources, services.LargeTradeConfig{
		Symbols:      cfg.Symbols(),
		ThresholdUSD: cfg.LargeTradeThresholdUSD,
	})
	var oiVol *services.OIVolService
	if oiSource != nil {
		oiVol = services.NewOIVolService(bus, oiSource, services.OIVolConfig{
			SymbolsLimit:   cfg.OIVolSymbolsLimit,
			Timeframes:     cfg.MonitorTimeframes(),
			Thresholds:     cfg.OIVolThresholds,
			MinOIValueUSD:  cfg.OIVolMinOIUSD,
			MinQuoteVolume: cfg.OIVolMinQuoteVolume,
			CycleInterval:  cfg.OIVolCycle(),
		})
	}

	liquidations.Start(ctx)
	largeTrades.Start(ctx)
	if oiVol != nil {
		oiVol.Start(ctx)
	}

	handler := server.NewHandler(server.Config{
		SupportedSymbols:        cfg.Symbols(),
		MaxSymbolsPerConnection: cfg.MaxSymbolsPerConnection,
		FirehoseMinValueUSD:     cfg.FirehoseMinValueUSD,
		Timeframes:              cfg.MonitorTimeframes(),
		AllowedOrigins:          cfg.CORSOrigins,
	}, reg, bus)

	apiServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server terminated", observability.F("error", err))
			cancel()
		}
	})
	logger.Info("gateway listening", observability.F("addr", cfg.ListenAddr))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", observability.F("error", err))
	}
	liquidations.Stop()
	largeTrades.Stop()
	if oiVol != nil {
		oiVol.Stop()
	}
	reg.ShutdownAll(shutdownCtx)
	bus.Close()
	lifecycle.Wait()

	telemetryCtx, telemetryCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer telemetryCancel()
	if err := telemetryProvider.Shutdown(telemetryCtx); err != nil {
		logger.Warn("telemetry shutdown", observability.F("error", err))
	}

	logger.Info("shutdown complete",
		observability.F("duration", time.Since(shutdownStart).Round(time.Millisecond)))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", "path to gateway configuration file (default: config/gateway.yaml)")
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initTelemetry(ctx context.Context, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
		telemetryCfg.Enabled = true
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	return telemetry.NewProvider(ctx, telemetryCfg)
}

// buildSources selects aggregation inputs by capability. The oi/vol monitor
// samples Binance only; its REST surface carries the historical series the
// z-score windows need.
func buildSources(reg *registry.Registry) ([]services.LiquidationSource, []services.TradeSource, services.OIVolSource) {
	var liq []services.LiquidationSource
	var trades []services.TradeSource
	for _, name := range reg.List() {
		connector, ok := reg.Get(name)
		if !ok {
			continue
		}
		if reg.Supports(name, registry.FeatureLiquidations) {
			if src, ok := connector.(services.LiquidationSource); ok {
				liq = append(liq, src)
			}
		}
		if reg.Supports(name, registry.FeatureLargeTrades) {
			if src, ok := connector.(services.TradeSource); ok {
				trades = append(trades, src)
			}
		}
	}

	var oiSource services.OIVolSource
	if connector, ok := reg.Get("binance"); ok {
		if src, ok := connector.(services.OIVolSource); ok {
			oiSource = src
		}
	}
	return liq, trades, oiSource
}
