package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trackchain/go-client/internal/aliasstore"
	"trackchain/go-client/internal/app"
	"trackchain/go-client/internal/ledger"
	"trackchain/go-client/internal/ledgerconfig"
	"trackchain/go-client/internal/signer"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to trackchain.yaml (optional)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus listen address override")
	transport := flag.String("transport", "", "ledger transport override: http | mock")
	flag.Parse()
	if *showVersion {
		fmt.Printf("trackwatch version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *transport != "" {
		_ = os.Setenv("TRACK_LEDGER_TRANSPORT", *transport)
	}
	if *metricsAddr != "" {
		_ = os.Setenv("TRACK_METRICS_ADDR", *metricsAddr)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := ledgerconfig.LoadFromPath(*configPath)

	owner := cfg.Client.Owner
	if owner == "" && cfg.Client.MnemonicFile != "" {
		data, err := os.ReadFile(cfg.Client.MnemonicFile)
		if err != nil {
			logger.Error("read mnemonic file", "error", err)
			os.Exit(1)
		}
		id, err := signer.FromMnemonic(string(data))
		if err != nil {
			logger.Error("derive identity", "error", err)
			os.Exit(1)
		}
		owner = id.Address
	}
	if owner == "" {
		logger.Error("no owner configured: set client.owner, TRACK_OWNER, or client.mnemonicFile")
		os.Exit(1)
	}

	aliases, err := aliasstore.Open(cfg.Client.AliasFile)
	if err != nil {
		logger.Error("open alias registry", "error", err)
		os.Exit(1)
	}

	gw, err := ledger.New(cfg.Ledger)
	if err != nil {
		logger.Error("build ledger gateway", "error", err)
		os.Exit(1)
	}

	svc, err := app.NewService(gw, app.Options{
		ChainID:              cfg.Ledger.ChainID,
		Owner:                owner,
		StrictTerminalStates: cfg.Client.StrictTerminalStates,
		RefreshMinInterval:   cfg.Client.RefreshMinInterval,
		AliasLookup:          aliases.Lookup,
		Logger:               logger,
	})
	if err != nil {
		logger.Error("build service", "error", err)
		os.Exit(1)
	}

	if addr := cfg.Client.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listener started", "addr", addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	if err := svc.Refresh(ctx); err != nil {
		logger.Warn("initial refresh failed", "error", err)
	}

	stopRefresh, err := svc.StartLiveRefresh(ctx)
	if err != nil {
		logger.Error("live refresh failed to start", "error", err)
		os.Exit(1)
	}
	defer stopRefresh()

	logger.Info("trackwatch started", "owner", svc.Owner(), "chainId", cfg.Ledger.ChainID, "transport", cfg.Ledger.Transport)
	<-ctx.Done()
	logger.Info("trackwatch stopped")
}
