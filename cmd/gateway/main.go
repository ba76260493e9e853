package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/doc-sovereign/engine/internal/applog"
	"github.com/doc-sovereign/engine/internal/bootstrap"
	"github.com/doc-sovereign/engine/internal/config"
	"github.com/doc-sovereign/engine/internal/gateway"
)

func main() {
	cfgPath := os.Getenv("DOC_ENGINE_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/engine.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg := applog.New("gateway", cfg.LogLevel)

	bundle, err := bootstrap.New(cfg)
	if err != nil {
		lg.Fatal().Err(err).Msg("bootstrap failed")
	}

	srv := gateway.NewServer(bundle.Session, bundle.Intent, bundle.OTP, bundle.Lifecycle, cfg.Gateway.BaseURL, lg)

	httpSrv := &http.Server{
		Addr:              cfg.Gateway.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lg.Info().Str("listen", cfg.Gateway.Listen).Str("baseUrl", cfg.Gateway.BaseURL).Msg("signing gateway listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.Fatal().Err(err).Msg("server failed")
	}
}
