package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/doc-sovereign/engine/internal/accesstoken"
	"github.com/doc-sovereign/engine/internal/applog"
	"github.com/doc-sovereign/engine/internal/bootstrap"
	"github.com/doc-sovereign/engine/internal/config"
	"github.com/doc-sovereign/engine/internal/portal"
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

	lg := applog.New("portal", cfg.LogLevel)

	bundle, err := bootstrap.New(cfg)
	if err != nil {
		lg.Fatal().Err(err).Msg("bootstrap failed")
	}

	tokens := accesstoken.NewStore(cfg.Portal.TokenStoreCap)
	srv := portal.NewServer(tokens, bundle.Lifecycle, bundle.CIDRegistry, bundle.Multisig, lg)

	httpSrv := &http.Server{
		Addr:              cfg.Portal.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lg.Info().Str("listen", cfg.Portal.Listen).Msg("sovereign portal listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.Fatal().Err(err).Msg("server failed")
	}
}
