package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/doc-sovereign/engine/internal/applog"
	"github.com/doc-sovereign/engine/internal/backup"
	"github.com/doc-sovereign/engine/internal/config"
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

	lg := applog.New("backup-agent", cfg.LogLevel)

	if !cfg.Backup.Enable {
		lg.Info().Msg("backup agent disabled by config, exiting")
		return
	}

	var remote backup.RemoteMirror
	if cfg.Backup.Azure.Enable {
		mirror, err := backup.NewAzureMirror(cfg.Backup.Azure.ConnectionString, cfg.Backup.Azure.Container)
		if err != nil {
			lg.Fatal().Err(err).Msg("azure mirror setup failed")
		}
		remote = mirror
	}

	agent, err := backup.Open(backup.Options{
		DataDir:    cfg.DataDir,
		BackupDir:  cfg.Backup.Dir,
		LedgerPath: filepath.Join(cfg.Backup.Dir, "backup-ledger.json"),
		Remote:     remote,
		Retention:  cfg.Backup.Retention.Duration,
	})
	if err != nil {
		lg.Fatal().Err(err).Msg("backup agent open failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Backup.Interval.Duration)
	defer ticker.Stop()

	runOnce := func() {
		result, err := agent.Run(ctx, backup.RunParams{Passphrase: cfg.Backup.Passphrase})
		if err != nil {
			lg.Error().Err(err).Msg("backup run failed")
			return
		}
		lg.Info().Str("backupId", result.Manifest.BackupID).Str("path", result.Path).Int64("totalSize", result.Manifest.TotalSize).Msg("backup completed")

		if removed, err := agent.Prune(); err != nil {
			lg.Error().Err(err).Msg("backup prune failed")
		} else if removed > 0 {
			lg.Info().Int("removed", removed).Msg("pruned expired backups")
		}
	}

	lg.Info().Str("interval", cfg.Backup.Interval.Duration.String()).Str("dir", cfg.Backup.Dir).Msg("backup agent started")
	runOnce()

	for {
		select {
		case <-ticker.C:
			runOnce()
		case <-ctx.Done():
			lg.Info().Msg("backup agent shutting down, in-flight backup (if any) already completed")
			return
		}
	}
}
