// Package main provides the entry point for the attendance daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cinebot/attend/internal/api"
	"github.com/cinebot/attend/internal/attend"
	"github.com/cinebot/attend/internal/audit"
	"github.com/cinebot/attend/internal/config"
	"github.com/cinebot/attend/internal/qualify"
	"github.com/cinebot/attend/internal/singleinstance"
	"github.com/cinebot/attend/internal/store"
	"github.com/cinebot/attend/internal/tier"
	"github.com/cinebot/attend/internal/version"
)

func main() {
	// 1. Local .env, if present, feeds the ATTEND_* overrides
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: .env load failed: %v", err)
	}

	// 2. Single instance check (Windows: mutex, other: no-op)
	release, ok, err := singleinstance.AcquireLock()
	if err != nil {
		log.Fatalf("Failed to acquire lock: %v", err)
	}
	if !ok {
		log.Println("Another instance is already running")
		os.Exit(1)
	}
	defer release()

	// 3. Load configuration (corrupt config falls back to defaults with warning)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	cfg = config.ApplyEnvOverrides(cfg)

	secrets, secretsStatus, err := config.LoadSecrets()
	if err != nil {
		log.Printf("Warning: %v", err)
	}

	// 4. Ensure an API token exists for the diagnostic endpoints
	updated, generatedToken, err := config.EnsureAPIToken(&secrets)
	if err != nil {
		log.Fatalf("Failed to ensure API token: %v", err)
	}
	// Only save if loaded successfully or file was missing (prevent overwrite on fallback)
	if updated && secretsStatus != config.SecretsFallback {
		if err := config.SaveSecrets(secrets); err != nil {
			log.Fatalf("Failed to save secrets: %v", err)
		}
		if generatedToken != "" {
			secretsPath, _ := config.SecretsPath()
			log.Printf("Generated API token; stored in %s", secretsPath)
		}
	} else if updated && secretsStatus == config.SecretsFallback {
		log.Println("WARNING: Secrets file has errors; new token not saved to avoid data loss")
		log.Println("Please fix or delete secrets.json and restart")
	}

	// 5. Parse flags (port can override config)
	port := flag.Int("port", cfg.Port, "HTTP server port")
	flag.Parse()

	// 6. Open SQLite store
	dbPath, err := config.DatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	if _, err := config.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to ensure data directory: %v", err)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// 7. Audit sink: Discord-compatible webhook when configured
	var sink audit.Sink = audit.NopSink{}
	if !secrets.AuditWebhookURL.IsEmpty() {
		sink = audit.NewWebhookSink(secrets.AuditWebhookURL)
		log.Println("Audit webhook enabled")
	} else {
		log.Println("Audit webhook not configured, audit entries discarded")
	}

	// 8. Build the engine. The tier assigner is wired once a platform role
	// manager is attached; the daemon alone runs without one.
	engineOpts := []attend.Option{
		attend.WithAuditSink(sink),
	}
	if cfg.SnapshotIntervalSec > 0 {
		engineOpts = append(engineOpts,
			attend.WithSnapshotInterval(time.Duration(cfg.SnapshotIntervalSec)*time.Second))
	}
	engine := attend.New(db, settingsFromConfig(cfg), engineOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 9. Recover before anything can mutate live state
	status, err := engine.RecoverPersistedSessions(ctx)
	if err != nil {
		log.Fatalf("Recovery failed: %v", err)
	}
	log.Printf("Recovery: %d events, %d sessions, %d rows skipped",
		status.EventsRecovered, status.SessionsRecovered, status.RowsSkipped)

	// 10. Periodic snapshots
	engine.StartSessionPersistence()

	// 11. Diagnostic HTTP API
	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	server := api.NewServer(addr, engine, db,
		api.WithToken(secrets.APIToken.Value()))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting attendd v%s on %s", version.String(), addr)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
		log.Println("Shutting down...")
	case err := <-errCh:
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}

	// Stop the loop first, then take one last snapshot so the recovery
	// window on the next start is as small as possible.
	engine.StopSessionPersistence()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := engine.PersistAll(flushCtx); err != nil {
		log.Printf("Final snapshot error: %v", err)
	}
	flushCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// settingsFromConfig converts the YAML config into the engine's settings
// source.
func settingsFromConfig(cfg config.Config) attend.StaticSettings {
	guilds := make(map[string]attend.GuildSettings, len(cfg.Guilds))
	for guildID, gc := range cfg.Guilds {
		gs := attend.GuildSettings{
			ThresholdMinutes: gc.ThresholdMinutes,
			Tiers:            tiersFromConfig(gc.Tiers),
			PanicFrozen:      gc.PanicFrozen,
		}
		// An unset guild mode stays empty so it inherits the default.
		if gc.Mode != "" {
			gs.Mode = qualify.ParseMode(gc.Mode)
		}
		guilds[guildID] = gs
	}
	return attend.StaticSettings{
		Defaults: attend.GuildSettings{
			Mode:             qualify.ParseMode(cfg.DefaultMode),
			ThresholdMinutes: cfg.DefaultThresholdMinutes,
		},
		Guilds: guilds,
	}
}

func tiersFromConfig(tcs []config.TierConfig) []tier.Tier {
	if len(tcs) == 0 {
		return nil
	}
	tiers := make([]tier.Tier, len(tcs))
	for i, tc := range tcs {
		tiers[i] = tier.Tier{Threshold: tc.Threshold, RoleID: tc.RoleID}
	}
	return tiers
}
