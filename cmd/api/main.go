package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/wandertour/identity/internal/auth"
	"github.com/wandertour/identity/internal/config"
	"github.com/wandertour/identity/internal/cooldown"
	"github.com/wandertour/identity/internal/db"
	httphandler "github.com/wandertour/identity/internal/http"
	"github.com/wandertour/identity/internal/http/handlers"
	"github.com/wandertour/identity/internal/phone"
	"github.com/wandertour/identity/internal/repo"

	_ "github.com/lib/pq"
)

func main() {
	// Load .env from CWD so it works from repo root (env vars override)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	userRepo := repo.NewUserRepo(database)
	challengeRepo := repo.NewChallengeRepo(database)
	refreshRepo := repo.NewRefreshRepo(database)

	// Phone verification provider and send throttling
	bridge := phone.NewHTTPBridge(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout)
	tracker := cooldown.New(cfg.SendCooldown)

	// Session services
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	sessionService := auth.NewService(
		bridge,
		tracker,
		jwtService,
		userRepo,
		challengeRepo,
		refreshRepo,
		cfg.RefreshTokenTTL,
		cfg.ChallengeValidity,
		cfg.SendCooldown,
	)

	// Handlers and router
	authHandler := handlers.NewAuthHandler(sessionService)
	router := httphandler.NewRouter(authHandler, jwtService, userRepo)

	// Periodically garbage-collect expired, unconsumed challenges
	gcCtx, stopGC := context.WithCancel(ctx)
	defer stopGC()
	go challengeGC(gcCtx, challengeRepo)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopGC()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// challengeGC deletes challenges whose validity window has long passed.
// The grace period keeps recently expired rows around so a confirm attempt
// against a just-expired challenge still fails with a clean "no active
// challenge" instead of a missing-row surprise mid-request.
func challengeGC(ctx context.Context, challenges repo.ChallengeRepo) {
	const interval = 10 * time.Minute
	const grace = time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := challenges.DeleteExpired(ctx, time.Now().Add(-grace))
			if err != nil {
				log.Printf("Challenge GC failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("Challenge GC removed %d expired challenges", n)
			}
		}
	}
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from repo root)")
	}

	absDir, _ := filepath.Abs(migrationDir)
	log.Printf("Running migrations from %s", absDir)

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
