package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tallygate/service-attendance-go/internal/bus"
	"github.com/tallygate/service-attendance-go/internal/directory"
	"github.com/tallygate/service-attendance-go/internal/entry"
	entryrepo "github.com/tallygate/service-attendance-go/internal/entry/repo"
	"github.com/tallygate/service-attendance-go/internal/orphan"
	orphanrepo "github.com/tallygate/service-attendance-go/internal/orphan/repo"
	"github.com/tallygate/service-attendance-go/internal/router"
	"github.com/tallygate/service-attendance-go/internal/scanner"
	scannerrepo "github.com/tallygate/service-attendance-go/internal/scanner/repo"
	"github.com/tallygate/service-attendance-go/pkg/database"
	"github.com/tallygate/service-attendance-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.InitLogger(utilities.LogConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-attendance-go")

	// init db
	cfg := database.ConfigFromEnv()
	db, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	// owned tables
	entryRepo := entryrepo.NewEntryRepo(db)
	if err := entryRepo.EnsureTable(bootCtx); err != nil {
		sugar.Fatalf("ensure entries table: %v", err)
	}
	orphanRepo := orphanrepo.NewOrphanRepo(db)
	if err := orphanRepo.EnsureTable(bootCtx); err != nil {
		sugar.Fatalf("ensure orphaned_entries table: %v", err)
	}
	scannerRepo := scannerrepo.NewScannerRepo(db)
	if err := scannerRepo.EnsureTable(bootCtx); err != nil {
		sugar.Fatalf("ensure scanners table: %v", err)
	}

	// external-module tables (local dev convenience)
	dir := directory.New(db)
	if err := dir.EnsureTables(bootCtx); err != nil {
		sugar.Fatalf("ensure directory tables: %v", err)
	}

	// integration event dispatch
	b := bus.New(sugar)

	// scanner auth
	authSvc := scanner.NewAuthService(scannerRepo, nil, scanner.AuthConfigFromEnv(), sugar)

	// optional dev bootstrap: provision one scanner from env so a fresh
	// database is immediately usable
	if email := os.Getenv("SCANNER_BOOTSTRAP_EMAIL"); email != "" {
		if err := bootstrapScanner(bootCtx, scannerRepo, email, sugar); err != nil {
			sugar.Fatalf("bootstrap scanner: %v", err)
		}
	}

	// capture engine
	var orphanSvc *orphan.Service
	ingestSvc := entry.NewIngestService(entryRepo, quarantinerFn(func(ctx context.Context, rec entry.OrphanRecord) error {
		return orphanSvc.Quarantine(ctx, rec)
	}), authSvc, dir, dir, b, sugar)
	orphanSvc = orphan.NewService(orphanRepo, dir, ingestSvc, sugar)

	reconciler := entry.NewReconciler(entryRepo, dir, sugar)
	reconciler.Register(b)

	querySvc := entry.NewQueryService(entryRepo)

	// handlers
	identity := func(r *http.Request) (int64, string, bool) {
		claims, ok := scanner.ClaimsFromContext(r.Context())
		if !ok {
			return 0, "", false
		}
		return claims.OrganizationID, claims.Email, true
	}
	deps := router.Deps{
		Scanner:     scanner.NewHandler(authSvc, sugar),
		ScannerAuth: authSvc,
		Entry:       entry.NewHandler(ingestSvc, querySvc, reconciler, identity, sugar),
		Orphan:      orphan.NewHandler(orphanSvc, sugar),
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// mount http server
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8452"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: router.RegisterRoutes(sugar, deps),
	}

	go func() {
		sugar.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	// let in-flight reconciliation handlers finish
	b.Drain()

	sugar.Info("goodbye")
}

// quarantinerFn adapts a closure to entry.Quarantiner; the ingest service
// and the orphan service reference each other, so one side is wired late.
type quarantinerFn func(ctx context.Context, rec entry.OrphanRecord) error

func (f quarantinerFn) Quarantine(ctx context.Context, rec entry.OrphanRecord) error {
	return f(ctx, rec)
}

// bootstrapScanner provisions the scanner named by SCANNER_BOOTSTRAP_EMAIL if
// it does not exist yet. SCANNER_BOOTSTRAP_SECRET and SCANNER_BOOTSTRAP_ORG
// complete the row.
func bootstrapScanner(ctx context.Context, repo *scannerrepo.ScannerRepo, email string, sugar *zap.SugaredLogger) error {
	existing, err := repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	secret := os.Getenv("SCANNER_BOOTSTRAP_SECRET")
	if secret == "" {
		return fmt.Errorf("SCANNER_BOOTSTRAP_SECRET required to provision %s", email)
	}
	orgID := int64(1)
	if s := os.Getenv("SCANNER_BOOTSTRAP_ORG"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			orgID = v
		}
	}

	hash, err := (scanner.BcryptHasher{Cost: 12}).Hash(secret)
	if err != nil {
		return err
	}
	err = repo.Create(ctx, &scanner.Scanner{
		ID:             utilities.NewEntryID(),
		OrganizationID: orgID,
		Email:          email,
		SecretHash:     hash,
		Label:          "bootstrap",
		Status:         "active",
	})
	if err != nil {
		return err
	}
	sugar.Infow("bootstrap scanner provisioned", "email", email, "organization_id", orgID)
	return nil
}
