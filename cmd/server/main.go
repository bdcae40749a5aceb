package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"reconciliation-engine/internal/config"
	"reconciliation-engine/internal/database"
	"reconciliation-engine/internal/handlers"
	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/money"
	"reconciliation-engine/internal/repositories"
	"reconciliation-engine/internal/services"
	"reconciliation-engine/internal/widget"
)

func main() {
	migrateCmd := flag.String("migrate", "", "Migration command (up/down/version)")
	steps := flag.Int("steps", 0, "Number of migration steps (0 means all)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	zlog, err := newLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer zlog.Sync()
	logger := zlog.Sugar()

	db, err := database.NewConnection(cfg, logger)
	if err != nil {
		logger.Fatalw("connecting to database", "error", err)
	}
	defer db.Close()

	if *migrateCmd != "" {
		handleMigration(cfg, logger, *migrateCmd, *steps)
		return
	}

	bootstrap := repositories.NewLedgerRepository(db, nil, nil)
	currencies, err := bootstrap.LoadCurrencies(context.Background())
	if err != nil {
		logger.Fatalw("loading currencies", "error", err)
	}
	company, err := bootstrap.Company(context.Background(), cfg.Engine.CompanyID)
	if err != nil {
		logger.Fatalw("loading company", "company", cfg.Engine.CompanyID, "error", err)
	}

	book := repositories.NewLedgerRepository(db, company, currencies)
	statements := repositories.NewStatementRepository(db)
	rules := repositories.NewRuleRepository(db)

	env := &widget.Env{
		Company:    company,
		Currencies: currencies,
		Converter:  &money.Converter{Rates: book, Company: currencies.Get(company.Currency), Currencies: currencies},
		Taxes:      ledger.NewStandardTaxComputer(currencies.Get(company.Currency)),
		Directory:  book,
		Book:       book,
	}
	matcher := &matching.Matcher{
		Directory:  book,
		Book:       book,
		Currencies: currencies,
		Log:        logger,
	}
	validator := services.NewValidationService(book, statements, company, currencies, logger)
	widgets := services.NewWidgetService(env, statements, rules, matcher, validator, logger)
	autoReconcile := services.NewAutoReconcileService(
		statements, rules, matcher, validator, env, company,
		cfg.Engine.AutoReconcileDays, cfg.Engine.CronBatchSize, cfg.Engine.CronLimitTime,
		logger,
	)
	ingestion := handlers.NewIngestionHandler(statements, company.ID, logger)

	cronCtx, cronCancel := context.WithCancel(context.Background())
	defer cronCancel()
	go autoReconcile.Run(cronCtx, cfg.Engine.CronInterval)

	router := handlers.SetupRouter(widgets, validator, autoReconcile, ingestion, logger)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Infow("server running", "address", cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("HTTP server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	logger.Info("shutting down server")
	cronCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalw("server shutdown failed", "error", err)
	}
	logger.Info("server exited gracefully")
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func handleMigration(cfg *config.Config, logger *zap.SugaredLogger, command string, steps int) {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", cfg.Migration.Dir),
		cfg.GetMigrationDBURL(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "no change") {
			logger.Info("no migration changes to apply")
			return
		}
		logger.Fatalw("initializing migrate", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verErr := m.Version()
		if verErr != nil {
			if verErr == migrate.ErrNilVersion {
				logger.Info("no migrations have been applied yet")
				return
			}
			logger.Fatalw("getting migration version", "error", verErr)
		}
		fmt.Printf("Current migration version: %d (dirty: %v)\n", version, dirty)
		return
	default:
		logger.Fatalw("invalid migration command", "command", command)
	}

	if err != nil {
		if err == migrate.ErrNoChange {
			logger.Info("no migration changes to apply")
			return
		}
		logger.Fatalw("migration failed", "error", err)
	}

	logger.Info("migration completed successfully")
}
