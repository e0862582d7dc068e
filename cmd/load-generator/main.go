package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/catalogstore/memoryengine"
	"github.com/flowlend/lending-coordinator-go/catalogstore/oteladapters"
	"github.com/flowlend/lending-coordinator-go/catalogstore/postgresengine"
	"github.com/flowlend/lending-coordinator-go/catalogstore/sqliteengine"
	"github.com/flowlend/lending-coordinator-go/config"
	"github.com/flowlend/lending-coordinator-go/coordinator"
	"github.com/flowlend/lending-coordinator-go/lending"
)

const (
	defaultRate            = 30
	defaultInitialItems    = 100
	defaultUsers           = 20
	defaultScenarioWeights = "70,20,10" // lending, queueing, approval
)

// Config holds the parsed command line configuration.
type Config struct {
	Engine               string
	Rate                 int
	InitialItems         int
	Users                int
	ScenarioWeights      []int
	ObservabilityEnabled bool
}

func main() {
	cfg := parseFlags()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create catalog store: %v", err)
	}
	defer cleanup()

	catalog, accounts, err := buildServices(store, cfg)
	if err != nil {
		log.Fatalf("Failed to create services: %v", err)
	}

	if err := seed(ctx, catalog, accounts, cfg); err != nil {
		log.Fatalf("Failed to seed catalog: %v", err)
	}

	loadGen := NewLoadGenerator(catalog, cfg)

	errChan := make(chan error, 1)
	go func() {
		if runErr := loadGen.Start(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			errChan <- fmt.Errorf("load generator failed: %w", runErr)
		}
	}()

	log.Printf("Lending load generator started")
	log.Printf("Configuration: engine=%s rate=%d req/s, items=%d, users=%d, scenario_weights=%v",
		cfg.Engine, cfg.Rate, cfg.InitialItems, cfg.Users, cfg.ScenarioWeights)
	log.Printf("Press Ctrl+C to stop...")

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	case err := <-errChan:
		log.Printf("Error occurred: %v", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := loadGen.Stop(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Printf("Load generator stopped")
}

func parseFlags() Config {
	var (
		engine          = flag.String("engine", "memory", "Catalog engine: memory, postgres or sqlite")
		rate            = flag.Int("rate", defaultRate, "Requests per second")
		initialItems    = flag.Int("initial-items", defaultInitialItems, "Number of items to add initially")
		users           = flag.Int("users", defaultUsers, "Number of concurrent simulated users")
		scenarioWeights = flag.String("scenario-weights", defaultScenarioWeights, "Comma-separated weights for lending,queueing,approval scenarios")
		observability   = flag.Bool("observability-enabled", false, "Enable OpenTelemetry observability")
	)

	flag.Parse()

	weights, err := parseScenarioWeights(*scenarioWeights)
	if err != nil {
		log.Fatalf("Invalid scenario weights '%s': %v", *scenarioWeights, err)
	}

	return Config{
		Engine:               *engine,
		Rate:                 *rate,
		InitialItems:         *initialItems,
		Users:                *users,
		ScenarioWeights:      weights,
		ObservabilityEnabled: *observability,
	}
}

func parseScenarioWeights(weightsStr string) ([]int, error) {
	parts := strings.Split(weightsStr, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 weights, got %d", len(parts))
	}

	weights := make([]int, 3)
	total := 0
	for i, part := range parts {
		weight, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid weight '%s': %w", part, err)
		}
		if weight < 0 || weight > 100 {
			return nil, fmt.Errorf("weight %d out of range [0, 100]", weight)
		}
		weights[i] = weight
		total += weight
	}

	if total != 100 {
		return nil, fmt.Errorf("weights must sum to 100, got %d", total)
	}

	return weights, nil
}

func buildStore(ctx context.Context, cfg Config) (catalogstore.Store, func(), error) {
	switch cfg.Engine {
	case "memory":
		return memoryengine.NewStore(), func() {}, nil

	case "postgres":
		pgxPool, err := pgxpool.NewWithConfig(ctx, config.PostgresPGXPoolConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("creating pgx pool: %w", err)
		}
		if pingErr := pgxPool.Ping(ctx); pingErr != nil {
			pgxPool.Close()
			return nil, nil, fmt.Errorf("connecting to database: %w", pingErr)
		}

		var options []postgresengine.Option
		if cfg.ObservabilityEnabled {
			options = append(options,
				postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger("lending-load-generator")),
			)
		}

		store, err := postgresengine.NewCatalogStoreFromPGXPool(pgxPool, options...)
		if err != nil {
			pgxPool.Close()
			return nil, nil, err
		}

		return store, pgxPool.Close, nil

	case "sqlite":
		db := config.SQLiteDBConfig()

		store, err := sqliteengine.NewCatalogStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}

		return store, func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

func buildServices(store catalogstore.Store, cfg Config) (*coordinator.Catalog, *coordinator.Accounts, error) {
	var catalogOptions []coordinator.CatalogOption

	if cfg.ObservabilityEnabled {
		meter := otel.Meter("lending-load-generator")
		catalogOptions = append(catalogOptions,
			coordinator.WithMetrics(oteladapters.NewMetricsCollector(meter)),
		)
	}

	catalog, err := coordinator.NewCatalog(store, catalogOptions...)
	if err != nil {
		return nil, nil, err
	}

	accounts, err := coordinator.NewAccounts(store)
	if err != nil {
		return nil, nil, err
	}

	return catalog, accounts, nil
}

// seed creates the admin, the simulated users and the initial items.
func seed(ctx context.Context, catalog *coordinator.Catalog, accounts *coordinator.Accounts, cfg Config) error {
	if err := accounts.SeedAdmin(ctx, adminUser, "load-test-admin"); err != nil {
		return err
	}

	for i := 1; i <= cfg.Users; i++ {
		username := fmt.Sprintf("user-%d", i)

		outcome, err := accounts.Register(ctx, username, "load-test", lending.RoleUser)
		if err != nil {
			return err
		}
		if !outcome.OK && !strings.Contains(outcome.Message, "taken") {
			return fmt.Errorf("registering %s: %s", username, outcome.Message)
		}
	}

	existing, err := catalog.ListItems(ctx)
	if err != nil {
		return err
	}
	if len(existing) >= cfg.InitialItems {
		return nil
	}

	for i := len(existing) + 1; i <= cfg.InitialItems; i++ {
		outcome, addErr := catalog.AddItem(ctx, adminUser, fmt.Sprintf("Load Test Item %d", i), "Load Tester")
		if addErr != nil {
			return addErr
		}
		if !outcome.OK {
			return fmt.Errorf("adding item %d: %s", i, outcome.Message)
		}
	}

	return nil
}
