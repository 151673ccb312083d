// Relaybox - per-device command mailbox server.
//
// An admin queues commands (send SMS, sync contacts, dial USSD, ...) for a
// phone; the phone picks them up by short-polling and uploads telemetry in
// return. Configuration is read from configs/config.yaml (or RELAYBOX_CONFIG)
// with RELAYBOX_* environment overrides.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	_ "github.com/nerrad567/relaybox/migrations"

	"github.com/nerrad567/relaybox/internal/admin"
	"github.com/nerrad567/relaybox/internal/api"
	"github.com/nerrad567/relaybox/internal/audit"
	"github.com/nerrad567/relaybox/internal/auth"
	"github.com/nerrad567/relaybox/internal/device"
	"github.com/nerrad567/relaybox/internal/dispatch"
	"github.com/nerrad567/relaybox/internal/infrastructure/config"
	"github.com/nerrad567/relaybox/internal/infrastructure/database"
	"github.com/nerrad567/relaybox/internal/infrastructure/influxdb"
	"github.com/nerrad567/relaybox/internal/infrastructure/logging"
	"github.com/nerrad567/relaybox/internal/infrastructure/mqtt"
	"github.com/nerrad567/relaybox/internal/notify"
	"github.com/nerrad567/relaybox/internal/persist"
	"github.com/nerrad567/relaybox/internal/poll"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath  = "configs/config.yaml"
	defaultEnvFilePath = ".env"
)

// options are the command-line flags.
type options struct {
	configPath  string
	envFile     string
	hashSecret  string
	showVersion bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := execute(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	var opts options
	flags := flag.NewFlagSet("relaybox", flag.ContinueOnError)
	flags.SetOutput(errOut)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default $RELAYBOX_CONFIG or "+defaultConfigPath+")")
	flags.StringVar(&opts.envFile, "env-file", defaultEnvFilePath, "dotenv file loaded before the config; missing files are ignored")
	flags.StringVar(&opts.hashSecret, "hash-secret", "", "print the argon2id hash of the given admin secret and exit")
	flags.BoolVarP(&opts.showVersion, "version", "v", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// execute handles the one-shot flags, then runs the server.
func execute(ctx context.Context, opts options, out io.Writer) error {
	switch {
	case opts.showVersion:
		fmt.Fprintf(out, "relaybox %s (commit %s, built %s)\n", version, commit, date)
		return nil
	case opts.hashSecret != "":
		hash, err := auth.HashSecret(opts.hashSecret)
		if err != nil {
			return fmt.Errorf("hashing secret: %w", err)
		}
		fmt.Fprintln(out, hash)
		return nil
	}
	return run(ctx, opts)
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting Relaybox",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return err
	}

	configPath := getConfigPath(opts.configPath)
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"poll_mode", cfg.Mailbox.PollMode,
		"max_pending", cfg.Mailbox.MaxPending,
	)

	registry := device.NewRegistry(cfg.Mailbox.MaxPending)
	registry.SetLogger(log.With("component", "registry"))

	checks := make(map[string]api.HealthChecker)

	// Persistence is opened first so the registry is restored before any
	// request can reach it.
	var (
		store     *persist.SQLiteStore
		auditRepo audit.Repository
		trail     *audit.Trail
	)
	if cfg.Persistence.Enabled {
		db, st, closeStore, perr := openPersistence(ctx, cfg, registry, log)
		if perr != nil {
			return perr
		}
		defer closeStore()
		store = st
		checks["database"] = db

		repo := audit.NewSQLiteRepository(db.DB)
		auditRepo = repo
		trail = audit.NewTrail(repo)
		trail.SetLogger(log.With("component", "audit"))
	} else {
		log.Info("persistence disabled; mailbox state lives in memory only")
	}
	defer func() {
		if closeErr := registry.Close(); closeErr != nil {
			log.Error("final snapshot flush failed", "error", closeErr)
		}
	}()

	dispatcher := dispatch.New(registry)
	dispatcher.SetLogger(log.With("component", "dispatch"))

	pollMode, err := poll.ParseMode(cfg.Mailbox.PollMode)
	if err != nil {
		return fmt.Errorf("mailbox.poll_mode: %w", err)
	}
	poller := poll.New(registry, pollMode)
	poller.SetLogger(log.With("component", "poll"))
	if trail != nil {
		dispatcher.AddSyncNotifier(trail)
		poller.AddDeliveryListener(trail)
	}

	// MQTT wake-ups (optional).
	if cfg.MQTT.Enabled {
		mqttClient, merr := mqtt.Connect(ctx, cfg.MQTT,
			mqtt.WithLogger(log.With("component", "mqtt")),
			mqtt.WithOnConnect(func() { log.Debug("MQTT session established") }),
			mqtt.WithOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) }),
		)
		if merr != nil {
			return fmt.Errorf("connecting to MQTT: %w", merr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		dispatcher.AddNotifier(notify.NewMQTTNotifier(mqttClient))
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled; devices are reached by polling only")
	}

	// InfluxDB event recording (optional).
	var telemetry api.TelemetryRecorder
	if cfg.InfluxDB.Enabled {
		influxClient, ierr := influxdb.Connect(cfg.InfluxDB)
		if ierr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", ierr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		dispatcher.SetRecorder(influxClient)
		poller.SetRecorder(influxClient)
		telemetry = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	adminQuery := admin.New(registry, admin.Config{
		Secret:        cfg.Security.AdminSecret,
		SecretHash:    cfg.Security.AdminSecretHash,
		RequireSecret: cfg.Mailbox.RequireAdminSecret,
		JWTSecret:     cfg.Security.JWT.Secret,
		TokenTTL:      time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute,
	})
	adminQuery.SetLogger(log.With("component", "admin"))
	if !cfg.Mailbox.RequireAdminSecret {
		log.Warn("admin secret not required; admin routes are open")
	}

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Registry:   registry,
		Dispatcher: dispatcher,
		Poller:     poller,
		Admin:      adminQuery,
		Store:      store,
		Telemetry:  telemetry,
		Checks:     checks,
		Audit:      auditRepo,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	dispatcher.AddNotifier(server.Hub())
	poller.AddDeliveryListener(server.Hub())

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("Relaybox started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"devices", registry.Stats().Devices,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, stopping services")
	return nil
}

// openPersistence opens the snapshot database, restores the registry from the
// last snapshot and attaches the store as the registry's persister.
// The returned func closes the database.
func openPersistence(ctx context.Context, cfg *config.Config, registry *device.Registry, log *logging.Logger) (*database.DB, *persist.SQLiteStore, func(), error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Persistence.Database.Path,
		WALMode:     cfg.Persistence.Database.WALMode,
		BusyTimeout: cfg.Persistence.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}
	closeDB := func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}

	if err := db.Migrate(ctx); err != nil {
		closeDB()
		return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	store := persist.NewSQLiteStore(db, cfg.Persistence.Compression == config.CompressionZstd)
	snap, found, err := store.Load(ctx)
	if err != nil {
		closeDB()
		return nil, nil, nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if found {
		restored := registry.Restore(snap)
		log.Info("mailbox state restored",
			"devices", restored,
			"taken_at", snap.TakenAt,
		)
	}

	mode, err := device.ParsePersistMode(cfg.Persistence.Mode)
	if err != nil {
		closeDB()
		return nil, nil, nil, fmt.Errorf("persistence.mode: %w", err)
	}
	registry.SetPersister(store, mode)
	log.Info("persistence enabled",
		"path", db.Path(),
		"mode", string(mode),
		"compression", cfg.Persistence.Compression,
	)
	return db, store, closeDB, nil
}

// getConfigPath prefers the flag, then RELAYBOX_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("RELAYBOX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults plus environment; a missing explicit file is an error.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path != defaultConfigPath || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfg = config.Default()
	if verr := cfg.Validate(); verr != nil {
		return nil, fmt.Errorf("loading config: no %s and defaults are incomplete: %w", path, verr)
	}
	return cfg, nil
}
