package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/parcelwatch/parcelwatch/internal/classify"
	"github.com/parcelwatch/parcelwatch/internal/config"
	"github.com/parcelwatch/parcelwatch/internal/connectors"
	"github.com/parcelwatch/parcelwatch/internal/database"
	"github.com/parcelwatch/parcelwatch/internal/delivery"
	"github.com/parcelwatch/parcelwatch/internal/jobs"
	"github.com/parcelwatch/parcelwatch/internal/services"
	"github.com/parcelwatch/parcelwatch/internal/taxonomy"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	var (
		countiesFlag   = flag.String("county", "", "comma-separated counties to process")
		connectorsFlag = flag.String("connector", "", "comma-separated connector keys (default: all registered)")
		limitFlag      = flag.Int("limit", 0, "max candidate events per connector run (0 = engine default)")
		nowFlag        = flag.String("now", "", "RFC3339 timestamp for this run (default: current time)")
		planFlag       = flag.String("plan", "", "path to a yaml run plan")
		intervalFlag   = flag.Int("interval", 0, "run every N minutes (0 = run once and exit)")
		skipIngest     = flag.Bool("skip-ingest", false, "skip the connector ingest stage")
		skipRollups    = flag.Bool("skip-rollups", false, "skip the rollup rebuild stage")
		skipInboxSync  = flag.Bool("skip-inbox-sync", false, "skip the saved-search inbox sync stage")
		skipDelivery   = flag.Bool("skip-delivery", false, "skip the delivery stage")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting Parcelwatch trigger engine...")

	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	if err := database.InitializeDefaults(); err != nil {
		log.Fatalf("Failed to initialize database defaults: %v", err)
	}

	db := database.GetDB()

	registry := connectors.NewRegistry()
	connectors.RegisterStubs(registry, cfg.FixtureDir)
	log.Printf("Connectors registered: %s", strings.Join(registry.Keys(), ", "))

	classifier := classify.NewClassifier(taxonomy.Default())
	eventService := services.NewTriggerEventService(db)
	alertService := services.NewAlertService(db)
	rollupService := services.NewRollupService(db, alertService)
	inboxService := services.NewInboxService(db)
	ingestService := services.NewIngestService(registry, classifier, eventService)

	channels := []delivery.Channel{delivery.NewLogChannel()}
	if cfg.SlackBotToken != "" {
		channels = append(channels, delivery.NewSlackChannel(cfg.SlackBotToken, cfg.SlackAlertsChannel))
		log.Printf("Slack delivery channel enabled (channel: %s)", cfg.SlackAlertsChannel)
	} else {
		log.Printf("Slack delivery channel disabled (SLACK_BOT_TOKEN not set)")
	}
	deliveryService := services.NewDeliveryService(db, channels...)

	scheduler := jobs.NewScheduler(db, registry, ingestService, rollupService, inboxService, deliveryService)

	opts := jobs.RunOptions{
		Counties:      splitList(*countiesFlag),
		Connectors:    splitList(*connectorsFlag),
		Limit:         *limitFlag,
		SkipIngest:    *skipIngest,
		SkipRollups:   *skipRollups,
		SkipInboxSync: *skipInboxSync,
		SkipDelivery:  *skipDelivery,
	}
	interval := *intervalFlag

	if *planFlag != "" {
		plan, err := config.LoadRunPlan(*planFlag)
		if err != nil {
			log.Fatalf("Failed to load run plan: %v", err)
		}
		if len(opts.Counties) == 0 {
			opts.Counties = plan.Counties
		}
		if len(opts.Connectors) == 0 {
			opts.Connectors = plan.Connectors
		}
		if opts.Limit == 0 {
			opts.Limit = plan.Limit
		}
		opts.SkipIngest = opts.SkipIngest || plan.SkipIngest
		opts.SkipRollups = opts.SkipRollups || plan.SkipRollups
		opts.SkipInboxSync = opts.SkipInboxSync || plan.SkipInboxSync
		opts.SkipDelivery = opts.SkipDelivery || plan.SkipDelivery
		if interval == 0 {
			interval = plan.IntervalMinutes
		}
	}

	if len(opts.Counties) == 0 {
		log.Fatalf("No counties selected: pass -county or a run plan with counties")
	}

	if interval <= 0 {
		opts.Now = time.Now().UTC()
		if *nowFlag != "" {
			parsed, err := time.Parse(time.RFC3339, *nowFlag)
			if err != nil {
				log.Fatalf("Invalid -now value %q: %v", *nowFlag, err)
			}
			opts.Now = parsed.UTC()
		}

		report, err := scheduler.Run(opts)
		if err != nil {
			log.Fatalf("Scheduler run failed: %v", err)
		}
		out, _ := json.MarshalIndent(report, "", "  ")
		log.Printf("Run report:\n%s", string(out))
		if len(report.StageErrors) > 0 {
			os.Exit(1)
		}
		return
	}

	stop := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, stopping scheduler...")
		close(stop)
	}()

	log.Printf("Scheduler running every %d minute(s) for counties: %s", interval, strings.Join(opts.Counties, ", "))
	scheduler.Start(time.Duration(interval)*time.Minute, opts, stop)
	log.Println("Shutdown complete")
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
