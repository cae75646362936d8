package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/parcelwatch/parcelwatch/internal/classify"
	"github.com/parcelwatch/parcelwatch/internal/connectors"
	"github.com/parcelwatch/parcelwatch/internal/database"
	"github.com/parcelwatch/parcelwatch/internal/delivery"
	"github.com/parcelwatch/parcelwatch/internal/services"
	"github.com/parcelwatch/parcelwatch/internal/taxonomy"
	"github.com/parcelwatch/parcelwatch/internal/testhelpers"
)

// countingChannel records sends for exactly-once assertions
type countingChannel struct {
	sent int
}

func (c *countingChannel) Key() string { return "counting" }

func (c *countingChannel) Send(n delivery.Notification) error {
	c.sent++
	return nil
}

func setupScheduler(t *testing.T) (*Scheduler, *gorm.DB, *countingChannel) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	err = db.AutoMigrate(
		&database.TriggerEvent{},
		&database.Rollup{},
		&database.TriggerAlert{},
		&database.SavedSearch{},
		&database.SavedSearchMember{},
		&database.AlertsInbox{},
		&database.AlertDelivery{},
		&database.EngineSettings{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	registry := connectors.NewRegistry()
	connectors.RegisterStubs(registry, testhelpers.FixtureDir(t))

	events := services.NewTriggerEventService(db)
	alerts := services.NewAlertService(db)
	rollups := services.NewRollupService(db, alerts)
	inbox := services.NewInboxService(db)
	ch := &countingChannel{}
	deliverySvc := services.NewDeliveryService(db, ch)
	ingest := services.NewIngestService(registry, classify.NewClassifier(taxonomy.Default()), events)

	return NewScheduler(db, registry, ingest, rollups, inbox, deliverySvc), db, ch
}

func TestRun_RequiresExplicitNow(t *testing.T) {
	scheduler, _, _ := setupScheduler(t)

	if _, err := scheduler.Run(RunOptions{Counties: []string{"leon"}}); err == nil {
		t.Fatal("expected error for zero now")
	}
}

func TestRun_EndToEnd(t *testing.T) {
	scheduler, db, _ := setupScheduler(t)

	now := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)
	report, err := scheduler.Run(RunOptions{
		Counties:   []string{"leon"},
		Connectors: []string{"official_records_stub"},
		Now:        now,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(report.StageErrors) != 0 {
		t.Fatalf("unexpected stage errors: %v", report.StageErrors)
	}

	ingested, ok := report.Ingested["leon/official_records_stub"]
	if !ok {
		t.Fatal("expected ingest result for leon/official_records_stub")
	}
	if ingested.Inserted == 0 {
		t.Error("expected inserted events")
	}
	if report.RollupsRebuilt == 0 {
		t.Error("expected rebuilt rollups")
	}

	// The lien + lis pendens parcel carries a critical signal
	var rollup database.Rollup
	if err := db.Where("county = ? AND parcel_id = ?", "leon", "PARCEL-OR-1").First(&rollup).Error; err != nil {
		t.Fatalf("expected rollup for PARCEL-OR-1: %v", err)
	}
	testhelpers.AssertEqual(t, 100, rollup.SellerScore, "seller score")
	if rollup.CountCritical < 1 {
		t.Errorf("expected at least one critical event, got %d", rollup.CountCritical)
	}
	if !rollup.HasOfficialRecords {
		t.Error("expected official records group flag")
	}
	if !rollup.RebuiltAt.Equal(now) {
		t.Errorf("expected rebuilt_at %v, got %v", now, rollup.RebuiltAt)
	}

	// Alert derivation opened the critical alert
	var alert database.TriggerAlert
	err = db.Where("county = ? AND parcel_id = ? AND alert_key = ?",
		"leon", "PARCEL-OR-1", services.AlertSellerIntentCritical).First(&alert).Error
	if err != nil {
		t.Fatalf("expected seller_intent_critical alert: %v", err)
	}
	testhelpers.AssertEqual(t, database.AlertStatusOpen, alert.Status, "alert status")
}

func TestRun_IdenticalTicksDeliverOnce(t *testing.T) {
	scheduler, db, ch := setupScheduler(t)

	now := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)
	opts := RunOptions{
		Counties:   []string{"leon"},
		Connectors: []string{"official_records_stub"},
		Now:        now,
	}

	first, err := scheduler.Run(opts)
	if err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	if first.Delivered.Sent == 0 {
		t.Fatal("expected deliveries on the first tick")
	}
	sentAfterFirst := ch.sent

	// Re-executing the identical tick converges: nothing new is ingested,
	// rebuilt state is byte-for-byte the same, and the ledger blocks resends
	second, err := scheduler.Run(opts)
	if err != nil {
		t.Fatalf("second tick failed: %v", err)
	}
	testhelpers.AssertEqual(t, 0, second.Ingested["leon/official_records_stub"].Inserted, "inserted on replay")
	testhelpers.AssertEqual(t, 0, second.Delivered.Sent, "sent on replay")
	testhelpers.AssertEqual(t, first.Delivered.Sent, second.Delivered.Skipped, "skipped on replay")
	testhelpers.AssertEqual(t, sentAfterFirst, ch.sent, "channel sends unchanged")

	var ledger int64
	db.Model(&database.AlertDelivery{}).Where("status = ?", database.DeliveryStatusSent).Count(&ledger)
	testhelpers.AssertEqual(t, int64(first.Delivered.Sent), ledger, "ledger rows")
}

func TestRun_InboxSyncStage(t *testing.T) {
	scheduler, db, _ := setupScheduler(t)

	search := database.SavedSearch{UUID: uuid.New().String(), Name: "leon watch"}
	if err := db.Create(&search).Error; err != nil {
		t.Fatalf("failed to create saved search: %v", err)
	}
	member := database.SavedSearchMember{SavedSearchID: search.ID, County: "leon", ParcelID: "PARCEL-OR-1"}
	if err := db.Create(&member).Error; err != nil {
		t.Fatalf("failed to create member: %v", err)
	}

	now := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)
	opts := RunOptions{
		Counties:   []string{"leon"},
		Connectors: []string{"official_records_stub"},
		Now:        now,
	}

	report, err := scheduler.Run(opts)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.InboxInserted == 0 {
		t.Fatal("expected inbox rows for the member parcel")
	}

	// Replay inserts nothing new
	report, err = scheduler.Run(opts)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	testhelpers.AssertEqual(t, 0, report.InboxInserted, "inbox inserted on replay")
}

func TestRun_StageSkips(t *testing.T) {
	scheduler, db, ch := setupScheduler(t)

	now := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)
	report, err := scheduler.Run(RunOptions{
		Counties:      []string{"leon"},
		Now:           now,
		SkipIngest:    true,
		SkipRollups:   true,
		SkipInboxSync: true,
		SkipDelivery:  true,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	testhelpers.AssertEqual(t, 0, len(report.Ingested), "ingested")
	testhelpers.AssertEqual(t, 0, report.RollupsRebuilt, "rollups rebuilt")
	testhelpers.AssertEqual(t, 0, ch.sent, "channel sends")

	var events int64
	db.Model(&database.TriggerEvent{}).Count(&events)
	testhelpers.AssertEqual(t, int64(0), events, "stored events")
}

func TestRun_DisabledEngine(t *testing.T) {
	scheduler, db, ch := setupScheduler(t)

	settings, err := database.GetOrCreateEngineSettings(db)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	if err := db.Model(settings).Update("enabled", false).Error; err != nil {
		t.Fatalf("failed to disable engine: %v", err)
	}

	report, err := scheduler.Run(RunOptions{
		Counties: []string{"leon"},
		Now:      time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	testhelpers.AssertEqual(t, 0, len(report.Ingested), "ingested")
	testhelpers.AssertEqual(t, 0, ch.sent, "channel sends")
}

func TestRun_DeliveryDisabledBySettings(t *testing.T) {
	scheduler, db, ch := setupScheduler(t)

	settings, err := database.GetOrCreateEngineSettings(db)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	if err := db.Model(settings).Update("delivery_enabled", false).Error; err != nil {
		t.Fatalf("failed to disable delivery: %v", err)
	}

	report, err := scheduler.Run(RunOptions{
		Counties:   []string{"leon"},
		Connectors: []string{"official_records_stub"},
		Now:        time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.RollupsRebuilt == 0 {
		t.Error("expected rollup stage to still run")
	}
	testhelpers.AssertEqual(t, 0, ch.sent, "channel sends")
}
