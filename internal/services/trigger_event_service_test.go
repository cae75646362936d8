package services

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/parcelwatch/parcelwatch/internal/database"
	"github.com/parcelwatch/parcelwatch/internal/testhelpers"
)

func setupTestDB(t *testing.T) *gorm.DB {
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

	return db
}

func TestUpsertMany_InsertAndDedup(t *testing.T) {
	db := setupTestDB(t)
	service := NewTriggerEventService(db)

	ev := testhelpers.NewTriggerEventBuilder().Build()
	res, err := service.UpsertMany([]*database.TriggerEvent{&ev})
	testhelpers.AssertNoError(t, err, "first upsert")
	testhelpers.AssertEqual(t, 1, res.Inserted, "inserted")

	// Identical re-ingestion is a no-op
	again := testhelpers.NewTriggerEventBuilder().Build()
	res, err = service.UpsertMany([]*database.TriggerEvent{&again})
	testhelpers.AssertNoError(t, err, "second upsert")
	testhelpers.AssertEqual(t, 0, res.Inserted, "inserted on replay")
	testhelpers.AssertEqual(t, 0, res.Updated, "updated on replay")

	var count int64
	db.Model(&database.TriggerEvent{}).Count(&count)
	testhelpers.AssertEqual(t, int64(1), count, "stored rows")

	// The replayed event is resolved to the stored row's id
	testhelpers.AssertEqual(t, ev.ID, again.ID, "resolved id")
}

func TestUpsertMany_RefreshOnlyWhenNewer(t *testing.T) {
	db := setupTestDB(t)
	service := NewTriggerEventService(db)

	ev := testhelpers.NewTriggerEventBuilder().
		WithTriggerAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)).
		WithSeverity(60).
		Build()
	_, err := service.UpsertMany([]*database.TriggerEvent{&ev})
	testhelpers.AssertNoError(t, err, "initial upsert")

	// An older revision of the same event must not rewind stored state
	older := testhelpers.NewTriggerEventBuilder().
		WithTriggerAt(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)).
		WithSeverity(99).
		Build()
	res, err := service.UpsertMany([]*database.TriggerEvent{&older})
	testhelpers.AssertNoError(t, err, "older upsert")
	testhelpers.AssertEqual(t, 0, res.Updated, "updated by older revision")

	var stored database.TriggerEvent
	db.Where("natural_key = ?", ev.NaturalKey).First(&stored)
	testhelpers.AssertEqual(t, 60, stored.Severity, "severity unchanged")

	// A newer revision refreshes trigger_at and severity
	newer := testhelpers.NewTriggerEventBuilder().
		WithTriggerAt(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)).
		WithSeverity(75).
		Build()
	res, err = service.UpsertMany([]*database.TriggerEvent{&newer})
	testhelpers.AssertNoError(t, err, "newer upsert")
	testhelpers.AssertEqual(t, 1, res.Updated, "updated by newer revision")

	db.Where("natural_key = ?", ev.NaturalKey).First(&stored)
	testhelpers.AssertEqual(t, 75, stored.Severity, "refreshed severity")
	if !stored.TriggerAt.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected refreshed trigger_at, got %v", stored.TriggerAt)
	}
}

func TestUpsertMany_RejectsMalformedIndividually(t *testing.T) {
	db := setupTestDB(t)
	service := NewTriggerEventService(db)

	good := testhelpers.NewTriggerEventBuilder().Build()
	noParcel := testhelpers.NewTriggerEventBuilder().
		WithParcel("").
		WithNaturalKey("official_records:OR-0002").
		Build()
	noCounty := testhelpers.NewTriggerEventBuilder().
		WithCounty("").
		WithNaturalKey("official_records:OR-0003").
		Build()

	res, err := service.UpsertMany([]*database.TriggerEvent{&noParcel, &good, &noCounty, nil})
	testhelpers.AssertNoError(t, err, "batch with malformed events")
	testhelpers.AssertEqual(t, 1, res.Inserted, "inserted")
	testhelpers.AssertEqual(t, 3, res.Rejected, "rejected")

	var count int64
	db.Model(&database.TriggerEvent{}).Count(&count)
	testhelpers.AssertEqual(t, int64(1), count, "stored rows")
}

func TestListTriggerEventsForParcel(t *testing.T) {
	db := setupTestDB(t)
	service := NewTriggerEventService(db)

	first := testhelpers.NewTriggerEventBuilder().
		WithNaturalKey("official_records:OR-0001").
		WithTriggerAt(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)).
		Build()
	second := testhelpers.NewTriggerEventBuilder().
		WithTrigger(database.TriggerLisPendens, database.TierCritical, database.GroupOfficialRecords).
		WithNaturalKey("official_records:OR-0002").
		WithTriggerAt(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)).
		Build()
	otherParcel := testhelpers.NewTriggerEventBuilder().
		WithParcel("PARCEL-2").
		WithNaturalKey("official_records:OR-0003").
		Build()

	_, err := service.UpsertMany([]*database.TriggerEvent{&first, &second, &otherParcel})
	testhelpers.AssertNoError(t, err, "seed events")

	events, err := service.ListTriggerEventsForParcel("leon", "PARCEL-1", 0)
	testhelpers.AssertNoError(t, err, "list events")
	testhelpers.AssertEqual(t, 2, len(events), "event count")
	testhelpers.AssertEqual(t, database.TriggerLisPendens, events[0].TriggerKey, "newest first")
	testhelpers.AssertEqual(t, database.TriggerLien, events[1].TriggerKey, "oldest last")

	limited, err := service.ListTriggerEventsForParcel("leon", "PARCEL-1", 1)
	testhelpers.AssertNoError(t, err, "list with limit")
	testhelpers.AssertEqual(t, 1, len(limited), "limited count")
}

func TestListParcelsWithEvents(t *testing.T) {
	db := setupTestDB(t)
	service := NewTriggerEventService(db)

	a := testhelpers.NewTriggerEventBuilder().WithParcel("PARCEL-B").WithNaturalKey("k1").Build()
	b := testhelpers.NewTriggerEventBuilder().WithParcel("PARCEL-A").WithNaturalKey("k2").Build()
	c := testhelpers.NewTriggerEventBuilder().WithParcel("PARCEL-A").WithNaturalKey("k3").Build()
	other := testhelpers.NewTriggerEventBuilder().WithCounty("wakulla").WithParcel("PARCEL-W").WithNaturalKey("k4").Build()

	_, err := service.UpsertMany([]*database.TriggerEvent{&a, &b, &c, &other})
	testhelpers.AssertNoError(t, err, "seed events")

	parcels, err := service.ListParcelsWithEvents("leon")
	testhelpers.AssertNoError(t, err, "list parcels")
	testhelpers.AssertEqual(t, 2, len(parcels), "parcel count")
	testhelpers.AssertEqual(t, "PARCEL-A", parcels[0], "sorted order")
	testhelpers.AssertEqual(t, "PARCEL-B", parcels[1], "sorted order")
}
