package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parcelwatch/parcelwatch/internal/database"
	"github.com/parcelwatch/parcelwatch/internal/testhelpers"
)

func seedSavedSearch(t *testing.T, db *gorm.DB, name string, parcels ...string) uint {
	t.Helper()
	search := database.SavedSearch{UUID: uuid.New().String(), Name: name}
	if err := db.Create(&search).Error; err != nil {
		t.Fatalf("failed to create saved search: %v", err)
	}
	for _, parcelID := range parcels {
		member := database.SavedSearchMember{SavedSearchID: search.ID, County: "leon", ParcelID: parcelID}
		if err := db.Create(&member).Error; err != nil {
			t.Fatalf("failed to create member: %v", err)
		}
	}
	return search.ID
}

func seedOpenAlert(t *testing.T, db *gorm.DB, parcelID, alertKey string, lastSeen time.Time) {
	t.Helper()
	alert := database.TriggerAlert{
		County:      "leon",
		ParcelID:    parcelID,
		AlertKey:    alertKey,
		Severity:    60,
		Status:      database.AlertStatusOpen,
		FirstSeenAt: lastSeen,
		LastSeenAt:  lastSeen,
	}
	if err := db.Create(&alert).Error; err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}
}

func TestSyncSavedSearchInbox(t *testing.T) {
	db := setupTestDB(t)
	inbox := NewInboxService(db)

	seen := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	searchID := seedSavedSearch(t, db, "leon distress", "PARCEL-1", "PARCEL-2")
	seedOpenAlert(t, db, "PARCEL-1", AlertOwnerMoved, seen)
	seedOpenAlert(t, db, "PARCEL-2", AlertTaxDistress, seen)
	// Not a member, must not be synced
	seedOpenAlert(t, db, "PARCEL-3", AlertOwnerMoved, seen)

	now := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)
	res, err := inbox.SyncSavedSearchInbox(searchID, now)
	testhelpers.AssertNoError(t, err, "first sync")
	testhelpers.AssertEqual(t, true, res.OK, "ok")
	testhelpers.AssertEqual(t, 2, res.Inserted, "inserted")

	// Re-running with unchanged alert state inserts nothing
	res, err = inbox.SyncSavedSearchInbox(searchID, now.Add(time.Hour))
	testhelpers.AssertNoError(t, err, "second sync")
	testhelpers.AssertEqual(t, 0, res.Inserted, "inserted on replay")

	rows, err := inbox.ListAlerts(searchID, "", 0)
	testhelpers.AssertNoError(t, err, "list inbox")
	testhelpers.AssertEqual(t, 2, len(rows), "inbox rows")
	for _, row := range rows {
		testhelpers.AssertEqual(t, database.InboxStatusNew, row.Status, "status")
		if !row.SyncedAt.Equal(now) {
			t.Errorf("expected synced_at %v, got %v", now, row.SyncedAt)
		}
	}
}

func TestSyncSavedSearchInbox_NewOccurrence(t *testing.T) {
	db := setupTestDB(t)
	inbox := NewInboxService(db)

	seen := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	searchID := seedSavedSearch(t, db, "leon distress", "PARCEL-1")
	seedOpenAlert(t, db, "PARCEL-1", AlertOwnerMoved, seen)

	now := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)
	res, err := inbox.SyncSavedSearchInbox(searchID, now)
	testhelpers.AssertNoError(t, err, "first sync")
	testhelpers.AssertEqual(t, 1, res.Inserted, "inserted")

	// The alert recurs: last_seen_at advances, so the next sync adds a row
	newSeen := seen.Add(48 * time.Hour)
	err = db.Model(&database.TriggerAlert{}).
		Where("parcel_id = ? AND alert_key = ?", "PARCEL-1", AlertOwnerMoved).
		Update("last_seen_at", newSeen).Error
	testhelpers.AssertNoError(t, err, "advance alert")

	res, err = inbox.SyncSavedSearchInbox(searchID, now.Add(48*time.Hour))
	testhelpers.AssertNoError(t, err, "sync after recurrence")
	testhelpers.AssertEqual(t, 1, res.Inserted, "inserted for recurrence")

	rows, err := inbox.ListAlerts(searchID, "", 0)
	testhelpers.AssertNoError(t, err, "list inbox")
	testhelpers.AssertEqual(t, 2, len(rows), "inbox rows")
	if !rows[0].LastSeenAt.Equal(newSeen) {
		t.Errorf("expected newest occurrence first, got %v", rows[0].LastSeenAt)
	}
}

func TestMarkAlertRead(t *testing.T) {
	db := setupTestDB(t)
	inbox := NewInboxService(db)

	seen := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	searchID := seedSavedSearch(t, db, "leon distress", "PARCEL-1")
	seedOpenAlert(t, db, "PARCEL-1", AlertOwnerMoved, seen)

	_, err := inbox.SyncSavedSearchInbox(searchID, seen)
	testhelpers.AssertNoError(t, err, "sync")

	rows, err := inbox.ListAlerts(searchID, database.InboxStatusNew, 0)
	testhelpers.AssertNoError(t, err, "list new")
	testhelpers.AssertEqual(t, 1, len(rows), "new rows")

	testhelpers.AssertNoError(t, inbox.MarkAlertRead(rows[0].ID), "mark read")
	// Marking twice is a no-op
	testhelpers.AssertNoError(t, inbox.MarkAlertRead(rows[0].ID), "mark read again")

	remaining, err := inbox.ListAlerts(searchID, database.InboxStatusNew, 0)
	testhelpers.AssertNoError(t, err, "list new after read")
	testhelpers.AssertEqual(t, 0, len(remaining), "new rows after read")

	read, err := inbox.ListAlerts(searchID, database.InboxStatusRead, 0)
	testhelpers.AssertNoError(t, err, "list read")
	testhelpers.AssertEqual(t, 1, len(read), "read rows")

	testhelpers.AssertError(t, inbox.MarkAlertRead(9999), "mark unknown alert")
}
