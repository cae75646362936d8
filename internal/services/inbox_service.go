package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/parcelwatch/parcelwatch/internal/database"
)

// InboxService materializes open trigger alerts into per-subscription
// inboxes. The quadruple unique index on alerts_inbox is the dedup mechanism:
// syncing an alert whose LastSeenAt has not advanced inserts nothing.
type InboxService struct {
	db *gorm.DB
}

// NewInboxService creates a new InboxService
func NewInboxService(db *gorm.DB) *InboxService {
	return &InboxService{db: db}
}

// SyncResult reports the outcome of one inbox sync
type SyncResult struct {
	OK       bool `json:"ok"`
	Inserted int  `json:"inserted"`
}

// SyncSavedSearchInbox copies matching open alerts into the saved search's
// inbox. For every member parcel and every open alert on it, a row keyed by
// (saved search, alert key, parcel, last_seen_at) is inserted if absent.
// Running this twice with unchanged alert state inserts zero rows the second
// time.
func (s *InboxService) SyncSavedSearchInbox(savedSearchID uint, now time.Time) (SyncResult, error) {
	var members []database.SavedSearchMember
	if err := s.db.Where("saved_search_id = ?", savedSearchID).Find(&members).Error; err != nil {
		return SyncResult{}, err
	}

	inserted := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range members {
			var alerts []database.TriggerAlert
			err := tx.Where("county = ? AND parcel_id = ? AND status = ?",
				m.County, m.ParcelID, database.AlertStatusOpen).Find(&alerts).Error
			if err != nil {
				return err
			}

			for _, a := range alerts {
				var count int64
				err := tx.Model(&database.AlertsInbox{}).
					Where("saved_search_id = ? AND alert_key = ? AND parcel_id = ? AND last_seen_at = ?",
						savedSearchID, a.AlertKey, a.ParcelID, a.LastSeenAt).
					Count(&count).Error
				if err != nil {
					return err
				}
				if count > 0 {
					continue
				}

				row := &database.AlertsInbox{
					SavedSearchID: savedSearchID,
					AlertKey:      a.AlertKey,
					ParcelID:      a.ParcelID,
					County:        a.County,
					LastSeenAt:    a.LastSeenAt,
					Status:        database.InboxStatusNew,
					SyncedAt:      now,
				}
				if err := tx.Create(row).Error; err != nil {
					return err
				}
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{OK: true, Inserted: inserted}, nil
}

// ListAlerts returns inbox rows for a saved search, newest occurrence first.
// status filters to new or read when non-empty; limit <= 0 means no limit.
func (s *InboxService) ListAlerts(savedSearchID uint, status database.InboxStatus, limit int) ([]database.AlertsInbox, error) {
	q := s.db.Where("saved_search_id = ?", savedSearchID).Order("last_seen_at DESC, id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []database.AlertsInbox
	err := q.Find(&rows).Error
	return rows, err
}

// MarkAlertRead transitions an inbox row from new to read. The transition is
// reversible only by a fresh recurrence (a new LastSeenAt) creating a new row.
func (s *InboxService) MarkAlertRead(alertID uint) error {
	var row database.AlertsInbox
	if err := s.db.First(&row, alertID).Error; err != nil {
		return fmt.Errorf("inbox alert %d not found: %w", alertID, err)
	}
	if row.Status == database.InboxStatusRead {
		return nil
	}
	return s.db.Model(&row).Update("status", database.InboxStatusRead).Error
}

// ListSavedSearches returns all saved searches
func (s *InboxService) ListSavedSearches() ([]database.SavedSearch, error) {
	var searches []database.SavedSearch
	err := s.db.Order("id ASC").Find(&searches).Error
	return searches, err
}

// ListMembers returns the parcels currently inside a saved search
func (s *InboxService) ListMembers(savedSearchID uint) ([]database.SavedSearchMember, error) {
	var members []database.SavedSearchMember
	err := s.db.Where("saved_search_id = ?", savedSearchID).Find(&members).Error
	return members, err
}
