package services

import (
	"log"

	"gorm.io/gorm"

	"github.com/parcelwatch/parcelwatch/internal/database"
)

// TriggerEventService persists classified trigger events. The natural-key
// unique index is the dedup mechanism: re-submitting the same raw event is a
// no-op write.
type TriggerEventService struct {
	db *gorm.DB
}

// NewTriggerEventService creates a new TriggerEventService
func NewTriggerEventService(db *gorm.DB) *TriggerEventService {
	return &TriggerEventService{db: db}
}

// UpsertResult reports what a batch upsert did, for caller observability
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Rejected int `json:"rejected"`
}

// UpsertMany inserts or refreshes a batch of trigger events in one
// transaction. A malformed event (missing county or parcel) is rejected
// individually; one bad record must not abort the rest. An existing natural
// key is refreshed only when the incoming event carries a newer trigger_at,
// so identical re-ingestion converges to the same stored state.
func (s *TriggerEventService) UpsertMany(events []*database.TriggerEvent) (UpsertResult, error) {
	var res UpsertResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, ev := range events {
			if ev == nil || ev.County == "" || ev.ParcelID == "" {
				res.Rejected++
				log.Printf("Rejected malformed trigger event (natural_key=%q): missing county or parcel", naturalKeyOf(ev))
				continue
			}

			var existing database.TriggerEvent
			lookupErr := tx.Where("natural_key = ?", ev.NaturalKey).First(&existing).Error
			if lookupErr == gorm.ErrRecordNotFound {
				if err := tx.Create(ev).Error; err != nil {
					// Constraint violations here are the dedup mechanism
					// under concurrent ingestion, not a batch failure.
					res.Rejected++
					log.Printf("Rejected trigger event %s: %v", ev.NaturalKey, err)
					continue
				}
				res.Inserted++
				continue
			}
			if lookupErr != nil {
				return lookupErr
			}

			if ev.TriggerAt.After(existing.TriggerAt) {
				updates := map[string]interface{}{
					"trigger_at": ev.TriggerAt,
					"severity":   ev.Severity,
					"details":    ev.Details,
				}
				if err := tx.Model(&existing).Updates(updates).Error; err != nil {
					return err
				}
				res.Updated++
			}
			ev.ID = existing.ID
		}
		return nil
	})

	return res, err
}

// ListTriggerEventsForParcel returns a parcel's trigger events newest-first.
// limit <= 0 means no limit. Used by the rollup builder and the read path.
func (s *TriggerEventService) ListTriggerEventsForParcel(county, parcelID string, limit int) ([]database.TriggerEvent, error) {
	var events []database.TriggerEvent
	q := s.db.Where("county = ? AND parcel_id = ?", county, parcelID).
		Order("trigger_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

// ListParcelsWithEvents returns the distinct parcel ids that have at least one
// trigger event in a county
func (s *TriggerEventService) ListParcelsWithEvents(county string) ([]string, error) {
	var parcels []string
	err := s.db.Model(&database.TriggerEvent{}).
		Where("county = ?", county).
		Distinct("parcel_id").
		Order("parcel_id").
		Pluck("parcel_id", &parcels).Error
	return parcels, err
}

func naturalKeyOf(ev *database.TriggerEvent) string {
	if ev == nil {
		return ""
	}
	return ev.NaturalKey
}
