package services

import (
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/parcelwatch/parcelwatch/internal/database"
)

// RollupService recomputes per-parcel rollups from scratch. A rollup is a
// pure function of the parcel's trigger events as of a timestamp; the stored
// row is fully overwritten on each rebuild.
type RollupService struct {
	db     *gorm.DB
	alerts *AlertService
}

// NewRollupService creates a new RollupService. The alert service may be nil
// when callers only need rollups without alert derivation.
func NewRollupService(db *gorm.DB, alerts *AlertService) *RollupService {
	return &RollupService{db: db, alerts: alerts}
}

// SellerScore maps tier counts to the 0-100 seller-intent score. The bands
// are a monotonic step function, not a linear sum: any critical signal forces
// the maximum, multiple strong signals land just below it, and weaker
// combinations step down from there.
//
//	>=1 critical                -> 100
//	>=2 strong                  ->  85
//	 1 strong and >=1 support   ->  70
//	 1 strong                   ->  60
//	>=3 support                 ->  45
//	>=1 support                 ->  25
//	 no events                  ->   0
func SellerScore(countCritical, countStrong, countSupport int) (int, string) {
	switch {
	case countCritical >= 1:
		return 100, "critical_present"
	case countStrong >= 2:
		return 85, "multiple_strong"
	case countStrong == 1 && countSupport >= 1:
		return 70, "strong_plus_support"
	case countStrong == 1:
		return 60, "single_strong"
	case countSupport >= 3:
		return 45, "support_cluster"
	case countSupport >= 1:
		return 25, "support_only"
	default:
		return 0, "no_signals"
	}
}

// ComputeRollup builds a rollup purely from the given events. Exposed so the
// determinism of the computation is testable without a store.
func ComputeRollup(county, parcelID string, events []database.TriggerEvent, asOf time.Time) *database.Rollup {
	rollup := &database.Rollup{
		County:    county,
		ParcelID:  parcelID,
		RebuiltAt: asOf,
	}

	keySet := make(map[string]struct{})
	for _, ev := range events {
		switch ev.Tier {
		case database.TierCritical:
			rollup.CountCritical++
		case database.TierStrong:
			rollup.CountStrong++
		case database.TierSupport:
			rollup.CountSupport++
		}
		rollup.SetGroupFlag(ev.SourceGroup)
		keySet[string(ev.TriggerKey)] = struct{}{}
	}

	score, band := SellerScore(rollup.CountCritical, rollup.CountStrong, rollup.CountSupport)
	rollup.SellerScore = score

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	triggerKeys := make([]interface{}, len(keys))
	for i, k := range keys {
		triggerKeys[i] = k
	}
	rollup.Details = database.JSONB{
		"band":         band,
		"trigger_keys": triggerKeys,
		"event_count":  len(events),
	}
	return rollup
}

// Rebuild recomputes the rollup for one parcel from all trigger events with
// trigger_at <= asOf, and overwrites the stored row
func (s *RollupService) Rebuild(county, parcelID string, asOf time.Time) (*database.Rollup, error) {
	events, err := s.eventsAsOf(county, parcelID, asOf)
	if err != nil {
		return nil, err
	}

	rollup := ComputeRollup(county, parcelID, events, asOf)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing database.Rollup
		lookupErr := tx.Where("county = ? AND parcel_id = ?", county, parcelID).First(&existing).Error
		if lookupErr == gorm.ErrRecordNotFound {
			return tx.Create(rollup).Error
		}
		if lookupErr != nil {
			return lookupErr
		}
		rollup.ID = existing.ID
		rollup.CreatedAt = existing.CreatedAt
		return tx.Save(rollup).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store rollup for %s/%s: %w", county, parcelID, err)
	}
	return rollup, nil
}

// RebuildForCounty rebuilds every parcel that has at least one trigger event
// in the county, deriving alerts from each fresh rollup. A full pass by
// design: the per-parcel input set is small and rebuild cost is dominated by
// I/O, so correctness wins over incrementality. Returns the number of parcels
// rebuilt.
func (s *RollupService) RebuildForCounty(county string, rebuiltAt time.Time) (int, error) {
	var parcels []string
	err := s.db.Model(&database.TriggerEvent{}).
		Where("county = ?", county).
		Distinct("parcel_id").
		Order("parcel_id").
		Pluck("parcel_id", &parcels).Error
	if err != nil {
		return 0, err
	}

	rebuilt := 0
	for _, parcelID := range parcels {
		rollup, err := s.Rebuild(county, parcelID, rebuiltAt)
		if err != nil {
			log.Printf("Rollup rebuild failed for %s/%s at %s: %v", county, parcelID, rebuiltAt.Format(time.RFC3339), err)
			continue
		}
		rebuilt++

		if s.alerts == nil {
			continue
		}
		events, err := s.eventsAsOf(county, parcelID, rebuiltAt)
		if err != nil {
			log.Printf("Alert derivation skipped for %s/%s: %v", county, parcelID, err)
			continue
		}
		if err := s.alerts.Evaluate(rollup, events, rebuiltAt); err != nil {
			log.Printf("Alert derivation failed for %s/%s: %v", county, parcelID, err)
		}
	}
	return rebuilt, nil
}

// GetRollupForParcel returns the stored rollup for a parcel
func (s *RollupService) GetRollupForParcel(county, parcelID string) (*database.Rollup, error) {
	var rollup database.Rollup
	if err := s.db.Where("county = ? AND parcel_id = ?", county, parcelID).First(&rollup).Error; err != nil {
		return nil, err
	}
	return &rollup, nil
}

func (s *RollupService) eventsAsOf(county, parcelID string, asOf time.Time) ([]database.TriggerEvent, error) {
	var events []database.TriggerEvent
	err := s.db.Where("county = ? AND parcel_id = ? AND trigger_at <= ?", county, parcelID, asOf).
		Order("trigger_at DESC, id DESC").
		Find(&events).Error
	return events, err
}
