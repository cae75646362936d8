package services

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/parcelwatch/parcelwatch/internal/database"
)

// AlertKey constants for the named alert rules
const (
	AlertSellerIntentCritical = "seller_intent_critical"
	AlertOwnerMoved           = "owner_moved"
	AlertPermitActivity       = "permit_activity"
	AlertRedevelopmentSignal  = "redevelopment_signal"
	AlertTaxDistress          = "tax_distress"
	AlertLegalPressure        = "legal_pressure"
)

// Rule declares one alert condition: a trigger-key set, required cardinality,
// and a recency window. AllOf groups each require at least one matching event
// in addition to the Any set. A rule with UseRollupCritical set evaluates the
// rollup's critical count instead of key matching.
type Rule struct {
	AlertKey          string
	Any               []database.TriggerKey
	AllOf             [][]database.TriggerKey
	MinCount          int
	RecencyDays       int
	Severity          int
	UseRollupCritical bool
}

// DefaultRules returns the built-in rule set. baseRecencyDays comes from
// engine settings and windows the single-source rules; combination rules use
// wider explicit windows.
func DefaultRules(baseRecencyDays int) []Rule {
	return []Rule{
		{
			AlertKey:          AlertSellerIntentCritical,
			Severity:          90,
			UseRollupCritical: true,
		},
		{
			AlertKey:    AlertOwnerMoved,
			Any:         []database.TriggerKey{database.TriggerOwnerMailingChange},
			MinCount:    1,
			RecencyDays: baseRecencyDays,
			Severity:    60,
		},
		{
			AlertKey: AlertPermitActivity,
			Any: []database.TriggerKey{
				database.TriggerPermitRoof,
				database.TriggerPermitPool,
				database.TriggerPermitDemolition,
				database.TriggerPermitMajorReno,
			},
			MinCount:    1,
			RecencyDays: baseRecencyDays,
			Severity:    40,
		},
		{
			AlertKey: AlertRedevelopmentSignal,
			AllOf: [][]database.TriggerKey{
				{database.TriggerPermitDemolition, database.TriggerPermitMajorReno},
				{database.TriggerRezoningApplication},
			},
			RecencyDays: 2 * baseRecencyDays,
			Severity:    70,
		},
		{
			AlertKey: AlertTaxDistress,
			Any: []database.TriggerKey{
				database.TriggerTaxDelinquent,
				database.TriggerTaxCertificateSale,
			},
			MinCount:    1,
			RecencyDays: 2 * baseRecencyDays,
			Severity:    65,
		},
		{
			AlertKey: AlertLegalPressure,
			Any: []database.TriggerKey{
				database.TriggerLien,
				database.TriggerLisPendens,
				database.TriggerEvictionFiling,
			},
			MinCount:    2,
			RecencyDays: baseRecencyDays,
			Severity:    75,
		},
	}
}

// AlertService derives and maintains trigger alerts from rollups and trigger
// events
type AlertService struct {
	db *gorm.DB
}

// NewAlertService creates a new AlertService
func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{db: db}
}

// Evaluate runs every alert rule for one parcel against its freshly rebuilt
// rollup and the events as of asOf. Rules that hold upsert an open alert,
// advancing LastSeenAt to asOf and merging evidence; rules that no longer
// hold close any prior open alert. Re-evaluating at the same asOf with
// unchanged events is a no-op.
func (s *AlertService) Evaluate(rollup *database.Rollup, events []database.TriggerEvent, asOf time.Time) error {
	settings, err := database.GetOrCreateEngineSettings(s.db)
	if err != nil {
		return err
	}

	for _, rule := range DefaultRules(settings.AlertRecencyDays) {
		matched, evidence := evaluateRule(rule, rollup, events, asOf)
		if err := s.upsertAlert(rollup.County, rollup.ParcelID, rule, matched, evidence, asOf); err != nil {
			return fmt.Errorf("failed to upsert alert %s for %s/%s: %w", rule.AlertKey, rollup.County, rollup.ParcelID, err)
		}
	}
	return nil
}

// ListTriggerAlertsForParcel returns a parcel's alerts, open first, most
// recently seen first within each status
func (s *AlertService) ListTriggerAlertsForParcel(county, parcelID string) ([]database.TriggerAlert, error) {
	var alerts []database.TriggerAlert
	err := s.db.Where("county = ? AND parcel_id = ?", county, parcelID).
		Order("status ASC, last_seen_at DESC").
		Find(&alerts).Error
	return alerts, err
}

// ListOpenAlerts returns all open alerts, most recently seen first
func (s *AlertService) ListOpenAlerts() ([]database.TriggerAlert, error) {
	var alerts []database.TriggerAlert
	err := s.db.Where("status = ?", database.AlertStatusOpen).
		Order("last_seen_at DESC, id ASC").
		Find(&alerts).Error
	return alerts, err
}

func evaluateRule(rule Rule, rollup *database.Rollup, events []database.TriggerEvent, asOf time.Time) (bool, database.IDList) {
	if rule.UseRollupCritical {
		if rollup.CountCritical < 1 {
			return false, nil
		}
		var evidence database.IDList
		for _, ev := range events {
			if ev.Tier == database.TierCritical {
				evidence = append(evidence, ev.ID)
			}
		}
		return true, sortIDs(evidence)
	}

	var cutoff time.Time
	if rule.RecencyDays > 0 {
		cutoff = asOf.AddDate(0, 0, -rule.RecencyDays)
	}

	inWindow := func(ev database.TriggerEvent) bool {
		return cutoff.IsZero() || ev.TriggerAt.After(cutoff)
	}

	var evidence database.IDList
	anyCount := 0
	for _, ev := range events {
		if containsKey(rule.Any, ev.TriggerKey) && inWindow(ev) {
			anyCount++
			evidence = append(evidence, ev.ID)
		}
	}
	if len(rule.Any) > 0 && anyCount < rule.MinCount {
		return false, nil
	}

	for _, group := range rule.AllOf {
		found := false
		for _, ev := range events {
			if containsKey(group, ev.TriggerKey) && inWindow(ev) {
				found = true
				evidence = append(evidence, ev.ID)
			}
		}
		if !found {
			return false, nil
		}
	}
	if len(rule.Any) == 0 && len(rule.AllOf) == 0 {
		return false, nil
	}

	return true, sortIDs(dedupeIDs(evidence))
}

func (s *AlertService) upsertAlert(county, parcelID string, rule Rule, matched bool, evidence database.IDList, asOf time.Time) error {
	var existing database.TriggerAlert
	lookupErr := s.db.Where("county = ? AND parcel_id = ? AND alert_key = ?", county, parcelID, rule.AlertKey).
		First(&existing).Error

	if !matched {
		if lookupErr == gorm.ErrRecordNotFound {
			return nil
		}
		if lookupErr != nil {
			return lookupErr
		}
		if existing.Status == database.AlertStatusOpen {
			return s.db.Model(&existing).Update("status", database.AlertStatusClosed).Error
		}
		return nil
	}

	if lookupErr == gorm.ErrRecordNotFound {
		alert := &database.TriggerAlert{
			County:          county,
			ParcelID:        parcelID,
			AlertKey:        rule.AlertKey,
			Severity:        rule.Severity,
			Status:          database.AlertStatusOpen,
			FirstSeenAt:     asOf,
			LastSeenAt:      asOf,
			TriggerEventIDs: evidence,
			Details:         database.JSONB{"rule": rule.AlertKey, "evidence_count": len(evidence)},
		}
		return s.db.Create(alert).Error
	}
	if lookupErr != nil {
		return lookupErr
	}

	// LastSeenAt only moves forward, never back, so replaying an old asOf
	// cannot rewind alert state.
	newLast := existing.LastSeenAt
	if asOf.After(newLast) {
		newLast = asOf
	}
	merged := sortIDs(dedupeIDs(append(append(database.IDList{}, existing.TriggerEventIDs...), evidence...)))

	if existing.Status == database.AlertStatusOpen &&
		newLast.Equal(existing.LastSeenAt) &&
		equalIDs(merged, sortIDs(append(database.IDList{}, existing.TriggerEventIDs...))) {
		return nil
	}

	// Reopen keeps FirstSeenAt: the row is the parcel's history for this
	// alert key, and recurrence is already visible through LastSeenAt.
	updates := map[string]interface{}{
		"status":            database.AlertStatusOpen,
		"severity":          rule.Severity,
		"last_seen_at":      newLast,
		"trigger_event_ids": merged,
		"details":           database.JSONB{"rule": rule.AlertKey, "evidence_count": len(merged)},
	}
	return s.db.Model(&existing).Updates(updates).Error
}

func containsKey(keys []database.TriggerKey, key database.TriggerKey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func dedupeIDs(ids database.IDList) database.IDList {
	seen := make(map[uint]struct{}, len(ids))
	var out database.IDList
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortIDs(ids database.IDList) database.IDList {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func equalIDs(a, b database.IDList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
