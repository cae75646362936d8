package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("type assertion to []byte failed")
		}
		bytes = []byte(s)
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// IDList stores a list of row IDs as a JSON array, used for alert evidence
type IDList []uint

// Scan implements the sql.Scanner interface
func (l *IDList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("type assertion to []byte failed")
		}
		bytes = []byte(s)
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]uint{})
	}
	return json.Marshal(l)
}

// Tier is the severity bucket a trigger key belongs to
type Tier string

const (
	TierCritical Tier = "critical"
	TierStrong   Tier = "strong"
	TierSupport  Tier = "support"
)

// SourceGroup identifies the family of public records a trigger came from
type SourceGroup string

const (
	GroupOfficialRecords SourceGroup = "official_records"
	GroupPermits         SourceGroup = "permits"
	GroupTax             SourceGroup = "tax"
	GroupCodeEnforcement SourceGroup = "code_enforcement"
	GroupCourts          SourceGroup = "courts"
	GroupGISPlanning     SourceGroup = "gis_planning"
)

// SourceGroups lists every source group, in rollup flag order
func SourceGroups() []SourceGroup {
	return []SourceGroup{
		GroupOfficialRecords,
		GroupPermits,
		GroupTax,
		GroupCodeEnforcement,
		GroupCourts,
		GroupGISPlanning,
	}
}

// TriggerKey is the canonical identifier for a classified event type
type TriggerKey string

// Official records
const (
	TriggerLien                TriggerKey = "lien"
	TriggerLisPendens          TriggerKey = "lis_pendens"
	TriggerDeedTransfer        TriggerKey = "deed_transfer"
	TriggerForeclosureJudgment TriggerKey = "foreclosure_judgment"
	TriggerProbate             TriggerKey = "probate"
	TriggerOwnerMailingChange  TriggerKey = "owner_mailing_change"
)

// Permits
const (
	TriggerPermitRoof       TriggerKey = "permit_roof"
	TriggerPermitPool       TriggerKey = "permit_pool"
	TriggerPermitDemolition TriggerKey = "permit_demolition"
	TriggerPermitMajorReno  TriggerKey = "permit_major_reno"
)

// Tax collector
const (
	TriggerTaxDelinquent      TriggerKey = "tax_delinquent"
	TriggerTaxCertificateSale TriggerKey = "tax_certificate_sale"
)

// Code enforcement
const (
	TriggerCodeCaseOpened      TriggerKey = "code_case_opened"
	TriggerCodeFinesImposed    TriggerKey = "code_fines_imposed"
	TriggerCodeDemolitionOrder TriggerKey = "code_demolition_order"
)

// Courts
const (
	TriggerEvictionFiling TriggerKey = "eviction_filing"
	TriggerDivorceFiling  TriggerKey = "divorce_filing"
)

// GIS / planning
const (
	TriggerRezoningApplication TriggerKey = "rezoning_application"
)

// TriggerEvent is one classified occurrence of a public-record event for a
// parcel. Rows are append/replace-by-natural-key only: re-ingesting the same
// raw event is a no-op, newer information for the same natural key supersedes
// in place. Rows are never deleted.
type TriggerEvent struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	County          string      `gorm:"size:64;not null;index:idx_trigger_events_parcel" json:"county"`
	ParcelID        string      `gorm:"size:64;not null;index:idx_trigger_events_parcel" json:"parcel_id"`
	TriggerKey      TriggerKey  `gorm:"size:64;not null;index" json:"trigger_key"`
	Tier            Tier        `gorm:"size:16;not null" json:"tier"`
	SourceGroup     SourceGroup `gorm:"size:32;not null" json:"source_group"`
	Severity        int         `json:"severity"`
	SourceConnector string      `gorm:"size:64;not null" json:"source_connector"`
	SourceEventType string      `gorm:"size:128" json:"source_event_type"`
	TriggerAt       time.Time   `gorm:"not null;index" json:"trigger_at"`
	NaturalKey      string      `gorm:"size:128;uniqueIndex;not null" json:"natural_key"`
	Details         JSONB       `gorm:"type:jsonb" json:"details"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (TriggerEvent) TableName() string {
	return "trigger_events"
}

// Rollup is the derived per-parcel aggregate. It is a pure function of the
// parcel's trigger events as of RebuiltAt and is fully overwritten on each
// rebuild, never patched incrementally.
type Rollup struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	County             string    `gorm:"size:64;not null;uniqueIndex:uniq_rollups_parcel" json:"county"`
	ParcelID           string    `gorm:"size:64;not null;uniqueIndex:uniq_rollups_parcel" json:"parcel_id"`
	CountCritical      int       `json:"count_critical"`
	CountStrong        int       `json:"count_strong"`
	CountSupport       int       `json:"count_support"`
	HasOfficialRecords bool      `json:"has_official_records"`
	HasPermits         bool      `json:"has_permits"`
	HasTax             bool      `json:"has_tax"`
	HasCodeEnforcement bool      `json:"has_code_enforcement"`
	HasCourts          bool      `json:"has_courts"`
	HasGISPlanning     bool      `json:"has_gis_planning"`
	SellerScore        int       `json:"seller_score"`
	Details            JSONB     `gorm:"type:jsonb" json:"details"`
	RebuiltAt          time.Time `gorm:"not null" json:"rebuilt_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (Rollup) TableName() string {
	return "rollups"
}

// SetGroupFlag sets the has_<group> flag for a source group
func (r *Rollup) SetGroupFlag(group SourceGroup) {
	switch group {
	case GroupOfficialRecords:
		r.HasOfficialRecords = true
	case GroupPermits:
		r.HasPermits = true
	case GroupTax:
		r.HasTax = true
	case GroupCodeEnforcement:
		r.HasCodeEnforcement = true
	case GroupCourts:
		r.HasCourts = true
	case GroupGISPlanning:
		r.HasGISPlanning = true
	}
}

// HasGroup reports whether the has_<group> flag is set
func (r *Rollup) HasGroup(group SourceGroup) bool {
	switch group {
	case GroupOfficialRecords:
		return r.HasOfficialRecords
	case GroupPermits:
		return r.HasPermits
	case GroupTax:
		return r.HasTax
	case GroupCodeEnforcement:
		return r.HasCodeEnforcement
	case GroupCourts:
		return r.HasCourts
	case GroupGISPlanning:
		return r.HasGISPlanning
	}
	return false
}

// AlertStatus represents the lifecycle state of a trigger alert
type AlertStatus string

const (
	AlertStatusOpen   AlertStatus = "open"
	AlertStatusClosed AlertStatus = "closed"
)

// TriggerAlert is a named condition currently (or previously) true for a
// parcel. At most one row exists per (county, parcel_id, alert_key);
// LastSeenAt advances monotonically while the condition holds. A closed alert
// that recurs reopens the same row with FirstSeenAt preserved from the
// original occurrence.
type TriggerAlert struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	County          string      `gorm:"size:64;not null;uniqueIndex:uniq_trigger_alerts_key" json:"county"`
	ParcelID        string      `gorm:"size:64;not null;uniqueIndex:uniq_trigger_alerts_key" json:"parcel_id"`
	AlertKey        string      `gorm:"size:64;not null;uniqueIndex:uniq_trigger_alerts_key" json:"alert_key"`
	Severity        int         `json:"severity"`
	Status          AlertStatus `gorm:"size:16;not null;index" json:"status"`
	FirstSeenAt     time.Time   `gorm:"not null" json:"first_seen_at"`
	LastSeenAt      time.Time   `gorm:"not null;index" json:"last_seen_at"`
	TriggerEventIDs IDList      `gorm:"type:jsonb" json:"trigger_event_ids"`
	Details         JSONB       `gorm:"type:jsonb" json:"details"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (TriggerAlert) TableName() string {
	return "trigger_alerts"
}

// SavedSearch is a subscription: a named geometry + filter set a user watches.
// Membership is maintained by the saved-search runner outside this engine;
// the engine only reads it.
type SavedSearch struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Filters   JSONB     `gorm:"type:jsonb" json:"filters"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SavedSearch) TableName() string {
	return "saved_searches"
}

// SavedSearchMember is one parcel currently inside a saved search
type SavedSearchMember struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SavedSearchID uint      `gorm:"not null;uniqueIndex:uniq_saved_search_members" json:"saved_search_id"`
	County        string    `gorm:"size:64;not null;uniqueIndex:uniq_saved_search_members" json:"county"`
	ParcelID      string    `gorm:"size:64;not null;uniqueIndex:uniq_saved_search_members" json:"parcel_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (SavedSearchMember) TableName() string {
	return "saved_search_members"
}

// InboxStatus represents the read state of an inbox row
type InboxStatus string

const (
	InboxStatusNew  InboxStatus = "new"
	InboxStatusRead InboxStatus = "read"
)

// AlertsInbox is a per-subscription materialized alert feed. The unique index
// on (saved_search_id, alert_key, parcel_id, last_seen_at) is the dedup
// mechanism: re-syncing an alert whose LastSeenAt has not advanced inserts
// zero rows.
type AlertsInbox struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	SavedSearchID uint        `gorm:"not null;uniqueIndex:uniq_alerts_inbox_occurrence" json:"saved_search_id"`
	AlertKey      string      `gorm:"size:64;not null;uniqueIndex:uniq_alerts_inbox_occurrence" json:"alert_key"`
	ParcelID      string      `gorm:"size:64;not null;uniqueIndex:uniq_alerts_inbox_occurrence" json:"parcel_id"`
	County        string      `gorm:"size:64;not null" json:"county"`
	LastSeenAt    time.Time   `gorm:"not null;uniqueIndex:uniq_alerts_inbox_occurrence" json:"last_seen_at"`
	Status        InboxStatus `gorm:"size:16;not null;index" json:"status"`
	SyncedAt      time.Time   `gorm:"not null" json:"synced_at"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (AlertsInbox) TableName() string {
	return "alerts_inbox"
}

// DeliveryStatus represents the outcome of a delivery attempt
type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// AlertDelivery is a ledger row proving a specific alert occurrence was sent
// on a channel. The unique (channel, fingerprint) index guarantees at most one
// successful send even when a scheduler tick is re-executed with an identical
// now. Failed rows are retried on the next tick.
type AlertDelivery struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Channel     string         `gorm:"size:32;not null;uniqueIndex:uniq_alert_deliveries_fp" json:"channel"`
	Fingerprint string         `gorm:"size:64;not null;uniqueIndex:uniq_alert_deliveries_fp" json:"fingerprint"`
	Status      DeliveryStatus `gorm:"size:16;not null;index" json:"status"`
	SentAt      time.Time      `json:"sent_at"`
	LastError   string         `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (AlertDelivery) TableName() string {
	return "alert_deliveries"
}

// GetSeverityEmoji returns an emoji for an alert severity value
func GetSeverityEmoji(severity int) string {
	switch {
	case severity >= 85:
		return ":red_circle:"
	case severity >= 65:
		return ":large_orange_circle:"
	case severity >= 40:
		return ":large_yellow_circle:"
	default:
		return ":large_blue_circle:"
	}
}
