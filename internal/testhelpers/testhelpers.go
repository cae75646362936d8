// Package testhelpers provides reusable testing utilities for Parcelwatch.
//
// This package contains:
// - Test fixture loaders
// - Sample data builders for raw and trigger events
// - Assertion helpers
package testhelpers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/classify"
	"github.com/parcelwatch/parcelwatch/internal/database"
)

// ========================================
// Test Fixture Helpers
// ========================================

// FixtureDir returns the tests/fixtures directory, probing upward from the
// package under test
func FixtureDir(t *testing.T) string {
	t.Helper()

	candidates := []string{
		filepath.Join("tests", "fixtures"),
		filepath.Join("..", "..", "tests", "fixtures"),
		filepath.Join("..", "..", "..", "tests", "fixtures"),
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}

	t.Fatalf("failed to locate tests/fixtures directory")
	return ""
}

// LoadFixture loads a test fixture file from tests/fixtures/
func LoadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(FixtureDir(t), name))
	if err != nil {
		t.Fatalf("failed to load fixture %s: %v", name, err)
	}
	return data
}

// LoadJSONFixture loads and unmarshals a JSON fixture
func LoadJSONFixture(t *testing.T, name string, v interface{}) {
	t.Helper()
	data := LoadFixture(t, name)
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to unmarshal fixture %s: %v", name, err)
	}
}

// ========================================
// Sample Data Builders
// ========================================

// RawEventBuilder builds classify.RawEvent values for testing
type RawEventBuilder struct {
	event classify.RawEvent
}

// NewRawEventBuilder creates a builder with defaults
func NewRawEventBuilder() *RawEventBuilder {
	return &RawEventBuilder{
		event: classify.RawEvent{
			County:          "leon",
			ParcelID:        "PARCEL-1",
			SourceConnector: "official_records",
			EventType:       "LIEN",
			EventID:         "OR-0001",
			EventDate:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			Description:     "Test lien",
		},
	}
}

// WithCounty sets the county
func (b *RawEventBuilder) WithCounty(county string) *RawEventBuilder {
	b.event.County = county
	return b
}

// WithParcel sets the parcel id
func (b *RawEventBuilder) WithParcel(parcelID string) *RawEventBuilder {
	b.event.ParcelID = parcelID
	return b
}

// WithConnector sets the source connector
func (b *RawEventBuilder) WithConnector(connector string) *RawEventBuilder {
	b.event.SourceConnector = connector
	return b
}

// WithEventType sets the raw event type
func (b *RawEventBuilder) WithEventType(eventType string) *RawEventBuilder {
	b.event.EventType = eventType
	return b
}

// WithEventID sets the source-stable identifier
func (b *RawEventBuilder) WithEventID(eventID string) *RawEventBuilder {
	b.event.EventID = eventID
	return b
}

// WithEventDate sets the event date
func (b *RawEventBuilder) WithEventDate(d time.Time) *RawEventBuilder {
	b.event.EventDate = d
	return b
}

// WithDescription sets the description
func (b *RawEventBuilder) WithDescription(desc string) *RawEventBuilder {
	b.event.Description = desc
	return b
}

// Build returns the constructed raw event
func (b *RawEventBuilder) Build() classify.RawEvent {
	return b.event
}

// TriggerEventBuilder builds database.TriggerEvent rows for testing
type TriggerEventBuilder struct {
	event database.TriggerEvent
}

// NewTriggerEventBuilder creates a builder with defaults
func NewTriggerEventBuilder() *TriggerEventBuilder {
	return &TriggerEventBuilder{
		event: database.TriggerEvent{
			County:          "leon",
			ParcelID:        "PARCEL-1",
			TriggerKey:      database.TriggerLien,
			Tier:            database.TierStrong,
			SourceGroup:     database.GroupOfficialRecords,
			Severity:        60,
			SourceConnector: "official_records",
			SourceEventType: "LIEN",
			TriggerAt:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			NaturalKey:      "official_records:OR-0001",
		},
	}
}

// WithCounty sets the county
func (b *TriggerEventBuilder) WithCounty(county string) *TriggerEventBuilder {
	b.event.County = county
	return b
}

// WithParcel sets the parcel id
func (b *TriggerEventBuilder) WithParcel(parcelID string) *TriggerEventBuilder {
	b.event.ParcelID = parcelID
	return b
}

// WithTrigger sets the trigger key, tier, and group together
func (b *TriggerEventBuilder) WithTrigger(key database.TriggerKey, tier database.Tier, group database.SourceGroup) *TriggerEventBuilder {
	b.event.TriggerKey = key
	b.event.Tier = tier
	b.event.SourceGroup = group
	return b
}

// WithNaturalKey sets the natural key
func (b *TriggerEventBuilder) WithNaturalKey(key string) *TriggerEventBuilder {
	b.event.NaturalKey = key
	return b
}

// WithTriggerAt sets the event timestamp
func (b *TriggerEventBuilder) WithTriggerAt(at time.Time) *TriggerEventBuilder {
	b.event.TriggerAt = at
	return b
}

// WithSeverity sets the severity
func (b *TriggerEventBuilder) WithSeverity(severity int) *TriggerEventBuilder {
	b.event.Severity = severity
	return b
}

// Build returns the constructed trigger event
func (b *TriggerEventBuilder) Build() database.TriggerEvent {
	return b.event
}

// ========================================
// Assertion Helpers
// ========================================

// AssertEqual checks equality with a helpful error message
func AssertEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertNoError checks that no error occurred
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", msg, err)
	}
}

// AssertError checks that an error occurred
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected error, got nil", msg)
	}
}
