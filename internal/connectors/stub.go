package connectors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/classify"
)

// StubConnector replays raw events recorded in a JSON fixture file named
// <key>.json under the fixture directory. Stub keys carry a "_stub" suffix so
// the taxonomy classifies them like the real source they stand in for.
type StubConnector struct {
	key        string
	fixtureDir string
}

// NewStubConnector creates a stub connector for one source
func NewStubConnector(key, fixtureDir string) *StubConnector {
	return &StubConnector{key: key, fixtureDir: fixtureDir}
}

// Key returns the connector key
func (c *StubConnector) Key() string {
	return c.key
}

// stubEvent is the fixture schema for one raw event
type stubEvent struct {
	County      string                 `json:"county"`
	ParcelID    string                 `json:"parcel_id"`
	EventType   string                 `json:"event_type"`
	EventID     string                 `json:"event_id"`
	EventDate   string                 `json:"event_date"`
	Description string                 `json:"description"`
	Payload     map[string]interface{} `json:"payload"`
}

// ListCandidateEvents loads the fixture and returns events for the county.
// A missing fixture file is a valid empty batch.
func (c *StubConnector) ListCandidateEvents(county string, limit int) ([]classify.RawEvent, error) {
	path := filepath.Join(c.fixtureDir, c.key+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}

	var records []stubEvent
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}

	var events []classify.RawEvent
	for _, rec := range records {
		if county != "" && !strings.EqualFold(rec.County, county) {
			continue
		}
		events = append(events, classify.RawEvent{
			County:          rec.County,
			ParcelID:        rec.ParcelID,
			SourceConnector: c.key,
			EventType:       rec.EventType,
			EventID:         rec.EventID,
			EventDate:       parseEventDate(rec.EventDate),
			Description:     rec.Description,
			Payload:         rec.Payload,
		})
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func parseEventDate(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// RegisterStubs registers one stub connector per source group
func RegisterStubs(registry *Registry, fixtureDir string) {
	for _, key := range []string{
		"official_records_stub",
		"permits_stub",
		"tax_collector_stub",
		"code_enforcement_stub",
		"courts_stub",
	} {
		registry.Register(NewStubConnector(key, fixtureDir))
	}
}
