// Package classify converts raw connector events into canonical trigger
// events. Classification is pure: all persistence happens in the trigger
// event service.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/database"
	"github.com/parcelwatch/parcelwatch/internal/taxonomy"
)

// RawEvent is one candidate event as produced by a source connector. Field
// availability varies per source; EventID is the source-stable identifier
// (case, permit, or instrument number) and may be empty.
type RawEvent struct {
	County          string                 `json:"county"`
	ParcelID        string                 `json:"parcel_id"`
	SourceConnector string                 `json:"source_connector"`
	EventType       string                 `json:"event_type"`
	EventID         string                 `json:"event_id"`
	EventDate       time.Time              `json:"event_date"`
	Description     string                 `json:"description"`
	Payload         map[string]interface{} `json:"payload"`
}

// Classifier turns raw events into trigger events using an injected taxonomy
type Classifier struct {
	table *taxonomy.Table
}

// NewClassifier creates a classifier over the given taxonomy table
func NewClassifier(table *taxonomy.Table) *Classifier {
	return &Classifier{table: table}
}

// Classify resolves a raw event against the taxonomy. Returns false when the
// raw type is unrecognized; callers log and skip, since upstream sources
// evolve independently of this engine.
func (c *Classifier) Classify(raw RawEvent) (*database.TriggerEvent, bool) {
	entry, ok := c.table.Lookup(raw.SourceConnector, raw.EventType)
	if !ok {
		return nil, false
	}

	details := database.JSONB{
		"description": raw.Description,
	}
	if raw.EventID != "" {
		details["source_event_id"] = raw.EventID
	}
	for k, v := range raw.Payload {
		details[k] = v
	}

	return &database.TriggerEvent{
		County:          raw.County,
		ParcelID:        raw.ParcelID,
		TriggerKey:      entry.Key,
		Tier:            entry.Tier,
		SourceGroup:     entry.Group,
		Severity:        entry.Severity,
		SourceConnector: raw.SourceConnector,
		SourceEventType: raw.EventType,
		TriggerAt:       raw.EventDate,
		NaturalKey:      NaturalKey(raw, entry.Key),
		Details:         details,
	}, true
}

// NaturalKey builds the dedup key for a raw event. When the source provides a
// stable identifier the key is deterministic from connector and identifier;
// otherwise it falls back to a hash of (county, parcel, trigger key, date,
// description). The fallback may under-deduplicate near-identical
// re-descriptions of the same event; that limitation is accepted rather than
// papered over with fuzzy matching.
func NaturalKey(raw RawEvent, key database.TriggerKey) string {
	if id := strings.TrimSpace(raw.EventID); id != "" {
		return raw.SourceConnector + ":" + id
	}
	h := sha256.Sum256([]byte(strings.Join([]string{
		raw.County,
		raw.ParcelID,
		string(key),
		raw.EventDate.UTC().Format("2006-01-02"),
		raw.Description,
	}, "|")))
	return hex.EncodeToString(h[:])
}
