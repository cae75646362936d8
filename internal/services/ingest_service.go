package services

import (
	"fmt"
	"log"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/classify"
	"github.com/parcelwatch/parcelwatch/internal/connectors"
	"github.com/parcelwatch/parcelwatch/internal/database"
)

// IngestService runs one connector pass: list candidates, classify, store.
// Each stage degrades gracefully: unrecognized raw types are skipped with a
// log line, malformed records are rejected individually, and an empty
// connector result is a valid batch.
type IngestService struct {
	registry   *connectors.Registry
	classifier *classify.Classifier
	events     *TriggerEventService
}

// NewIngestService creates a new IngestService
func NewIngestService(registry *connectors.Registry, classifier *classify.Classifier, events *TriggerEventService) *IngestService {
	return &IngestService{
		registry:   registry,
		classifier: classifier,
		events:     events,
	}
}

// RunResult reports what one connector run did
type RunResult struct {
	Listed     int `json:"listed"`
	Classified int `json:"classified"`
	Skipped    int `json:"skipped"`
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Rejected   int `json:"rejected"`
}

// Run ingests one connector for one county. now stamps events whose source
// provided no date; it is supplied by the caller so runs are replayable.
func (s *IngestService) Run(county, connectorKey string, limit int, now time.Time) (RunResult, error) {
	var res RunResult

	conn, ok := s.registry.Get(connectorKey)
	if !ok {
		return res, fmt.Errorf("unknown connector: %s", connectorKey)
	}

	raws, err := conn.ListCandidateEvents(county, limit)
	if err != nil {
		return res, fmt.Errorf("connector %s failed for county %s: %w", connectorKey, county, err)
	}
	res.Listed = len(raws)

	var classified []*database.TriggerEvent
	for _, raw := range raws {
		if raw.EventDate.IsZero() {
			raw.EventDate = now
		}
		ev, ok := s.classifier.Classify(raw)
		if !ok {
			res.Skipped++
			log.Printf("Skipping unrecognized event type %q from connector %s (county=%s parcel=%s)",
				raw.EventType, connectorKey, raw.County, raw.ParcelID)
			continue
		}
		classified = append(classified, ev)
	}
	res.Classified = len(classified)

	upsert, err := s.events.UpsertMany(classified)
	if err != nil {
		return res, fmt.Errorf("upsert failed for connector %s county %s: %w", connectorKey, county, err)
	}
	res.Inserted = upsert.Inserted
	res.Updated = upsert.Updated
	res.Rejected = upsert.Rejected

	log.Printf("Ingest %s/%s at %s: listed=%d classified=%d skipped=%d inserted=%d updated=%d rejected=%d",
		county, connectorKey, now.Format(time.RFC3339),
		res.Listed, res.Classified, res.Skipped, res.Inserted, res.Updated, res.Rejected)
	return res, nil
}
