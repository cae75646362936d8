// Package jobs contains the scheduler driver that chains the pipeline
// stages: connector ingest, rollup rebuild, inbox sync, delivery. Every stage
// is individually skippable and every run takes an explicit now, so repeated
// or replayed ticks are deterministic.
package jobs

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/parcelwatch/parcelwatch/internal/connectors"
	"github.com/parcelwatch/parcelwatch/internal/database"
	"github.com/parcelwatch/parcelwatch/internal/services"
)

// Scheduler orchestrates one engine tick
type Scheduler struct {
	db       *gorm.DB
	registry *connectors.Registry
	ingest   *services.IngestService
	rollups  *services.RollupService
	inbox    *services.InboxService
	delivery *services.DeliveryService
}

// NewScheduler creates a new Scheduler
func NewScheduler(db *gorm.DB, registry *connectors.Registry, ingest *services.IngestService, rollups *services.RollupService, inbox *services.InboxService, deliverySvc *services.DeliveryService) *Scheduler {
	return &Scheduler{
		db:       db,
		registry: registry,
		ingest:   ingest,
		rollups:  rollups,
		inbox:    inbox,
		delivery: deliverySvc,
	}
}

// RunOptions selects what one tick does. Now is required: the scheduler never
// reads the wall clock itself.
type RunOptions struct {
	Counties   []string
	Connectors []string
	Limit      int
	Now        time.Time

	SkipIngest    bool
	SkipRollups   bool
	SkipInboxSync bool
	SkipDelivery  bool
}

// RunReport summarizes one tick. Stage errors abort only the failing
// county's stage; everything already committed stays committed.
type RunReport struct {
	Now            time.Time                     `json:"now"`
	Ingested       map[string]services.RunResult `json:"ingested"`
	RollupsRebuilt int                           `json:"rollups_rebuilt"`
	InboxInserted  int                           `json:"inbox_inserted"`
	Delivered      services.DeliverResult        `json:"delivered"`
	StageErrors    []string                      `json:"stage_errors,omitempty"`
}

// Run executes one tick: ingest per connector, rebuild rollups per county,
// sync every saved search inbox, deliver. Safe to invoke repeatedly with
// overlapping or identical time windows.
func (s *Scheduler) Run(opts RunOptions) (*RunReport, error) {
	if opts.Now.IsZero() {
		return nil, errors.New("scheduler run requires an explicit now")
	}

	settings, err := database.GetOrCreateEngineSettings(s.db)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		log.Println("Engine is disabled, skipping scheduler run")
		return &RunReport{Now: opts.Now, Ingested: map[string]services.RunResult{}}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = settings.DefaultIngestLimit
	}

	connectorKeys := opts.Connectors
	if len(connectorKeys) == 0 {
		connectorKeys = s.registry.Keys()
	}

	report := &RunReport{
		Now:      opts.Now,
		Ingested: make(map[string]services.RunResult),
	}

	if !opts.SkipIngest {
		for _, county := range opts.Counties {
			for _, key := range connectorKeys {
				res, err := s.ingest.Run(county, key, limit, opts.Now)
				if err != nil {
					report.StageErrors = append(report.StageErrors,
						fmt.Sprintf("ingest %s/%s at %s: %v", county, key, opts.Now.Format(time.RFC3339), err))
					log.Printf("Ingest stage failed for %s/%s at %s: %v", county, key, opts.Now.Format(time.RFC3339), err)
					continue
				}
				report.Ingested[county+"/"+key] = res
			}
		}
	}

	if !opts.SkipRollups {
		for _, county := range opts.Counties {
			rebuilt, err := s.rollups.RebuildForCounty(county, opts.Now)
			if err != nil {
				report.StageErrors = append(report.StageErrors,
					fmt.Sprintf("rollups %s at %s: %v", county, opts.Now.Format(time.RFC3339), err))
				log.Printf("Rollup stage failed for county %s at %s: %v", county, opts.Now.Format(time.RFC3339), err)
				continue
			}
			report.RollupsRebuilt += rebuilt
		}
	}

	if !opts.SkipInboxSync {
		searches, err := s.inbox.ListSavedSearches()
		if err != nil {
			report.StageErrors = append(report.StageErrors, fmt.Sprintf("inbox sync: %v", err))
			log.Printf("Inbox sync stage failed to list saved searches: %v", err)
		} else {
			for _, search := range searches {
				res, err := s.inbox.SyncSavedSearchInbox(search.ID, opts.Now)
				if err != nil {
					report.StageErrors = append(report.StageErrors,
						fmt.Sprintf("inbox sync %s: %v", search.UUID, err))
					log.Printf("Inbox sync failed for saved search %s: %v", search.UUID, err)
					continue
				}
				report.InboxInserted += res.Inserted
			}
		}
	}

	if !opts.SkipDelivery && settings.DeliveryEnabled {
		res, err := s.delivery.DeliverOpenAlerts(opts.Now)
		if err != nil {
			report.StageErrors = append(report.StageErrors, fmt.Sprintf("delivery: %v", err))
			log.Printf("Delivery stage failed at %s: %v", opts.Now.Format(time.RFC3339), err)
		}
		report.Delivered = res
	}

	return report, nil
}

// Start runs a tick every interval until stop is closed. The wall clock is
// read exactly once per tick, here and nowhere else.
func (s *Scheduler) Start(interval time.Duration, base RunOptions, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			opts := base
			opts.Now = time.Now().UTC()
			report, err := s.Run(opts)
			if err != nil {
				log.Printf("Scheduler tick error: %v", err)
				continue
			}
			log.Printf("Scheduler tick at %s: rollups=%d inbox=%d sent=%d skipped=%d failed=%d stage_errors=%d",
				report.Now.Format(time.RFC3339), report.RollupsRebuilt, report.InboxInserted,
				report.Delivered.Sent, report.Delivered.Skipped, report.Delivered.Failed, len(report.StageErrors))
		case <-stop:
			log.Println("Scheduler stopped")
			return
		}
	}
}
