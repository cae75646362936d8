// Package taxonomy holds the versioned table mapping per-source raw event
// types to canonical trigger keys. The table is data, not logic: it is
// enumerable for tests and injected into the classifier rather than looked up
// through package-global state.
package taxonomy

import (
	"strings"

	"github.com/parcelwatch/parcelwatch/internal/database"
)

// Connector keys the taxonomy recognizes. Stub connectors replaying recorded
// fixtures for a source use the same key with a "_stub" suffix and classify
// identically.
const (
	ConnectorOfficialRecords = "official_records"
	ConnectorPermits         = "permits"
	ConnectorTaxCollector    = "tax_collector"
	ConnectorCodeEnforcement = "code_enforcement"
	ConnectorCourts          = "courts"
	ConnectorGISPlanning     = "gis_planning"
)

// Entry is one taxonomy row: the canonical classification of a raw event type
type Entry struct {
	Connector string
	EventType string
	Key       database.TriggerKey
	Tier      database.Tier
	Group     database.SourceGroup
	Severity  int
}

// Table is an immutable lookup table from (connector, raw event type) to a
// taxonomy entry
type Table struct {
	version string
	entries map[lookupKey]Entry
	ordered []Entry
}

type lookupKey struct {
	connector string
	eventType string
}

// New builds a table from entries. Later entries override earlier ones with
// the same (connector, event type).
func New(version string, entries []Entry) *Table {
	t := &Table{
		version: version,
		entries: make(map[lookupKey]Entry, len(entries)),
		ordered: entries,
	}
	for _, e := range entries {
		t.entries[lookupKey{e.Connector, normalizeEventType(e.EventType)}] = e
	}
	return t
}

// Version returns the taxonomy version string
func (t *Table) Version() string {
	return t.version
}

// Lookup resolves a (connector, raw event type) pair. The second return is
// false when the raw type is unrecognized, which callers treat as skip, not
// error.
func (t *Table) Lookup(connector, eventType string) (Entry, bool) {
	connector = strings.TrimSuffix(strings.TrimSpace(connector), "_stub")
	e, ok := t.entries[lookupKey{connector, normalizeEventType(eventType)}]
	return e, ok
}

// Entries returns every row for exhaustive enumeration in tests
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.ordered))
	copy(out, t.ordered)
	return out
}

func normalizeEventType(eventType string) string {
	return strings.ToUpper(strings.Join(strings.Fields(eventType), " "))
}

// Severity per tier. Individual entries may deviate where the source signal
// is notably stronger or weaker than its tier's norm.
const (
	severityCritical = 90
	severityStrong   = 60
	severitySupport  = 30
)

// Default returns the built-in taxonomy table
func Default() *Table {
	return New("2025-07", []Entry{
		// Official records
		{ConnectorOfficialRecords, "LIEN", database.TriggerLien, database.TierStrong, database.GroupOfficialRecords, severityStrong},
		{ConnectorOfficialRecords, "LIS PENDENS", database.TriggerLisPendens, database.TierCritical, database.GroupOfficialRecords, severityCritical},
		{ConnectorOfficialRecords, "DEED", database.TriggerDeedTransfer, database.TierSupport, database.GroupOfficialRecords, severitySupport},
		{ConnectorOfficialRecords, "FORECLOSURE JUDGMENT", database.TriggerForeclosureJudgment, database.TierCritical, database.GroupOfficialRecords, 95},
		{ConnectorOfficialRecords, "PROBATE", database.TriggerProbate, database.TierStrong, database.GroupOfficialRecords, severityStrong},
		{ConnectorOfficialRecords, "MAILING ADDRESS CHANGE", database.TriggerOwnerMailingChange, database.TierStrong, database.GroupOfficialRecords, severityStrong},

		// Building permits
		{ConnectorPermits, "ROOF", database.TriggerPermitRoof, database.TierSupport, database.GroupPermits, severitySupport},
		{ConnectorPermits, "POOL", database.TriggerPermitPool, database.TierSupport, database.GroupPermits, severitySupport},
		{ConnectorPermits, "DEMOLITION", database.TriggerPermitDemolition, database.TierStrong, database.GroupPermits, 70},
		{ConnectorPermits, "MAJOR RENOVATION", database.TriggerPermitMajorReno, database.TierStrong, database.GroupPermits, severityStrong},

		// Tax collector
		{ConnectorTaxCollector, "DELINQUENT", database.TriggerTaxDelinquent, database.TierStrong, database.GroupTax, severityStrong},
		{ConnectorTaxCollector, "CERTIFICATE SALE", database.TriggerTaxCertificateSale, database.TierCritical, database.GroupTax, severityCritical},

		// Code enforcement
		{ConnectorCodeEnforcement, "CASE OPENED", database.TriggerCodeCaseOpened, database.TierStrong, database.GroupCodeEnforcement, severityStrong},
		{ConnectorCodeEnforcement, "FINES IMPOSED", database.TriggerCodeFinesImposed, database.TierStrong, database.GroupCodeEnforcement, severityStrong},
		{ConnectorCodeEnforcement, "DEMOLITION ORDER", database.TriggerCodeDemolitionOrder, database.TierCritical, database.GroupCodeEnforcement, severityCritical},

		// Courts
		{ConnectorCourts, "EVICTION", database.TriggerEvictionFiling, database.TierStrong, database.GroupCourts, severityStrong},
		{ConnectorCourts, "DIVORCE", database.TriggerDivorceFiling, database.TierStrong, database.GroupCourts, severityStrong},

		// GIS / planning
		{ConnectorGISPlanning, "REZONING", database.TriggerRezoningApplication, database.TierSupport, database.GroupGISPlanning, severitySupport},
	})
}
