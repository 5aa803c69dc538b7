// Package schema holds the in-memory representation of a dataset's DDF
// schema (spec §4.2): the concept table, per-entity-domain tables,
// per-key datapoint tables, translations, and the entity-set-to-domain
// map. A Model is read-only after the Loader builds it, so it is safe to
// share across concurrently-served query requests (spec §5).
package schema

import (
	"sort"
	"strings"
)

// ConceptType is one of the concept_type values a DDF package declares.
type ConceptType string

const (
	ConceptEntityDomain ConceptType = "entity_domain"
	ConceptEntitySet    ConceptType = "entity_set"
	ConceptMeasure      ConceptType = "measure"
	ConceptString       ConceptType = "string"
	ConceptTime         ConceptType = "time"
	ConceptBoolean      ConceptType = "boolean"
	ConceptInterval     ConceptType = "interval"
)

// timeDomains are the single-component keys treated as in-domain
// self-joins rather than requiring a separate entity table (spec §4.2).
var timeDomains = map[string]bool{
	"time": true, "year": true, "quarter": true, "month": true, "week": true, "day": true,
}

// IsTimeDomain reports whether name is one of the built-in time-domain
// single-component keys.
func IsTimeDomain(name string) bool { return timeDomains[name] }

// Concept is a named attribute declared in the dataset's schema.
type Concept struct {
	Name   string      `json:"name"`
	Type   ConceptType `json:"concept_type"`
	Domain string      `json:"domain,omitempty"` // set only when Type == ConceptEntitySet
}

// Column describes one physical column of a table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"` // BIGINT | INTEGER | DOUBLE | BOOLEAN | VARCHAR | TEXT | JSON
}

// Table describes one physical table (or, for a wide-table group, one
// shard of it) backing a schema entity.
type Table struct {
	PhysicalName string   `json:"physical_name"`
	Columns      []Column `json:"columns"`
	KeyColumns   []string `json:"key_columns"`
	ValueColumns []string `json:"value_columns"`
	// EntitySets lists the is--<set> boolean columns present on this
	// table (datapoint tables whose key collapsed multiple entity sets).
	EntitySets []string `json:"entity_sets,omitempty"`
	// Languages lists translated languages with virtual coalescing
	// columns on this table's value columns.
	Languages []string `json:"languages,omitempty"`
	// ViewName is the i18n view over PhysicalName the compiler should
	// query instead of the bare table when Languages is non-empty (spec
	// §4.4's `<col>--<lang>` columns; PostgreSQL generated columns can't
	// reference another table, so translations are projected by a view).
	ViewName string `json:"view_name,omitempty"`
	// Sources records the package resource file(s) that contributed to
	// this table, for diagnostics.
	Sources []string `json:"sources,omitempty"`
}

// QueryName is the physical name the compiler selects FROM: the i18n
// view when the table carries translations, otherwise the bare table.
func (t Table) QueryName() string {
	if t.ViewName != "" {
		return t.ViewName
	}
	return t.PhysicalName
}

// EntityTable is a Table plus the domain concept it backs.
type EntityTable struct {
	Domain string `json:"domain"`
	Table  Table  `json:"table"`
}

// DatapointTable is a wide-table-aware group of shards sharing one key.
type DatapointTable struct {
	Key    []string `json:"key"`    // sorted, domain-normalised key components
	Shards []Table  `json:"shards"` // 1 shard unless the table was wide-split
}

// ValueColumns returns the full set of value columns across all shards.
func (d *DatapointTable) ValueColumns() []string {
	seen := map[string]bool{}
	var out []string
	for _, shard := range d.Shards {
		for _, c := range shard.ValueColumns {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// ShardFor returns the shard carrying a given value column, or the first
// shard if the column isn't a value column of this table (e.g. it's a
// key column, present on every shard).
func (d *DatapointTable) ShardFor(valueColumn string) *Table {
	for i := range d.Shards {
		for _, c := range d.Shards[i].ValueColumns {
			if c == valueColumn {
				return &d.Shards[i]
			}
		}
	}
	if len(d.Shards) > 0 {
		return &d.Shards[0]
	}
	return nil
}

// Model is the full in-memory schema for one dataset version.
type Model struct {
	Concepts   map[string]Concept         `json:"concepts"`   // by concept name
	Entities   map[string]*EntityTable    `json:"entities"`   // by domain name
	Datapoints map[string]*DatapointTable `json:"datapoints"` // by KeyID(key)
	// ConceptsTable is the physical (or i18n-view) backing of the
	// `from: "concepts"` query form: one row per concept, one column per
	// concepts.csv field (spec §4.2, §4.3).
	ConceptsTable Table `json:"concepts_table"`
	// EntitySetDomain maps an entity set name to its owning domain,
	// populated after the concepts table is loaded (spec §4.2).
	EntitySetDomain map[string]string `json:"entity_set_domain"`
}

// NewModel creates an empty, mutable model for the loader to populate.
func NewModel() *Model {
	return &Model{
		Concepts:        map[string]Concept{},
		Entities:        map[string]*EntityTable{},
		Datapoints:      map[string]*DatapointTable{},
		EntitySetDomain: map[string]string{},
	}
}

// KeyID computes the canonical lookup key for a (possibly unsorted) key
// tuple: the "$"-joined sorted tuple of key columns (spec §4.2).
func KeyID(key []string) string {
	sorted := append([]string(nil), key...)
	sort.Strings(sorted)
	return strings.Join(sorted, "$")
}

// NormalizedKeyID resolves entity-set components to their domain before
// computing the KeyID, and reports which sets were substituted (each
// needs an implicit `is--<set> IS TRUE` filter at query time).
func (m *Model) NormalizedKeyID(key []string) (id string, setFilters map[string]string) {
	setFilters = map[string]string{}
	resolved := make([]string, len(key))
	for i, k := range key {
		if domain, ok := m.EntitySetDomain[k]; ok {
			resolved[i] = domain
			setFilters[domain] = k
		} else {
			resolved[i] = k
		}
	}
	return KeyID(resolved), setFilters
}

// LookupDatapointTable resolves a (possibly entity-set-keyed) key to its
// normalised physical table, and the set-membership filters to apply.
func (m *Model) LookupDatapointTable(key []string) (*DatapointTable, map[string]string, bool) {
	id, filters := m.NormalizedKeyID(key)
	dt, ok := m.Datapoints[id]
	return dt, filters, ok
}

// Domain returns the owning domain for an entity-set name, or the name
// itself if it is already a domain (not a set).
func (m *Model) Domain(name string) string {
	if d, ok := m.EntitySetDomain[name]; ok {
		return d
	}
	return name
}
