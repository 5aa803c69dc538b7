package schema

import "sort"

// SchemaRow is one [keyTuple, value] row of a synthesised schema stream
// (spec §4.2: "from: '<kind>.schema'" short-circuits the compiler).
type SchemaRow struct {
	Key   []string
	Value string
}

// Synthesize produces the in-memory stream for `from` in
// {"*.schema", "concepts.schema", "entities.schema", "datapoints.schema"}.
func (m *Model) Synthesize(from string) []SchemaRow {
	var out []SchemaRow
	if from == "*.schema" || from == "concepts.schema" {
		names := make([]string, 0, len(m.Concepts))
		for n := range m.Concepts {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			c := m.Concepts[n]
			out = append(out, SchemaRow{Key: []string{"concept", n}, Value: string(c.Type)})
		}
	}
	if from == "*.schema" || from == "entities.schema" {
		domains := make([]string, 0, len(m.Entities))
		for d := range m.Entities {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		for _, d := range domains {
			et := m.Entities[d]
			for _, col := range et.Table.ValueColumns {
				out = append(out, SchemaRow{Key: []string{d, col}, Value: "entity"})
			}
		}
	}
	if from == "*.schema" || from == "datapoints.schema" {
		ids := make([]string, 0, len(m.Datapoints))
		for id := range m.Datapoints {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			dt := m.Datapoints[id]
			for _, col := range dt.ValueColumns() {
				out = append(out, SchemaRow{Key: append([]string{}, dt.Key...), Value: col})
			}
		}
	}
	return out
}
