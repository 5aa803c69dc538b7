package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureModel() *Model {
	m := NewModel()
	m.Concepts["geo"] = Concept{Name: "geo", Type: ConceptEntityDomain}
	m.Concepts["population"] = Concept{Name: "population", Type: ConceptMeasure}
	m.Entities["geo"] = &EntityTable{
		Domain: "geo",
		Table:  Table{PhysicalName: "entities_geo", ValueColumns: []string{"name"}},
	}
	dt := &DatapointTable{
		Key: []string{"geo", "time"},
		Shards: []Table{{
			PhysicalName: "datapoints_geo_time",
			ValueColumns: []string{"population"},
		}},
	}
	m.Datapoints[KeyID(dt.Key)] = dt
	return m
}

func TestSynthesizeConceptsSchema(t *testing.T) {
	rows := fixtureModel().Synthesize("concepts.schema")
	require.Len(t, rows, 2)
	assert.Equal(t, "geo", rows[0].Key[1])
	assert.Equal(t, "population", rows[1].Key[1])
}

func TestSynthesizeEntitiesSchema(t *testing.T) {
	rows := fixtureModel().Synthesize("entities.schema")
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"geo", "name"}, rows[0].Key)
}

func TestSynthesizeDatapointsSchema(t *testing.T) {
	rows := fixtureModel().Synthesize("datapoints.schema")
	require.Len(t, rows, 1)
	assert.Equal(t, "population", rows[0].Value)
}

func TestSynthesizeWildcardUnionsAll(t *testing.T) {
	rows := fixtureModel().Synthesize("*.schema")
	assert.Len(t, rows, 4, "expected 2 concept + 1 entity + 1 datapoint rows")
}

func TestSynthesizeUnknownFromYieldsNoRows(t *testing.T) {
	rows := fixtureModel().Synthesize("bogus.schema")
	assert.Empty(t, rows)
}
