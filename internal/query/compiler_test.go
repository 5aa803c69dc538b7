package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/ddfserver/internal/ddferrors"
	"github.com/redbco/ddfserver/internal/schema"
)

func geoModel() *schema.Model {
	m := schema.NewModel()
	m.EntitySetDomain["country"] = "geo"
	m.Entities["geo"] = &schema.EntityTable{
		Domain: "geo",
		Table: schema.Table{
			PhysicalName: "entities_geo",
			ValueColumns: []string{"name"},
		},
	}
	dt := &schema.DatapointTable{
		Key: []string{"geo", "time"},
		Shards: []schema.Table{{
			PhysicalName: "datapoints_geo_time",
			KeyColumns:   []string{"geo", "time"},
			ValueColumns: []string{"population", "gdp"},
		}},
	}
	m.Datapoints[schema.KeyID(dt.Key)] = dt
	return m
}

func TestCompileSimpleDatapointsQuery(t *testing.T) {
	q := &Query{
		Select: Selection{Key: []string{"geo", "time"}, Value: []string{"population"}},
		From:   "datapoints",
	}
	compiled, err := Compile(q, geoModel())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(compiled.SQL, "SELECT "))
	assert.Contains(t, compiled.SQL, `FROM "datapoints_geo_time"`)
}

func TestCompileEntitySetInjectsIsTrueFilter(t *testing.T) {
	q := &Query{
		Select: Selection{Key: []string{"country", "time"}, Value: []string{"population"}},
		From:   "datapoints",
	}
	compiled, err := Compile(q, geoModel())
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, `"is--country" IS TRUE`)
}

func TestCompileJoinsPrecedeWhere(t *testing.T) {
	q := &Query{
		Select: Selection{Key: []string{"geo", "time"}, Value: []string{"population"}},
		From:   "datapoints",
		Joins: []JoinBinding{
			{Var: "$geo", Key: []string{"geo"}},
		},
		Where: &Predicate{Kind: PredCmp, Cmp: Cmp{Column: "population", Op: OpGt, Value: numOperand(100)}},
	}
	compiled, err := Compile(q, geoModel())
	require.NoError(t, err)
	joinIdx := strings.Index(compiled.SQL, "INNER JOIN")
	whereIdx := strings.Index(compiled.SQL, "WHERE")
	require.NotEqual(t, -1, joinIdx)
	require.NotEqual(t, -1, whereIdx)
	assert.Less(t, joinIdx, whereIdx)
}

func TestCompileSingleJoinCompiles(t *testing.T) {
	m := geoModel()
	q := &Query{
		Select: Selection{Key: []string{"geo", "time"}, Value: []string{"population"}},
		From:   "datapoints",
		Joins: []JoinBinding{
			{Var: "$a", Key: []string{"geo"}},
		},
	}
	_, err := Compile(q, m)
	assert.NoError(t, err)
}

func TestCompileOrderByDroppedWhenNotProjected(t *testing.T) {
	q := &Query{
		Select:  Selection{Key: []string{"geo", "time"}, Value: []string{"population"}},
		From:    "datapoints",
		OrderBy: []OrderField{{Column: "gdp"}},
	}
	compiled, err := Compile(q, geoModel())
	require.NoError(t, err)
	assert.NotContains(t, compiled.SQL, "ORDER BY")
	assert.NotEmpty(t, compiled.Warnings)
}

func TestCompileOrderByKeptWhenProjected(t *testing.T) {
	q := &Query{
		Select:  Selection{Key: []string{"geo", "time"}, Value: []string{"population"}},
		From:    "datapoints",
		OrderBy: []OrderField{{Column: "population", Desc: true}},
	}
	compiled, err := Compile(q, geoModel())
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, `ORDER BY "population" DESC`)
}

func TestCompileSchemaFromShortCircuits(t *testing.T) {
	q := &Query{
		Select: Selection{Key: []string{"key"}},
		From:   "concepts.schema",
	}
	compiled, err := Compile(q, geoModel())
	require.NoError(t, err)
	assert.True(t, compiled.SchemaQuery)
	assert.Empty(t, compiled.SQL)
}

func TestCompileUnknownDatapointKeyFails(t *testing.T) {
	q := &Query{
		Select: Selection{Key: []string{"nonexistent"}, Value: []string{"x"}},
		From:   "datapoints",
	}
	_, err := Compile(q, geoModel())
	require.Error(t, err)
	assert.Equal(t, ddferrors.QuerySemantic, ddferrors.KindOf(err))
}

func TestRenderCmpBooleanUsesIsTrueIsFalse(t *testing.T) {
	tru := true
	sql, err := renderCmp(Cmp{Column: "is--country", Op: OpEq, Value: ValueOperand{Bool: &tru}}, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, `"is--country" IS TRUE`, sql)

	fls := false
	sql, err = renderCmp(Cmp{Column: "is--country", Op: OpNe, Value: ValueOperand{Bool: &fls}}, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, `"is--country" IS NOT FALSE`, sql)
}

func TestRenderCmpEqIsNullSafe(t *testing.T) {
	sql, err := renderCmp(Cmp{Column: "geo", Op: OpEq, Value: numOperand(5)}, "", "", nil)
	require.NoError(t, err)
	assert.Contains(t, sql, "IS NOT DISTINCT FROM")
}

func TestRenderCmpNeIsNullSafe(t *testing.T) {
	sql, err := renderCmp(Cmp{Column: "geo", Op: OpNe, Value: numOperand(5)}, "", "", nil)
	require.NoError(t, err)
	assert.Contains(t, sql, "IS DISTINCT FROM")
}

func TestRenderCmpJoinRefEmitsColumnEquality(t *testing.T) {
	joins := map[string]joinPlan{"$geo": {alias: "geo", onColumn: "geo"}}
	sql, err := renderCmp(Cmp{Column: "geo", Op: OpEq, Value: ValueOperand{JoinRef: "$geo"}}, "", "datapoints_geo_time", joins)
	require.NoError(t, err)
	assert.Equal(t, `"datapoints_geo_time"."geo" = "geo"."geo"`, sql)
}

func TestRenderCmpJoinRefRejectsUnknownVar(t *testing.T) {
	_, err := renderCmp(Cmp{Column: "geo", Op: OpEq, Value: ValueOperand{JoinRef: "$bogus"}}, "", "datapoints_geo_time", map[string]joinPlan{})
	require.Error(t, err)
	assert.Equal(t, ddferrors.QuerySemantic, ddferrors.KindOf(err))
}

func TestCompileWhereJoinVarValueFiltersOnCrossTableEquality(t *testing.T) {
	q := &Query{
		Select: Selection{Key: []string{"geo", "time"}, Value: []string{"population"}},
		From:   "datapoints",
		Joins: []JoinBinding{
			{Var: "$geo", Key: []string{"geo"}},
		},
		Where: &Predicate{Kind: PredAnd, Children: []Predicate{
			{Kind: PredCmp, Cmp: Cmp{Column: "geo", Op: OpEq, Value: ValueOperand{JoinRef: "$geo"}}},
		}},
	}
	compiled, err := Compile(q, geoModel())
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, `"datapoints_geo_time"."geo" = "geo"."geo"`)
}

func numOperand(n float64) ValueOperand { return ValueOperand{Num: &n} }
