package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/ddfserver/internal/ddferrors"
)

func requireKind(t *testing.T, err error, want ddferrors.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, ddferrors.KindOf(err))
}

func TestParseJSONValidQuery(t *testing.T) {
	raw := []byte(`{"select":{"key":["geo","time"],"value":["population"]},"from":"datapoints"}`)
	q, err := ParseJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "datapoints", q.From)
	assert.Len(t, q.Select.Key, 2)
	assert.Len(t, q.Select.Value, 1)
}

func TestParseJSONMalformed(t *testing.T) {
	_, err := ParseJSON([]byte(`{not json`))
	requireKind(t, err, ddferrors.QuerySyntax)
}

func TestFromGenericMissingSelect(t *testing.T) {
	_, err := FromGeneric(map[string]interface{}{"from": "concepts"})
	requireKind(t, err, ddferrors.QuerySyntax)
}

func TestFromGenericSelectKeyWrongType(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": "geo"},
		"from":   "concepts",
	}
	_, err := FromGeneric(generic)
	requireKind(t, err, ddferrors.QuerySyntax)
}

func TestFromGenericSelectKeyEmpty(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{}},
		"from":   "concepts",
	}
	_, err := FromGeneric(generic)
	requireKind(t, err, ddferrors.QuerySyntax)
}

func TestFromGenericMissingFrom(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{"geo"}},
	}
	_, err := FromGeneric(generic)
	requireKind(t, err, ddferrors.QuerySyntax)
}

func TestFromGenericUnsupportedFrom(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{"geo"}},
		"from":   "not-a-thing",
	}
	_, err := FromGeneric(generic)
	requireKind(t, err, ddferrors.QuerySemantic)
}

func TestFromGenericSchemaFromAccepted(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{"key"}},
		"from":   "concepts.schema",
	}
	q, err := FromGeneric(generic)
	require.NoError(t, err)
	assert.Equal(t, "concepts.schema", q.From)
}

func TestFromGenericWhereScalarImplicitEq(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{"geo"}},
		"from":   "datapoints",
		"where":  map[string]interface{}{"geo": "usa"},
	}
	q, err := FromGeneric(generic)
	require.NoError(t, err)
	require.NotNil(t, q.Where)
	assert.Equal(t, PredCmp, q.Where.Kind)
	assert.Equal(t, OpEq, q.Where.Cmp.Op)
}

func TestFromGenericWhereUnknownOperator(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{"geo"}},
		"from":   "datapoints",
		"where":  map[string]interface{}{"geo": map[string]interface{}{"$bogus": 1}},
	}
	_, err := FromGeneric(generic)
	requireKind(t, err, ddferrors.QuerySyntax)
}

func TestFromGenericJoinBindingParsed(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{"geo"}},
		"from":   "datapoints",
		"join": map[string]interface{}{
			"$geo": map[string]interface{}{"key": "country", "where": map[string]interface{}{"is--country": true}},
		},
	}
	q, err := FromGeneric(generic)
	require.NoError(t, err)
	require.Len(t, q.Joins, 1)
	assert.Equal(t, "$geo", q.Joins[0].Var)
}

func TestFromGenericJoinVarMustHaveDollarPrefix(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{"geo"}},
		"from":   "datapoints",
		"join":   map[string]interface{}{"geo": map[string]interface{}{"key": "country"}},
	}
	_, err := FromGeneric(generic)
	requireKind(t, err, ddferrors.QuerySyntax)
}

func TestFromGenericOrderByStringEntries(t *testing.T) {
	generic := map[string]interface{}{
		"select":   map[string]interface{}{"key": []interface{}{"geo"}},
		"from":     "datapoints",
		"order_by": []interface{}{"geo", map[string]interface{}{"time": "desc"}},
	}
	q, err := FromGeneric(generic)
	require.NoError(t, err)
	require.Len(t, q.OrderBy, 2)
	assert.Equal(t, "time", q.OrderBy[1].Column)
	assert.True(t, q.OrderBy[1].Desc)
}

func TestFromGenericOrderByInvalidDirection(t *testing.T) {
	generic := map[string]interface{}{
		"select":   map[string]interface{}{"key": []interface{}{"geo"}},
		"from":     "datapoints",
		"order_by": []interface{}{map[string]interface{}{"time": "sideways"}},
	}
	_, err := FromGeneric(generic)
	requireKind(t, err, ddferrors.QuerySyntax)
}

func TestFromGenericLanguageValidHyphenated(t *testing.T) {
	generic := map[string]interface{}{
		"select":   map[string]interface{}{"key": []interface{}{"geo"}},
		"from":     "datapoints",
		"language": "pt-BR",
	}
	q, err := FromGeneric(generic)
	require.NoError(t, err)
	assert.Equal(t, "pt-BR", q.Language)
}

func TestFromGenericLanguageValidUnderscoreNormalizedButPreserved(t *testing.T) {
	generic := map[string]interface{}{
		"select":   map[string]interface{}{"key": []interface{}{"geo"}},
		"from":     "datapoints",
		"language": "pt_BR",
	}
	q, err := FromGeneric(generic)
	require.NoError(t, err)
	// the validated form is hyphenated, but the caller's original tag is
	// preserved verbatim since <col>--<lang> columns key on it literally.
	assert.Equal(t, "pt_BR", q.Language)
}

func TestFromGenericLanguageMalformed(t *testing.T) {
	generic := map[string]interface{}{
		"select":   map[string]interface{}{"key": []interface{}{"geo"}},
		"from":     "datapoints",
		"language": "???",
	}
	_, err := FromGeneric(generic)
	requireKind(t, err, ddferrors.QuerySyntax)
}

func TestFromGenericWhereJoinVarValueParsedAsJoinRef(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{"geo"}},
		"from":   "datapoints",
		"where":  map[string]interface{}{"geo": "$geo"},
	}
	q, err := FromGeneric(generic)
	require.NoError(t, err)
	require.Equal(t, PredCmp, q.Where.Kind)
	assert.Equal(t, "$geo", q.Where.Cmp.Value.JoinRef)
	assert.Empty(t, q.Where.Cmp.Value.Str)
}

func TestFromGenericWhereAndOr(t *testing.T) {
	generic := map[string]interface{}{
		"select": map[string]interface{}{"key": []interface{}{"geo"}},
		"from":   "datapoints",
		"where": map[string]interface{}{
			"$and": []interface{}{
				map[string]interface{}{"geo": "usa"},
				map[string]interface{}{"$or": []interface{}{
					map[string]interface{}{"time": map[string]interface{}{"$gte": float64(2000)}},
					map[string]interface{}{"time": map[string]interface{}{"$lt": float64(1950)}},
				}},
			},
		},
	}
	q, err := FromGeneric(generic)
	require.NoError(t, err)
	require.Equal(t, PredAnd, q.Where.Kind)
	require.Len(t, q.Where.Children, 2)
	assert.Equal(t, PredOr, q.Where.Children[1].Kind)
}
