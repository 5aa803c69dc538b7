package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnInferenceType(t *testing.T) {
	cases := []struct {
		name   string
		values []string
		want   ColumnType
	}{
		{"integers", []string{"1", "2", "3"}, TypeInteger},
		{"bigints", []string{"1", "9999999999"}, TypeBigInt},
		{"doubles", []string{"1", "1.5"}, TypeDouble},
		{"booleans", []string{"TRUE", "FALSE", "TRUE"}, TypeBoolean},
		{"short strings", []string{"geo", "usa"}, TypeVarchar},
		{"long strings", []string{stringOfLen(2500)}, TypeText},
		{"empty column", []string{"", ""}, TypeVarchar},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ci := NewColumnInference(tc.name)
			for _, v := range tc.values {
				ci.Observe(v)
			}
			assert.Equal(t, tc.want, ci.Type())
		})
	}
}

func TestColumnInferenceIsSetFlagAlwaysBoolean(t *testing.T) {
	ci := NewColumnInference("is--country")
	ci.Observe("TRUE")
	ci.Observe("FALSE")
	assert.Equal(t, TypeBoolean, ci.Type())
}

func TestColumnInferenceCardinality(t *testing.T) {
	ci := NewColumnInference("geo")
	for i := 0; i < 160; i++ {
		ci.Observe(stringOfLen(i + 1))
	}
	assert.True(t, ci.NeedsSecondaryIndex(), "expected cardinality >= 150 to require a secondary index, got %d", ci.Cardinality())
}

func TestColumnInferenceLowCardinalityNoIndex(t *testing.T) {
	ci := NewColumnInference("region")
	ci.Observe("africa")
	ci.Observe("europe")
	assert.False(t, ci.NeedsSecondaryIndex())
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return string(b)
}
