package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSingleShardWhenWithinCaps(t *testing.T) {
	key := []ColumnDef{{Name: "geo", Type: TypeVarchar, Length: 8}}
	values := []ColumnDef{
		{Name: "gdp", Type: TypeDouble},
		{Name: "population", Type: TypeBigInt},
	}
	shards := Split(key, values, DefaultMaxColumns, DefaultMaxRowBytes)
	require.Len(t, shards, 1)
	assert.Len(t, shards[0].ValueColumns, 2)
}

func TestSplitRespectsMaxColumns(t *testing.T) {
	key := []ColumnDef{{Name: "geo", Type: TypeVarchar, Length: 8}}
	var values []ColumnDef
	for i := 0; i < 10; i++ {
		values = append(values, ColumnDef{Name: "v", Type: TypeDouble})
	}
	// key occupies 1 column; cap at 3 means at most 2 value columns per shard.
	shards := Split(key, values, 3, DefaultMaxRowBytes)
	require.Len(t, shards, 5)
	for _, s := range shards {
		assert.LessOrEqual(t, len(s.ValueColumns), 2)
	}
}

func TestSplitRespectsMaxRowBytes(t *testing.T) {
	key := []ColumnDef{{Name: "geo", Type: TypeVarchar, Length: 8}}
	values := []ColumnDef{
		{Name: "a", Type: TypeText},
		{Name: "b", Type: TypeText},
		{Name: "c", Type: TypeText},
	}
	// TEXT columns are charged 32 bytes each; force a split every column.
	shards := Split(key, values, DefaultMaxColumns, 40)
	assert.Len(t, shards, 3)
}

func TestSplitNeverReturnsZeroShards(t *testing.T) {
	shards := Split(nil, nil, DefaultMaxColumns, DefaultMaxRowBytes)
	assert.Len(t, shards, 1)
}
