package table

// DefaultMaxColumns is the column-count cap a logical table must stay
// under before the loader splits it into shards (spec §4.4; DB_MAX_COLUMNS
// in the environment, spec §6).
const DefaultMaxColumns = 1000

// DefaultMaxRowBytes is the estimated row-width cap (spec §4.4, "~8000
// bytes").
const DefaultMaxRowBytes = 8000

// estimatedWidth approximates a column's on-disk width for the row-size
// budget: fixed-width types get their natural size, variable-width types
// get their declared capacity (VARCHAR) or a fixed guess (TEXT/JSON,
// which this engine stores out-of-line but still charges a pointer-sized
// slice against the row).
func estimatedWidth(c ColumnDef) int {
	switch c.Type {
	case TypeBigInt:
		return 8
	case TypeInteger:
		return 4
	case TypeDouble:
		return 8
	case TypeBoolean:
		return 1
	case TypeVarchar:
		return c.Length
	default: // TEXT, JSON
		return 32
	}
}

// Shard is one physical table produced by splitting a logical table that
// exceeded MaxColumns or MaxRowBytes.
type Shard struct {
	ValueColumns []ColumnDef
}

// Split distributes valueColumns across shards in declaration order,
// keeping every shard within both maxColumns and maxRowBytes once the
// always-present key columns are accounted for (spec §4.4).
//
// A single shard is returned when the logical table already fits; this
// makes Split safe to call unconditionally rather than gating it behind
// a size check at each call site.
func Split(keyColumns []ColumnDef, valueColumns []ColumnDef, maxColumns int, maxRowBytes int) []Shard {
	if maxColumns <= 0 {
		maxColumns = DefaultMaxColumns
	}
	if maxRowBytes <= 0 {
		maxRowBytes = DefaultMaxRowBytes
	}

	keyWidth := 0
	for _, c := range keyColumns {
		keyWidth += estimatedWidth(c)
	}
	keyCount := len(keyColumns)

	var shards []Shard
	var current []ColumnDef
	currentWidth := keyWidth
	currentCount := keyCount

	flush := func() {
		if len(current) > 0 {
			shards = append(shards, Shard{ValueColumns: current})
			current = nil
		}
	}

	for _, col := range valueColumns {
		w := estimatedWidth(col)
		if currentCount+1 > maxColumns || currentWidth+w > maxRowBytes {
			flush()
			currentWidth = keyWidth
			currentCount = keyCount
		}
		current = append(current, col)
		currentWidth += w
		currentCount++
	}
	flush()

	if len(shards) == 0 {
		shards = append(shards, Shard{})
	}
	return shards
}
