// Package table implements the physical table abstraction of spec §4.4:
// CSV schema inference, DDL emission, wide-table splitting, bulk
// loading, and index management.
package table

import (
	"strconv"
	"strings"
)

// ColumnType is an inferred physical column type.
type ColumnType string

const (
	TypeBigInt  ColumnType = "BIGINT"
	TypeInteger ColumnType = "INTEGER"
	TypeDouble  ColumnType = "DOUBLE"
	TypeBoolean ColumnType = "BOOLEAN"
	TypeVarchar ColumnType = "VARCHAR"
	TypeText    ColumnType = "TEXT"
	TypeJSON    ColumnType = "JSON"
)

// textThreshold is the widest-string-length cutoff past which a column
// becomes TEXT rather than VARCHAR (spec §4.4, "~2000 characters").
const textThreshold = 2000

// maxCardinalityTracked caps the distinct-value bookkeeping done for
// index planning (spec §4.4, "up to 200 distinct values").
const maxCardinalityTracked = 200

// ColumnInference accumulates the statistics used to decide one column's
// physical type and indexability as a CSV is streamed row by row.
type ColumnInference struct {
	Name string

	maxLen      int
	allInt      bool
	anyInt64    bool
	anyFraction bool
	allBool     bool
	anyJSONish  bool
	sawAny      bool

	distinct     map[string]struct{}
	cardinality  int // len(distinct), frozen once it exceeds maxCardinalityTracked
	overflowed   bool
}

// NewColumnInference starts a fresh accumulator. isSetFlag columns
// (is--<set>, spec §4.2) are always typed BOOLEAN, whatever values they
// hold.
func NewColumnInference(name string) *ColumnInference {
	return &ColumnInference{
		Name:    name,
		allInt:  true,
		allBool: true,
		distinct: map[string]struct{}{},
	}
}

// Observe folds one cell's raw text into the running inference.
func (c *ColumnInference) Observe(value string) {
	if value == "" {
		return // NULLs don't constrain type inference
	}
	c.sawAny = true

	if len(value) > c.maxLen {
		c.maxLen = len(value)
	}

	if !c.overflowed {
		if _, ok := c.distinct[value]; !ok {
			c.distinct[value] = struct{}{}
			c.cardinality++
			if c.cardinality > maxCardinalityTracked {
				c.overflowed = true
			}
		}
	}

	if c.allBool && value != "TRUE" && value != "FALSE" && !strings.HasPrefix(c.Name, "is--") {
		c.allBool = false
	}

	if c.allInt {
		if iv, err := strconv.ParseInt(value, 10, 64); err == nil {
			if iv > 1<<31-1 || iv < -(1<<31) {
				c.anyInt64 = true
			}
		} else if _, ferr := strconv.ParseFloat(value, 64); ferr == nil {
			c.anyFraction = true
			c.allInt = false
		} else {
			c.allInt = false
		}
	} else if !c.anyFraction {
		if _, ferr := strconv.ParseFloat(value, 64); ferr == nil {
			c.anyFraction = true
		}
	}

	if !c.anyJSONish && (strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[")) {
		c.anyJSONish = true
	}
}

// Cardinality reports the number of distinct values seen; counting stops
// at maxCardinalityTracked+1 (the cap itself is still meaningful: anything at
// the cap is "≥ 150" for secondary-index purposes, spec §4.4).
func (c *ColumnInference) Cardinality() int { return c.cardinality }

// NeedsSecondaryIndex reports spec §4.4's "cardinality ≥ 150" rule.
func (c *ColumnInference) NeedsSecondaryIndex() bool { return c.cardinality >= 150 }

// Type resolves the accumulated statistics to a physical column type.
func (c *ColumnInference) Type() ColumnType {
	switch {
	case !c.sawAny:
		return TypeVarchar
	case strings.HasPrefix(c.Name, "is--"):
		return TypeBoolean
	case c.allBool:
		return TypeBoolean
	case c.allInt && c.anyInt64:
		return TypeBigInt
	case c.allInt:
		return TypeInteger
	case c.anyFraction:
		return TypeDouble
	case c.anyJSONish && c.maxLen > textThreshold:
		return TypeJSON
	case c.anyJSONish:
		return TypeVarchar
	case c.maxLen > textThreshold:
		return TypeText
	default:
		return TypeVarchar
	}
}

// VarcharLength returns the declared VARCHAR length for columns of type
// TypeVarchar, rounded up for headroom.
func (c *ColumnInference) VarcharLength() int {
	n := c.maxLen
	if n < 8 {
		n = 8
	}
	return n + n/4
}
