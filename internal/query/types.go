// Package query implements the DDF query language of spec §4.3: parsing
// (JSON and URL-object notation), the rewrite pipeline, and canonical SQL
// emission.
package query

// Selection is the mandatory select clause.
type Selection struct {
	Key   []string `json:"key"`
	Value []string `json:"value"`
}

// Op is a comparison operator against a column.
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpIn  Op = "$in"
	OpNin Op = "$nin"
)

// ValueOperand is the tagged-variant literal a predicate compares
// against: exactly one field is populated. JoinRef is the exception: a
// "$var" string used as a predicate *value* (not key) names a join
// binding's key column rather than a literal string (spec §4.3's
// where-tree join-variable binding).
type ValueOperand struct {
	Num     *float64
	Str     *string
	Bool    *bool
	List    []ValueOperand
	JoinRef string
}

// Cmp is a single column comparison.
type Cmp struct {
	Column string
	Op     Op
	Value  ValueOperand
}

// PredicateKind tags the Predicate variant.
type PredicateKind int

const (
	PredAnd PredicateKind = iota
	PredOr
	PredCmp
	PredJoinRef
)

// Predicate is the recursive where-tree node (spec §4.3).
type Predicate struct {
	Kind     PredicateKind
	Children []Predicate // PredAnd / PredOr
	Cmp      Cmp         // PredCmp
	JoinVar  string      // PredJoinRef: "$name" binding this sub-tree is scoped under
	Inner    *Predicate  // PredJoinRef: the predicate evaluated against the joined table
}

// JoinBinding is one entry of the `join` object: `$name -> {key, where?}`.
type JoinBinding struct {
	Var   string
	Key   []string
	Where *Predicate
}

// OrderField is one `order_by` entry.
type OrderField struct {
	Column string
	Desc   bool
}

// Query is the fully parsed, not-yet-compiled query object (spec §4.3).
type Query struct {
	Select   Selection
	From     string
	Where    *Predicate
	Joins    []JoinBinding
	OrderBy  []OrderField
	Language string
}
