package query

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/language"

	"github.com/redbco/ddfserver/internal/ddferrors"
)

var validFrom = map[string]bool{
	"concepts": true, "entities": true, "datapoints": true,
	"*.schema": true, "concepts.schema": true, "entities.schema": true, "datapoints.schema": true,
}

// ParseJSON decodes a raw JSON query body into a validated Query.
func ParseJSON(raw []byte) (*Query, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, ddferrors.Wrap(ddferrors.QuerySyntax, err, "malformed query JSON")
	}
	return FromGeneric(generic)
}

// FromGeneric validates and structures a generic decoded object (shared
// by the JSON and URL-object decode paths) into a Query.
func FromGeneric(generic map[string]interface{}) (*Query, error) {
	q := &Query{}

	selectRaw, ok := generic["select"].(map[string]interface{})
	if !ok {
		return nil, ddferrors.New(ddferrors.QuerySyntax, "missing select clause")
	}
	key, err := stringArray(selectRaw["key"])
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.QuerySyntax, err, "select.key must be an array of strings")
	}
	if len(key) == 0 {
		return nil, ddferrors.New(ddferrors.QuerySyntax, "select.key must be non-empty")
	}
	value, err := stringArray(selectRaw["value"])
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.QuerySyntax, err, "select.value must be an array of strings")
	}
	q.Select = Selection{Key: key, Value: value}

	from, ok := generic["from"].(string)
	if !ok || from == "" {
		return nil, ddferrors.New(ddferrors.QuerySyntax, "missing from clause")
	}
	if !validFrom[from] {
		return nil, ddferrors.Newf(ddferrors.QuerySemantic, "unsupported from clause %q", from)
	}
	q.From = from

	if whereRaw, ok := generic["where"]; ok {
		pred, err := parsePredicate(whereRaw)
		if err != nil {
			return nil, err
		}
		q.Where = pred
	}

	if joinRaw, ok := generic["join"].(map[string]interface{}); ok {
		joins, err := parseJoins(joinRaw)
		if err != nil {
			return nil, err
		}
		q.Joins = joins
	}

	if orderRaw, ok := generic["order_by"]; ok {
		order, err := parseOrderBy(orderRaw)
		if err != nil {
			return nil, err
		}
		q.OrderBy = order
	}

	if langRaw, ok := generic["language"]; ok {
		lang, ok := langRaw.(string)
		if !ok {
			return nil, ddferrors.New(ddferrors.QuerySyntax, "malformed language tag")
		}
		if _, err := language.Parse(strings.ReplaceAll(lang, "_", "-")); err != nil {
			return nil, ddferrors.Wrap(ddferrors.QuerySyntax, err, "malformed language tag")
		}
		q.Language = lang // preserve the caller's tag verbatim: <col>--<lang> columns key on it literally
	}

	return q, nil
}

func stringArray(v interface{}) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, ddferrors.New(ddferrors.QuerySyntax, "expected an array")
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, ddferrors.New(ddferrors.QuerySyntax, "expected an array of strings")
		}
		out[i] = s
	}
	return out, nil
}

func parseJoins(joinRaw map[string]interface{}) ([]JoinBinding, error) {
	var out []JoinBinding
	for name, v := range joinRaw {
		if !strings.HasPrefix(name, "$") {
			return nil, ddferrors.Newf(ddferrors.QuerySyntax, "malformed join variable %q", name)
		}
		spec, ok := v.(map[string]interface{})
		if !ok {
			return nil, ddferrors.Newf(ddferrors.QuerySyntax, "malformed join binding %q", name)
		}
		var key []string
		switch k := spec["key"].(type) {
		case string:
			key = []string{k}
		case []interface{}:
			var err error
			key, err = stringArray(k)
			if err != nil {
				return nil, err
			}
		default:
			return nil, ddferrors.Newf(ddferrors.QuerySyntax, "malformed join key for %q", name)
		}
		binding := JoinBinding{Var: name, Key: key}
		if whereRaw, ok := spec["where"]; ok {
			pred, err := parsePredicate(whereRaw)
			if err != nil {
				return nil, err
			}
			binding.Where = pred
		}
		out = append(out, binding)
	}
	return out, nil
}

func parseOrderBy(raw interface{}) ([]OrderField, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, ddferrors.New(ddferrors.QuerySyntax, "malformed order_by")
	}
	var out []OrderField
	for _, e := range arr {
		switch t := e.(type) {
		case string:
			out = append(out, OrderField{Column: t})
		case map[string]interface{}:
			for col, dir := range t {
				ds, ok := dir.(string)
				if !ok {
					return nil, ddferrors.New(ddferrors.QuerySyntax, "malformed order_by direction")
				}
				desc, err := orderDirection(ds)
				if err != nil {
					return nil, err
				}
				out = append(out, OrderField{Column: col, Desc: desc})
			}
		default:
			return nil, ddferrors.New(ddferrors.QuerySyntax, "malformed order_by entry")
		}
	}
	return out, nil
}

func orderDirection(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, ddferrors.Newf(ddferrors.QuerySyntax, "malformed order_by direction %q", s)
	}
}

var compareOps = map[string]Op{
	"$eq": OpEq, "$ne": OpNe, "$gt": OpGt, "$gte": OpGte, "$lt": OpLt, "$lte": OpLte, "$in": OpIn, "$nin": OpNin,
}

func parsePredicate(raw interface{}) (*Predicate, error) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, ddferrors.New(ddferrors.QuerySyntax, "malformed where clause")
	}
	return parsePredicateObject(obj)
}

func parsePredicateObject(obj map[string]interface{}) (*Predicate, error) {
	var children []Predicate

	if andRaw, ok := obj["$and"]; ok {
		preds, err := parsePredicateList(andRaw)
		if err != nil {
			return nil, err
		}
		return &Predicate{Kind: PredAnd, Children: preds}, nil
	}
	if orRaw, ok := obj["$or"]; ok {
		preds, err := parsePredicateList(orRaw)
		if err != nil {
			return nil, err
		}
		return &Predicate{Kind: PredOr, Children: preds}, nil
	}

	for col, v := range obj {
		if strings.HasPrefix(col, "$") {
			return nil, ddferrors.Newf(ddferrors.QuerySyntax, "unexpected operator %q at predicate root", col)
		}
		pred, err := parseColumnPredicate(col, v)
		if err != nil {
			return nil, err
		}
		children = append(children, *pred)
	}
	if len(children) == 0 {
		return nil, ddferrors.New(ddferrors.QuerySyntax, "empty where clause")
	}
	if len(children) == 1 {
		return &children[0], nil
	}
	return &Predicate{Kind: PredAnd, Children: children}, nil
}

func parsePredicateList(raw interface{}) ([]Predicate, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, ddferrors.New(ddferrors.QuerySyntax, "$and/$or must be an array")
	}
	out := make([]Predicate, 0, len(arr))
	for _, e := range arr {
		obj, ok := e.(map[string]interface{})
		if !ok {
			return nil, ddferrors.New(ddferrors.QuerySyntax, "$and/$or entries must be objects")
		}
		pred, err := parsePredicateObject(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, *pred)
	}
	return out, nil
}

func parseColumnPredicate(col string, v interface{}) (*Predicate, error) {
	if strings.HasPrefix(col, "$") {
		// $<joinVar> reference: the value is itself a predicate scoped to
		// the joined table.
		inner, err := parsePredicate(v)
		if err != nil {
			return nil, err
		}
		return &Predicate{Kind: PredJoinRef, JoinVar: col, Inner: inner}, nil
	}

	if opsObj, ok := v.(map[string]interface{}); ok {
		var preds []Predicate
		for opName, opVal := range opsObj {
			op, ok := compareOps[opName]
			if !ok {
				return nil, ddferrors.Newf(ddferrors.QuerySyntax, "unknown comparison operator %q", opName)
			}
			preds = append(preds, Predicate{Kind: PredCmp, Cmp: Cmp{Column: col, Op: op, Value: operandFor(opVal)}})
		}
		if len(preds) == 1 {
			return &preds[0], nil
		}
		return &Predicate{Kind: PredAnd, Children: preds}, nil
	}

	// Scalar value: implicit $eq (spec §4.3, rewrite step 5).
	return &Predicate{Kind: PredCmp, Cmp: Cmp{Column: col, Op: OpEq, Value: operandFor(v)}}, nil
}

// operandFor is toOperand plus the one refinement that only applies at a
// predicate's top level: a "$name" string used as the *value* names a
// join binding's key column rather than a literal string (spec §4.3's
// where-tree join-variable binding, e.g. {geo: "$geo"}). $in/$nin list
// elements go through toOperand directly, so "$"-prefixed list entries
// stay literal strings.
func operandFor(v interface{}) ValueOperand {
	if s, ok := v.(string); ok && strings.HasPrefix(s, "$") {
		return ValueOperand{JoinRef: s}
	}
	return toOperand(v)
}

func toOperand(v interface{}) ValueOperand {
	switch t := v.(type) {
	case nil:
		return ValueOperand{}
	case bool:
		return ValueOperand{Bool: &t}
	case float64:
		return ValueOperand{Num: &t}
	case string:
		return ValueOperand{Str: &t}
	case []interface{}:
		list := make([]ValueOperand, len(t))
		for i, e := range t {
			list[i] = toOperand(e)
		}
		return ValueOperand{List: list}
	case []string:
		list := make([]ValueOperand, len(t))
		for i, e := range t {
			s := e
			list[i] = ValueOperand{Str: &s}
		}
		return ValueOperand{List: list}
	default:
		s := ""
		return ValueOperand{Str: &s}
	}
}
