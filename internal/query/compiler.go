package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/redbco/ddfserver/internal/ddferrors"
	"github.com/redbco/ddfserver/internal/schema"
	"github.com/redbco/ddfserver/internal/sqlutil"
)

// Compiled is the compiler's output: one SQL statement plus any
// non-fatal warnings accumulated along the way (spec §4.3 step 7).
type Compiled struct {
	SQL      string
	Warnings []string
	// SchemaQuery is set when `from` named one of the `*.schema` forms;
	// the caller short-circuits to the in-memory schema stream instead of
	// running SQL (spec §4.2, §4.3).
	SchemaQuery bool
}

// joinPlan is one resolved join binding: its physical table alias and
// the ON-clause column pair.
type joinPlan struct {
	binding   JoinBinding
	alias     string
	table     string
	onColumn  string
}

// Compile runs the 8-step rewrite pipeline of spec §4.3 against model and
// emits a single canonical SQL statement.
func Compile(q *Query, model *schema.Model) (*Compiled, error) {
	if strings.HasSuffix(q.From, ".schema") {
		return &Compiled{SchemaQuery: true}, nil
	}

	out := &Compiled{}

	// Step 1: sort key/value for cache-stable SQL.
	key := sortedCopy(q.Select.Key)
	value := sortedCopy(q.Select.Value)

	// Step 2: entity-set -> domain resolution on key components, adding
	// implicit is--<set> filters.
	resolvedKey := make([]string, len(key))
	setFilters := map[string]string{} // domain -> set name
	for i, k := range key {
		if domain, ok := model.EntitySetDomain[k]; ok {
			resolvedKey[i] = domain
			setFilters[domain] = k
		} else {
			resolvedKey[i] = k
		}
	}

	// Step 3: resolve `from` to a physical table/table-group. shards is
	// only populated for "datapoints", when the wide-table splitter put
	// value columns in more than one physical shard.
	baseTable, baseColumns, shards, err := resolveFrom(q.From, resolvedKey, model)
	if err != nil {
		return nil, err
	}

	// Step 4: resolve joins.
	joins, joinWarnings, err := resolveJoins(q.Joins, model)
	if err != nil {
		return nil, err
	}
	out.Warnings = append(out.Warnings, joinWarnings...)

	// Step 5 + 6: translate where tree to SQL, qualifying join-scoped
	// predicates and emitting canonical comparisons.
	var whereSQL string
	if q.Where != nil {
		whereSQL, err = renderPredicate(*q.Where, baseTable, joins)
		if err != nil {
			return nil, err
		}
	}

	// Implicit is--<set> IS TRUE filters from step 2.
	for domain, set := range setFilters {
		cond := fmt.Sprintf("%s IS TRUE", sqlutil.QuoteQualified(tableAliasFor(domain, baseTable), "is--"+set))
		if whereSQL == "" {
			whereSQL = cond
		} else {
			whereSQL = cond + " AND (" + whereSQL + ")"
		}
	}

	// Step 8: translation virtual columns for projected value columns.
	projectedValue := make([]string, len(value))
	for i, v := range value {
		if q.Language != "" && baseColumns[v] {
			projectedValue[i] = v + "--" + q.Language
		} else {
			projectedValue[i] = v
		}
	}

	// Step 7: drop order_by fields absent from projection/declared values.
	projected := map[string]bool{}
	for _, k := range resolvedKey {
		projected[k] = true
	}
	for _, v := range value {
		projected[v] = true
	}
	var orderClauses []string
	for _, o := range q.OrderBy {
		if !projected[o.Column] {
			out.Warnings = append(out.Warnings, fmt.Sprintf("order_by column %q dropped: not in projection", o.Column))
			continue
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		orderClauses = append(orderClauses, sqlutil.QuoteIdent(o.Column)+" "+dir)
	}

	// Additional shards the projection actually touches (spec §4.4:
	// "otherwise join shards on the full key"). shards[0] is already the
	// base table; anything else holding a projected value column needs
	// an INNER JOIN on the shared key.
	var shardJoins []schema.Table
	if len(shards) > 1 {
		dt := schema.DatapointTable{Shards: shards}
		needed := map[string]schema.Table{}
		for _, v := range value {
			shard := dt.ShardFor(v)
			if shard != nil && shard.PhysicalName != baseTable {
				needed[shard.PhysicalName] = *shard
			}
		}
		names := make([]string, 0, len(needed))
		for n := range needed {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			shardJoins = append(shardJoins, needed[n])
		}
	}

	// Each join binding's own `where` (if any) is an additional ON-clause
	// condition scoped to that joined table, not a top-level filter.
	joinConds := map[string]string{}
	for name, plan := range joins {
		if plan.binding.Where == nil {
			continue
		}
		cond, err := renderPredicateQualified(*plan.binding.Where, baseTable, plan.alias, joins)
		if err != nil {
			return nil, err
		}
		joinConds[name] = cond
	}

	out.SQL = assembleSQL(baseTable, resolvedKey, projectedValue, joins, joinConds, shardJoins, whereSQL, orderClauses)
	return out, nil
}

func sortedCopy(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

func resolveFrom(from string, key []string, model *schema.Model) (table string, valueColumns map[string]bool, shards []schema.Table, err error) {
	valueColumns = map[string]bool{}
	switch from {
	case "concepts":
		for _, c := range model.ConceptsTable.ValueColumns {
			valueColumns[c] = true
		}
		name := model.ConceptsTable.QueryName()
		if name == "" {
			name = "concepts"
		}
		return name, valueColumns, nil, nil
	case "entities":
		if len(key) == 0 {
			return "", nil, nil, ddferrors.New(ddferrors.QuerySemantic, "entities query requires a key")
		}
		domain := model.Domain(key[0])
		et, ok := model.Entities[domain]
		if !ok {
			return "", nil, nil, ddferrors.Newf(ddferrors.QuerySemantic, "unknown entity domain %q", domain)
		}
		for _, c := range et.Table.ValueColumns {
			valueColumns[c] = true
		}
		return et.Table.QueryName(), valueColumns, nil, nil
	case "datapoints":
		dt, _, ok := model.LookupDatapointTable(key)
		if !ok {
			return "", nil, nil, ddferrors.Newf(ddferrors.QuerySemantic, "no datapoint table for key %v", key)
		}
		for _, c := range dt.ValueColumns() {
			valueColumns[c] = true
		}
		if len(dt.Shards) == 0 {
			return "", nil, nil, ddferrors.Newf(ddferrors.Internal, "datapoint table for key %v has no shards", key)
		}
		return dt.Shards[0].PhysicalName, valueColumns, dt.Shards, nil
	default:
		return "", nil, nil, ddferrors.Newf(ddferrors.QuerySemantic, "unsupported from clause %q", from)
	}
}

func tableAliasFor(domain, baseTable string) string { return baseTable }

func resolveJoins(bindings []JoinBinding, model *schema.Model) (map[string]joinPlan, []string, error) {
	plans := map[string]joinPlan{}
	usedTables := map[string]string{} // physical table -> on column, to detect conflicting duplicate joins
	var warnings []string

	for _, b := range bindings {
		if len(b.Key) == 0 {
			return nil, nil, ddferrors.Newf(ddferrors.QuerySyntax, "join %q has no key", b.Var)
		}
		component := b.Key[len(b.Key)-1]
		domain := model.Domain(component)

		var physical string
		if schema.IsTimeDomain(domain) {
			physical = "" // self-join against the base table
		} else if et, ok := model.Entities[domain]; ok {
			physical = et.Table.PhysicalName
		} else {
			return nil, nil, ddferrors.Newf(ddferrors.QuerySemantic, "join %q references unknown domain %q", b.Var, domain)
		}

		onColumn := domain
		if prevOn, ok := usedTables[physical]; ok && prevOn != onColumn {
			return nil, nil, ddferrors.Newf(ddferrors.QuerySemantic,
				"join %q conflicts with an existing join on the same table with a different key", b.Var)
		}
		usedTables[physical] = onColumn

		plans[b.Var] = joinPlan{binding: b, alias: strings.TrimPrefix(b.Var, "$"), table: physical, onColumn: onColumn}
	}
	return plans, warnings, nil
}

func renderPredicate(p Predicate, baseTable string, joins map[string]joinPlan) (string, error) {
	switch p.Kind {
	case PredAnd, PredOr:
		if len(p.Children) == 0 {
			return "", nil
		}
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			s, err := renderPredicate(c, baseTable, joins)
			if err != nil {
				return "", err
			}
			parts[i] = "(" + s + ")"
		}
		sep := " AND "
		if p.Kind == PredOr {
			sep = " OR "
		}
		return strings.Join(parts, sep), nil
	case PredJoinRef:
		plan, ok := joins[p.JoinVar]
		if !ok {
			return "", ddferrors.Newf(ddferrors.QuerySemantic, "reference to undeclared join variable %q", p.JoinVar)
		}
		if p.Inner == nil {
			return "", nil
		}
		return renderPredicateQualified(*p.Inner, baseTable, plan.alias, joins)
	case PredCmp:
		return renderCmp(p.Cmp, "", baseTable, joins)
	default:
		return "", ddferrors.New(ddferrors.Internal, "unknown predicate kind")
	}
}

func renderPredicateQualified(p Predicate, baseTable, alias string, joins map[string]joinPlan) (string, error) {
	switch p.Kind {
	case PredAnd, PredOr:
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			s, err := renderPredicateQualified(c, baseTable, alias, joins)
			if err != nil {
				return "", err
			}
			parts[i] = "(" + s + ")"
		}
		sep := " AND "
		if p.Kind == PredOr {
			sep = " OR "
		}
		return strings.Join(parts, sep), nil
	case PredCmp:
		return renderCmp(p.Cmp, alias, baseTable, joins)
	default:
		return "", ddferrors.New(ddferrors.QuerySemantic, "nested join references are not supported")
	}
}

// renderCmp renders one column comparison. qualifier, when set, table-
// qualifies the column (used for predicates scoped inside a join). When
// c.Value.JoinRef names a join binding instead of a literal (spec §4.3's
// {col: "$joinVar"} form), the comparison becomes a cross-table column
// equality against that join's key column rather than a literal compare.
func renderCmp(c Cmp, qualifier, baseTable string, joins map[string]joinPlan) (string, error) {
	col := sqlutil.QuoteIdent(c.Column)
	if qualifier != "" {
		col = sqlutil.QuoteQualified(qualifier, c.Column)
	}

	if c.Value.JoinRef != "" {
		plan, ok := joins[c.Value.JoinRef]
		if !ok {
			return "", ddferrors.Newf(ddferrors.QuerySemantic, "reference to undeclared join variable %q", c.Value.JoinRef)
		}
		if c.Op != OpEq && c.Op != OpNe {
			return "", ddferrors.Newf(ddferrors.QuerySyntax, "join variable reference only supports $eq/$ne, got %q", c.Op)
		}
		lhs := col
		if qualifier == "" {
			lhs = sqlutil.QuoteQualified(baseTable, c.Column)
		}
		rhs := sqlutil.QuoteQualified(plan.alias, plan.onColumn)
		verb := "="
		if c.Op == OpNe {
			verb = "<>"
		}
		return fmt.Sprintf("%s %s %s", lhs, verb, rhs), nil
	}

	if c.Value.Bool != nil && (c.Op == OpEq || c.Op == OpNe) {
		verb := "IS TRUE"
		if !*c.Value.Bool {
			verb = "IS FALSE"
		}
		if c.Op == OpNe {
			verb = "IS NOT " + strings.TrimPrefix(verb, "IS ")
		}
		return col + " " + verb, nil
	}

	switch c.Op {
	case OpEq:
		return fmt.Sprintf("%s IS NOT DISTINCT FROM %s", col, literalOf(c.Value)), nil
	case OpNe:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", col, literalOf(c.Value)), nil
	case OpGt:
		return fmt.Sprintf("%s > %s", col, literalOf(c.Value)), nil
	case OpGte:
		return fmt.Sprintf("%s >= %s", col, literalOf(c.Value)), nil
	case OpLt:
		return fmt.Sprintf("%s < %s", col, literalOf(c.Value)), nil
	case OpLte:
		return fmt.Sprintf("%s <= %s", col, literalOf(c.Value)), nil
	case OpIn:
		return fmt.Sprintf("%s IN %s", col, literalOf(c.Value)), nil
	case OpNin:
		return fmt.Sprintf("%s NOT IN %s", col, literalOf(c.Value)), nil
	default:
		return "", ddferrors.Newf(ddferrors.QuerySyntax, "unknown operator %q", c.Op)
	}
}

func literalOf(v ValueOperand) string {
	switch {
	case v.Num != nil:
		return sqlutil.Literal(*v.Num)
	case v.Str != nil:
		return sqlutil.Literal(*v.Str)
	case v.Bool != nil:
		return sqlutil.Literal(*v.Bool)
	case v.List != nil:
		parts := make([]interface{}, len(v.List))
		for i, e := range v.List {
			parts[i] = rawOf(e)
		}
		return sqlutil.Literal(parts)
	default:
		return "NULL"
	}
}

func rawOf(v ValueOperand) interface{} {
	switch {
	case v.Num != nil:
		return *v.Num
	case v.Str != nil:
		return *v.Str
	case v.Bool != nil:
		return *v.Bool
	default:
		return nil
	}
}

func assembleSQL(baseTable string, key, value []string, joins map[string]joinPlan, joinConds map[string]string, shardJoins []schema.Table, whereSQL string, orderClauses []string) string {
	var b strings.Builder

	b.WriteString("SELECT ")
	cols := make([]string, 0, len(key)+len(value))
	for _, k := range key {
		cols = append(cols, sqlutil.QuoteQualified(baseTable, k))
	}
	for _, v := range value {
		cols = append(cols, sqlutil.QuoteIdent(v))
	}
	b.WriteString(strings.Join(cols, ", "))

	b.WriteString(" FROM ")
	b.WriteString(sqlutil.QuoteIdent(baseTable))

	// Additional shards the projection touches join on the full shared
	// key (spec §4.4) before any query-level joins.
	for _, s := range shardJoins {
		var onParts []string
		for _, k := range key {
			onParts = append(onParts, fmt.Sprintf("%s = %s",
				sqlutil.QuoteQualified(baseTable, k), sqlutil.QuoteQualified(s.PhysicalName, k)))
		}
		b.WriteString(fmt.Sprintf(" INNER JOIN %s ON %s", sqlutil.QuoteIdent(s.PhysicalName), strings.Join(onParts, " AND ")))
	}

	// Joins always precede WHERE (spec §4.4).
	names := make([]string, 0, len(joins))
	for n := range joins {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		p := joins[n]
		table := p.table
		if table == "" {
			table = baseTable // time-domain self-join
		}
		on := fmt.Sprintf("%s.%s = %s.%s",
			sqlutil.QuoteIdent(baseTable), sqlutil.QuoteIdent(p.onColumn),
			sqlutil.QuoteIdent(p.alias), sqlutil.QuoteIdent(p.onColumn))
		if cond, ok := joinConds[n]; ok && cond != "" {
			on += " AND (" + cond + ")"
		}
		b.WriteString(fmt.Sprintf(" INNER JOIN %s %s ON %s",
			sqlutil.QuoteIdent(table), sqlutil.QuoteIdent(p.alias), on))
	}

	if whereSQL != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereSQL)
	}
	if len(orderClauses) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(orderClauses, ", "))
	}
	return b.String()
}
