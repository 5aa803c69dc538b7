package table

import (
	"fmt"
	"sort"
	"strings"

	"github.com/redbco/ddfserver/internal/sqlutil"
)

// ColumnDef is one physical column of an emitted DDL statement.
type ColumnDef struct {
	Name   string
	Type   ColumnType
	Length int // meaningful for TypeVarchar only
}

func (c ColumnDef) sqlType() string {
	switch c.Type {
	case TypeVarchar:
		return fmt.Sprintf("VARCHAR(%d)", c.Length)
	case TypeDouble:
		return "DOUBLE PRECISION"
	default:
		return string(c.Type)
	}
}

// TranslationColumn is one `<col>--<lang>` projection the i18n view for a
// table exposes, backed by a row in that language's companion table
// (spec §4.4).
type TranslationColumn struct {
	BaseColumn string
	Language   string
}

// Name is the `<col>--<lang>` identifier the compiler projects (spec §4.3).
func (t TranslationColumn) Name() string { return t.BaseColumn + "--" + t.Language }

// DDL builds the CREATE TABLE statement for a physical table: key
// columns, value columns, and is--<set> boolean columns (if any). The
// caller is responsible for dropping any prior table of the same name
// first (see DropTable) — PostgreSQL has no CREATE OR REPLACE TABLE.
func DDL(physicalName string, keyColumns, valueColumns []ColumnDef, entitySetColumns []string) string {
	var cols []string
	for _, c := range keyColumns {
		cols = append(cols, fmt.Sprintf("%s %s", sqlutil.QuoteIdent(c.Name), c.sqlType()))
	}
	for _, c := range valueColumns {
		cols = append(cols, fmt.Sprintf("%s %s", sqlutil.QuoteIdent(c.Name), c.sqlType()))
	}
	for _, set := range entitySetColumns {
		cols = append(cols, fmt.Sprintf("%s BOOLEAN NOT NULL DEFAULT FALSE", sqlutil.QuoteIdent("is--"+set)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", sqlutil.QuoteIdent(physicalName), strings.Join(cols, ",\n  "))
}

// TranslationViewDDL builds the CREATE OR REPLACE VIEW (valid PostgreSQL,
// unlike CREATE OR REPLACE TABLE) that left-joins each language's
// companion table onto baseTable and projects a `<col>--<lang>` column
// per translated value, falling back to the base column where the
// language has no translation, so translated text is an ordinary column instead
// of a cross-table GENERATED expression PostgreSQL cannot express (spec
// §4.4). keyColumns identifies the join key shared by baseTable and
// every `baseTable--lang--<lang>` companion table.
func TranslationViewDDL(viewName, baseTable string, keyColumns []string, translations []TranslationColumn) string {
	byLang := map[string][]TranslationColumn{}
	var langs []string
	for _, tr := range translations {
		if _, ok := byLang[tr.Language]; !ok {
			langs = append(langs, tr.Language)
		}
		byLang[tr.Language] = append(byLang[tr.Language], tr)
	}
	sort.Strings(langs)

	cols := []string{sqlutil.QuoteIdent("base") + ".*"}
	var joins []string
	for _, lang := range langs {
		alias := "lang__" + lang
		transTable := baseTable + "--lang--" + lang
		for _, tr := range byLang[lang] {
			cols = append(cols, fmt.Sprintf("COALESCE(%s, %s) AS %s",
				sqlutil.QuoteQualified(alias, tr.BaseColumn), sqlutil.QuoteQualified("base", tr.BaseColumn), sqlutil.QuoteIdent(tr.Name())))
		}
		var onParts []string
		for _, k := range keyColumns {
			onParts = append(onParts, fmt.Sprintf("%s = %s",
				sqlutil.QuoteQualified("base", k), sqlutil.QuoteQualified(alias, k)))
		}
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s %s ON %s",
			sqlutil.QuoteIdent(transTable), sqlutil.QuoteIdent(alias), strings.Join(onParts, " AND ")))
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT %s FROM %s %s",
		sqlutil.QuoteIdent(viewName), strings.Join(cols, ", "), sqlutil.QuoteIdent(baseTable), sqlutil.QuoteIdent("base"))
	if len(joins) > 0 {
		stmt += " " + strings.Join(joins, " ")
	}
	return stmt
}

// PrimaryIndexDDL builds the key-columns index statement, named
// deterministically so DropPrimaryIndexDDL can find it again before bulk
// load (spec §4.4, "dropped before bulk load and recreated after").
func PrimaryIndexDDL(physicalName string, keyColumns []string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		sqlutil.QuoteIdent(primaryIndexName(physicalName)),
		sqlutil.QuoteIdent(physicalName),
		quoteJoin(keyColumns))
}

func DropPrimaryIndexDDL(physicalName string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s", sqlutil.QuoteIdent(primaryIndexName(physicalName)))
}

func primaryIndexName(physicalName string) string { return physicalName + "__pk" }

// SecondaryIndexDDL builds a single-column index for a key component
// whose cardinality crossed the threshold (spec §4.4).
func SecondaryIndexDDL(physicalName, column string) string {
	name := physicalName + "__idx__" + column
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		sqlutil.QuoteIdent(name), sqlutil.QuoteIdent(physicalName), sqlutil.QuoteIdent(column))
}

func quoteJoin(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = sqlutil.QuoteIdent(n)
	}
	return strings.Join(out, ", ")
}
