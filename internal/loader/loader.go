package loader

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/redbco/ddfserver/internal/assets"
	"github.com/redbco/ddfserver/internal/catalog"
	"github.com/redbco/ddfserver/internal/ddferrors"
	"github.com/redbco/ddfserver/internal/notify"
	"github.com/redbco/ddfserver/internal/schema"
	"github.com/redbco/ddfserver/internal/table"
	"github.com/redbco/ddfserver/pkg/dbpool"
	"github.com/redbco/ddfserver/pkg/logger"
)

// Options configures one ingestion run (spec §4.5, §6 `load` command).
type Options struct {
	Dir         string
	Name        string
	Version     string // empty: assign per §4.6
	Publish     bool
	OnlyParse   bool // validate the package without writing to the store
	AssetsOnly  bool // skip schema/data, only (re-)upload assets
	Password    string
	MaxColumns  int
	MaxRowBytes int
}

// Loader orchestrates the eight ingestion steps of spec §4.5.
type Loader struct {
	pool     *dbpool.Pool
	catalog  *catalog.Catalog
	assets   assets.Store
	notifier notify.Notifier
	logger   *logger.Logger
}

func New(pool *dbpool.Pool, cat *catalog.Catalog, store assets.Store, notifier notify.Notifier, log *logger.Logger) *Loader {
	return &Loader{pool: pool, catalog: cat, assets: store, notifier: notifier, logger: log}
}

// Load runs the full ingestion pipeline and returns the resolved version.
func (l *Loader) Load(ctx context.Context, opts Options) (string, error) {
	if opts.Version != "" {
		if err := ValidateVersionInput(opts.Version); err != nil {
			return "", err
		}
	}

	l.notifier.Notify(ctx, fmt.Sprintf("loading dataset %q from %s", opts.Name, opts.Dir))

	manifest, err := ReadManifest(opts.Dir)
	if err != nil {
		return "", err
	}

	if opts.AssetsOnly {
		target := opts.Version
		if target == "" {
			target = catalog.Latest
		}
		entry, err := l.catalog.Lookup(ctx, opts.Name, target)
		if err != nil {
			return "", err
		}
		if err := l.uploadAssets(ctx, opts.Dir, opts.Name, entry.Version); err != nil {
			return "", err
		}
		l.notifier.Notify(ctx, fmt.Sprintf("uploaded assets for %s/%s", opts.Name, entry.Version))
		return entry.Version, nil
	}

	version, err := l.resolveVersion(ctx, opts)
	if err != nil {
		return "", err
	}

	model := schema.NewModel()
	var tables []string

	translations, err := DiscoverTranslations(opts.Dir)
	if err != nil {
		return "", err
	}

	if err := l.loadConcepts(ctx, opts, model, translations, &tables); err != nil {
		return "", err
	}

	if err := l.loadEntities(ctx, opts, manifest, model, translations, &tables); err != nil {
		return "", err
	}
	if err := l.loadDatapoints(ctx, opts, manifest, model, translations, &tables); err != nil {
		return "", err
	}

	if opts.OnlyParse {
		l.notifier.Notify(ctx, fmt.Sprintf("parse-only check of %s/%s succeeded", opts.Name, version))
		return version, nil
	}

	if err := l.uploadAssets(ctx, opts.Dir, opts.Name, version); err != nil {
		return "", err
	}

	var pwHash string
	if opts.Password != "" {
		pwHash = HashPassword(opts.Password)
	}
	if err := l.catalog.InsertNew(ctx, opts.Name, version, model, tables, pwHash); err != nil {
		return "", err
	}
	if opts.Publish {
		if err := l.catalog.MarkDefault(ctx, opts.Name, version); err != nil {
			return "", err
		}
	}

	l.notifier.Notify(ctx, fmt.Sprintf("ingestion of %s/%s complete", opts.Name, version))
	return version, nil
}

func (l *Loader) resolveVersion(ctx context.Context, opts Options) (string, error) {
	if opts.Version != "" {
		if _, err := l.catalog.Lookup(ctx, opts.Name, opts.Version); err == nil {
			return "", ddferrors.Newf(ddferrors.Conflict, "dataset %q version %q already exists", opts.Name, opts.Version)
		}
		return opts.Version, nil
	}

	prior := ""
	if entry, err := l.catalog.Lookup(ctx, opts.Name, catalog.Latest); err == nil {
		prior = entry.Version
	}
	return AssignVersion(prior, timeNow())
}

// timeNow is indirected so tests can substitute a fixed clock; callers
// never see a Date.Now()-style nondeterminism requirement in production.
var timeNow = time.Now

func (l *Loader) loadConcepts(ctx context.Context, opts Options, model *schema.Model, translations map[string][]string, tables *[]string) error {
	path := filepath.Join(opts.Dir, "ddf--concepts.csv")
	header, records, err := readCSV(path)
	if err != nil {
		return err
	}

	infers := inferColumns(header, records)
	var keyCols, valueCols []table.ColumnDef
	var valueNames []string
	for _, h := range header {
		cd := table.ColumnDef{Name: h, Type: infers[h].Type(), Length: infers[h].VarcharLength()}
		if h == "concept" {
			keyCols = append(keyCols, cd)
		} else {
			valueCols = append(valueCols, cd)
			valueNames = append(valueNames, h)
		}
	}

	physical := "concepts"
	conceptsTable := schema.Table{
		PhysicalName: physical,
		KeyColumns:   []string{"concept"},
		ValueColumns: valueNames,
		Sources:      []string{path},
	}

	if !opts.OnlyParse {
		if err := table.DropTable(ctx, l.pool.Raw(), physical); err != nil {
			return err
		}
		ddl := table.DDL(physical, keyCols, valueCols, nil)
		if _, err := l.pool.Raw().Exec(ctx, ddl); err != nil {
			return ddferrors.Wrap(ddferrors.Internal, err, "failed to create concepts table")
		}
		rows := table.ParseCSVRows(header, records)
		if err := table.BulkLoadRows(ctx, l.pool.Raw(), physical, header, rows, []string{"concept"}); err != nil {
			return err
		}
		*tables = append(*tables, physical)

		transCols, langs, err := l.loadResourceTranslations(ctx, physical, []string{"concept"}, []string{path}, translations, opts, tables)
		if err != nil {
			return err
		}
		if len(transCols) > 0 {
			viewName := physical + "--i18n"
			if _, err := l.pool.Raw().Exec(ctx, table.TranslationViewDDL(viewName, physical, []string{"concept"}, transCols)); err != nil {
				return ddferrors.Wrap(ddferrors.Internal, err, "failed to create concepts i18n view")
			}
			conceptsTable.ViewName = viewName
			conceptsTable.Languages = langs
		}
	}

	model.ConceptsTable = conceptsTable

	for _, rec := range records {
		row := rowMap(header, rec)
		model.Concepts[row["concept"]] = schema.Concept{
			Name:   row["concept"],
			Type:   schema.ConceptType(row["concept_type"]),
			Domain: row["domain"],
		}
		if row["concept_type"] == string(schema.ConceptEntitySet) && row["domain"] != "" {
			model.EntitySetDomain[row["concept"]] = row["domain"]
		}
	}
	return nil
}

func (l *Loader) loadEntities(ctx context.Context, opts Options, manifest *Manifest, model *schema.Model, translations map[string][]string, tables *[]string) error {
	domains := map[string]bool{}
	for _, c := range model.Concepts {
		if c.Type == schema.ConceptEntityDomain {
			domains[c.Name] = true
		}
	}

	for domain := range domains {
		files, err := filepath.Glob(filepath.Join(opts.Dir, fmt.Sprintf("ddf--entities--%s--*.csv", domain)))
		if err != nil {
			return ddferrors.Wrap(ddferrors.Internal, err, "failed to glob entity files")
		}
		if len(files) == 0 {
			files, _ = filepath.Glob(filepath.Join(opts.Dir, fmt.Sprintf("ddf--entities--%s.csv", domain)))
		}
		if len(files) == 0 {
			continue
		}

		merged := map[string]*table.ColumnInference{}
		var header []string
		var allRecords [][]string
		for _, f := range files {
			h, recs, err := readCSV(f)
			if err != nil {
				return err
			}
			if header == nil {
				header = h
			}
			infers := inferColumns(h, recs)
			for col, inf := range infers {
				if existing, ok := merged[col]; ok {
					for _, rec := range recs {
						existing.Observe(valueOf(h, rec, col))
					}
				} else {
					merged[col] = inf
				}
			}
			allRecords = append(allRecords, recs...)
		}

		var keyCols, valueCols []table.ColumnDef
		keyCols = append(keyCols, table.ColumnDef{Name: domain, Type: merged[domain].Type(), Length: merged[domain].VarcharLength()})
		var secondary []string
		for _, h := range header {
			if h == domain {
				continue
			}
			inf := merged[h]
			valueCols = append(valueCols, table.ColumnDef{Name: h, Type: inf.Type(), Length: inf.VarcharLength()})
			if inf.NeedsSecondaryIndex() {
				secondary = append(secondary, h)
			}
		}

		physical := "entities--" + domain
		entityTable := schema.Table{PhysicalName: physical}
		if !opts.OnlyParse {
			if err := table.DropTable(ctx, l.pool.Raw(), physical); err != nil {
				return err
			}
			ddl := table.DDL(physical, keyCols, valueCols, nil)
			if _, err := l.pool.Raw().Exec(ctx, ddl); err != nil {
				return ddferrors.Wrap(ddferrors.Internal, err, "failed to create entity table for "+domain)
			}
			rows := table.ParseCSVRows(header, allRecords)
			if err := table.BulkLoadRows(ctx, l.pool.Raw(), physical, header, rows, []string{domain}); err != nil {
				return err
			}
			plan := table.IndexPlan{PhysicalName: physical, KeyColumns: []string{domain}, Secondary: secondary}
			if err := table.CreateIndexes(ctx, l.pool.Raw(), plan); err != nil {
				return err
			}
			*tables = append(*tables, physical)

			transCols, langs, err := l.loadResourceTranslations(ctx, physical, []string{domain}, files, translations, opts, tables)
			if err != nil {
				return err
			}
			if len(transCols) > 0 {
				viewName := physical + "--i18n"
				if _, err := l.pool.Raw().Exec(ctx, table.TranslationViewDDL(viewName, physical, []string{domain}, transCols)); err != nil {
					return ddferrors.Wrap(ddferrors.Internal, err, "failed to create entity i18n view for "+domain)
				}
				entityTable.ViewName = viewName
				entityTable.Languages = langs
			}
		}

		colDefs := make([]schema.Column, 0, len(header))
		var valueNames []string
		for _, h := range header {
			colDefs = append(colDefs, schema.Column{Name: h, Type: string(merged[h].Type())})
			if h != domain {
				valueNames = append(valueNames, h)
			}
		}
		entityTable.Columns = colDefs
		entityTable.KeyColumns = []string{domain}
		entityTable.ValueColumns = valueNames
		entityTable.Sources = files
		model.Entities[domain] = &schema.EntityTable{
			Domain: domain,
			Table:  entityTable,
		}
	}
	return nil
}

func (l *Loader) loadDatapoints(ctx context.Context, opts Options, manifest *Manifest, model *schema.Model, translations map[string][]string, tables *[]string) error {
	files, err := filepath.Glob(filepath.Join(opts.Dir, "ddf--datapoints--*--*.csv"))
	if err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to glob datapoint files")
	}

	groups := map[string][]string{} // normalised key id -> contributing files
	keyByID := map[string][]string{}
	for _, f := range files {
		key := parseDatapointKey(f)
		if len(key) == 0 {
			continue
		}
		resolved := make([]string, len(key))
		for i, k := range key {
			resolved[i] = model.Domain(k)
		}
		sort.Strings(resolved)
		id := schema.KeyID(resolved)
		groups[id] = append(groups[id], f)
		keyByID[id] = resolved
	}

	for id, group := range groups {
		key := keyByID[id]
		merged := map[string]*table.ColumnInference{}
		var header []string
		var allRecords [][]string
		for _, f := range group {
			h, recs, err := readCSV(f)
			if err != nil {
				return err
			}
			if header == nil {
				header = h
			}
			infers := inferColumns(h, recs)
			for col, inf := range infers {
				if existing, ok := merged[col]; ok {
					for _, rec := range recs {
						existing.Observe(valueOf(h, rec, col))
					}
				} else {
					merged[col] = inf
				}
			}
			allRecords = append(allRecords, recs...)
		}

		keyColDefs := make([]table.ColumnDef, len(key))
		for i, k := range key {
			inf := merged[k]
			if inf == nil {
				inf = table.NewColumnInference(k)
			}
			keyColDefs[i] = table.ColumnDef{Name: k, Type: inf.Type(), Length: inf.VarcharLength()}
		}
		var valueColDefs []table.ColumnDef
		keySet := map[string]bool{}
		for _, k := range key {
			keySet[k] = true
		}
		for _, h := range header {
			if keySet[h] {
				continue
			}
			inf := merged[h]
			valueColDefs = append(valueColDefs, table.ColumnDef{Name: h, Type: inf.Type(), Length: inf.VarcharLength()})
		}

		shards := table.Split(keyColDefs, valueColDefs, opts.MaxColumns, opts.MaxRowBytes)
		var shardTables []schema.Table
		for i, shard := range shards {
			physical := fmt.Sprintf("datapoints--%s--%d", strings.Join(key, "--"), i)
			if !opts.OnlyParse {
				if err := table.DropTable(ctx, l.pool.Raw(), physical); err != nil {
					return err
				}
				ddl := table.DDL(physical, keyColDefs, shard.ValueColumns, nil)
				if _, err := l.pool.Raw().Exec(ctx, ddl); err != nil {
					return ddferrors.Wrap(ddferrors.Internal, err, "failed to create datapoint table "+physical)
				}
				plan := table.IndexPlan{PhysicalName: physical, KeyColumns: key}
				if err := table.DropPrimary(ctx, l.pool.Raw(), plan); err != nil {
					l.logger.Debugf("no pre-existing primary index on %s: %v", physical, err)
				}

				shardHeader := append(append([]string{}, key...), columnNames(shard.ValueColumns)...)
				csvPath := group[0]
				if err := table.BulkLoadExternal(ctx, l.pool.Raw(), physical, csvPath, shardHeader); err != nil {
					l.logger.Warnf("external-table load failed for %s, falling back to row-by-row: %v", physical, err)
					rows := table.ParseCSVRows(header, allRecords)
					if err := table.BulkLoadRows(ctx, l.pool.Raw(), physical, header, rows, key); err != nil {
						return err
					}
				}

				var secondary []string
				for _, k := range key {
					if inf := merged[k]; inf != nil && inf.NeedsSecondaryIndex() {
						secondary = append(secondary, k)
					}
				}
				plan.Secondary = secondary
				if err := table.CreateIndexes(ctx, l.pool.Raw(), plan); err != nil {
					return err
				}
				*tables = append(*tables, physical)
			}

			cols := make([]schema.Column, 0, len(key)+len(shard.ValueColumns))
			for _, k := range keyColDefs {
				cols = append(cols, schema.Column{Name: k.Name, Type: string(k.Type)})
			}
			for _, v := range shard.ValueColumns {
				cols = append(cols, schema.Column{Name: v.Name, Type: string(v.Type)})
			}
			shardTables = append(shardTables, schema.Table{
				PhysicalName: physical,
				Columns:      cols,
				KeyColumns:   key,
				ValueColumns: columnNames(shard.ValueColumns),
				Sources:      group,
			})
		}

		model.Datapoints[id] = &schema.DatapointTable{Key: key, Shards: shardTables}
	}
	return nil
}

func (l *Loader) uploadAssets(ctx context.Context, dir, name, version string) error {
	files, err := DiscoverAssets(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		full := filepath.Join(dir, "assets", f)
		key := fmt.Sprintf("%s/%s/%s", name, version, f)
		data, err := os.ReadFile(full)
		if err != nil {
			return ddferrors.Wrap(ddferrors.Internal, err, "failed to read asset "+f)
		}
		if err := l.assets.Upload(ctx, key, data); err != nil {
			return ddferrors.Wrap(ddferrors.Internal, err, "failed to upload asset "+f)
		}
	}
	return nil
}

// loadResourceTranslations matches discovered per-language translation
// files (spec §4.5 step 2) to the base resource files that produced
// physical by filename, loads a `physical--lang--<lang>` companion table
// for each match, and returns the full `<col>--<lang>` projection set plus
// the languages actually loaded.
func (l *Loader) loadResourceTranslations(ctx context.Context, physical string, keyColumns []string, baseFiles []string, translations map[string][]string, opts Options, tables *[]string) ([]table.TranslationColumn, []string, error) {
	baseNames := map[string]bool{}
	for _, f := range baseFiles {
		baseNames[filepath.Base(f)] = true
	}

	langs := make([]string, 0, len(translations))
	for lang := range translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	var allCols []table.TranslationColumn
	var usedLangs []string
	for _, lang := range langs {
		for _, f := range translations[lang] {
			if !baseNames[filepath.Base(f)] {
				continue
			}
			cols, err := l.loadTranslationTable(ctx, physical, keyColumns, f, lang)
			if err != nil {
				return nil, nil, err
			}
			if len(cols) == 0 {
				continue
			}
			allCols = append(allCols, cols...)
			usedLangs = append(usedLangs, lang)
			*tables = append(*tables, physical+"--lang--"+lang)
		}
	}
	return allCols, usedLangs, nil
}

// loadTranslationTable creates and bulk-loads the `physical--lang--<lang>`
// companion table for one matched translation CSV, returning the
// `<col>--<lang>` columns its rows contribute to the i18n view.
func (l *Loader) loadTranslationTable(ctx context.Context, physical string, keyColumns []string, langFile, lang string) ([]table.TranslationColumn, error) {
	header, records, err := readCSV(langFile)
	if err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, nil
	}

	infers := inferColumns(header, records)
	keySet := map[string]bool{}
	for _, k := range keyColumns {
		keySet[k] = true
	}

	var keyCols, valueCols []table.ColumnDef
	var transCols []table.TranslationColumn
	for _, h := range header {
		inf := infers[h]
		cd := table.ColumnDef{Name: h, Type: inf.Type(), Length: inf.VarcharLength()}
		if keySet[h] {
			keyCols = append(keyCols, cd)
		} else {
			valueCols = append(valueCols, cd)
			transCols = append(transCols, table.TranslationColumn{BaseColumn: h, Language: lang})
		}
	}
	if len(transCols) == 0 {
		return nil, nil
	}

	langTable := physical + "--lang--" + lang
	if err := table.DropTable(ctx, l.pool.Raw(), langTable); err != nil {
		return nil, err
	}
	if _, err := l.pool.Raw().Exec(ctx, table.DDL(langTable, keyCols, valueCols, nil)); err != nil {
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to create translation table "+langTable)
	}
	rows := table.ParseCSVRows(header, records)
	if err := table.BulkLoadRows(ctx, l.pool.Raw(), langTable, header, rows, keyColumns); err != nil {
		return nil, err
	}
	return transCols, nil
}

func parseDatapointKey(path string) []string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".csv")
	parts := strings.Split(base, "--")
	// ddf--datapoints--<value>--<key1>-<key2>...
	if len(parts) < 4 {
		return nil
	}
	return strings.Split(parts[3], "-")
}

func readCSV(path string) (header []string, records [][]string, err error) {
	f, ferr := os.Open(path)
	if ferr != nil {
		return nil, nil, ddferrors.Wrap(ddferrors.SchemaValidation, ferr, "failed to open "+path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows (SPEC_FULL.md CSV dialect note)
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, ddferrors.Wrap(ddferrors.SchemaValidation, err, "failed to parse "+path)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

func inferColumns(header []string, records [][]string) map[string]*table.ColumnInference {
	out := make(map[string]*table.ColumnInference, len(header))
	for _, h := range header {
		out[h] = table.NewColumnInference(h)
	}
	for _, rec := range records {
		for i, h := range header {
			if i < len(rec) {
				out[h].Observe(rec[i])
			}
		}
	}
	return out
}

func valueOf(header, rec []string, col string) string {
	for i, h := range header {
		if h == col && i < len(rec) {
			return rec[i]
		}
	}
	return ""
}

func rowMap(header, rec []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(rec) {
			m[h] = rec[i]
		}
	}
	return m
}

func columnNames(cols []table.ColumnDef) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// HashPassword computes the SHA-256 hex digest stored in the catalog and
// compared against client-supplied Basic-auth credentials (spec §4.7).
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
