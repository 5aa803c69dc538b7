// Package catalog implements the persistent dataset catalog of spec §4.1:
// a single relational table recording the (name, version) tuples known to
// the service, their serialised schema, import timestamp, default flag
// and optional password hash.
package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/singleflight"

	"github.com/redbco/ddfserver/internal/ddferrors"
	"github.com/redbco/ddfserver/internal/schema"
	"github.com/redbco/ddfserver/internal/sqlutil"
	"github.com/redbco/ddfserver/pkg/dbpool"
	"github.com/redbco/ddfserver/pkg/logger"
)

// Latest and AllVersions are the reserved tokens of spec §3 — never
// persisted as an actual version string.
const (
	Latest      = "latest"
	AllVersions = "_ALL_"
)

// Entry is one row of the datasets table.
type Entry struct {
	Name     string
	Version  string
	Default  bool
	Imported time.Time
	Password string // SHA-256 hex hash, empty if unprotected
	Schema   *schema.Model
	Tables   []string // physical table names backing this entry, for remove()
}

// ListItem is the projection list() and the GET / listing endpoint use.
type ListItem struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Default  bool   `json:"default,omitempty"`
	Imported time.Time `json:"-"`
}

// schemaDoc is the JSON shape persisted in the `definition` column: the
// serialised schema model plus the physical table names the loader
// created for it, so remove() can return them without re-deriving.
type schemaDoc struct {
	Schema *schema.Model `json:"schema"`
	Tables []string      `json:"tables"`
}

// Catalog wraps the connection pool with the catalog's CRUD operations
// and de-duplicates concurrent identical lookups.
type Catalog struct {
	pool   *dbpool.Pool
	logger *logger.Logger
	group  singleflight.Group
}

// New creates a Catalog. The caller is expected to have already applied
// the datasets table DDL (spec §6); Catalog never creates its own table.
func New(pool *dbpool.Pool, log *logger.Logger) *Catalog {
	return &Catalog{pool: pool, logger: log}
}

// List returns entries for name, or for every dataset if name is empty,
// ordered by imported descending within each name (spec §4.1).
func (c *Catalog) List(ctx context.Context, name string) ([]ListItem, error) {
	var rows pgx.Rows
	var err error
	if name == "" {
		rows, err = c.pool.Raw().Query(ctx,
			`SELECT name, version, is__default, imported FROM datasets ORDER BY name, imported DESC`)
	} else {
		rows, err = c.pool.Raw().Query(ctx,
			`SELECT name, version, is__default, imported FROM datasets WHERE name = $1 ORDER BY imported DESC`, name)
	}
	if err != nil {
		c.logger.Errorf("catalog list query failed: %v", err)
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "catalog list failed")
	}
	defer rows.Close()

	var out []ListItem
	for rows.Next() {
		var item ListItem
		if err := rows.Scan(&item.Name, &item.Version, &item.Default, &item.Imported); err != nil {
			return nil, ddferrors.Wrap(ddferrors.Internal, err, "catalog list scan failed")
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "catalog list iteration failed")
	}
	return out, nil
}

// Lookup resolves (name, version) per the §4.1 contract: an empty version
// means "the default, else most recently imported"; Latest always means
// most recently imported; anything else is an exact match.
func (c *Catalog) Lookup(ctx context.Context, name, version string) (*Entry, error) {
	key := name + "\x00" + version
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.lookup(ctx, name, version)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (c *Catalog) lookup(ctx context.Context, name, version string) (*Entry, error) {
	var row pgx.Row
	switch version {
	case "":
		row = c.pool.Raw().QueryRow(ctx, `
			SELECT name, version, is__default, definition, imported, password FROM datasets
			WHERE name = $1
			ORDER BY is__default DESC, imported DESC
			LIMIT 1`, name)
	case Latest:
		row = c.pool.Raw().QueryRow(ctx, `
			SELECT name, version, is__default, definition, imported, password FROM datasets
			WHERE name = $1
			ORDER BY imported DESC
			LIMIT 1`, name)
	default:
		row = c.pool.Raw().QueryRow(ctx, `
			SELECT name, version, is__default, definition, imported, password FROM datasets
			WHERE name = $1 AND version = $2`, name, version)
	}

	entry, err := scanEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ddferrors.Newf(ddferrors.NotFound, "dataset %q not found", name)
		}
		c.logger.Errorf("catalog lookup failed for %s/%s: %v", name, version, err)
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "catalog lookup failed")
	}
	return entry, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var def []byte
	if err := row.Scan(&e.Name, &e.Version, &e.Default, &def, &e.Imported, &e.Password); err != nil {
		return nil, err
	}
	var doc schemaDoc
	if len(def) > 0 {
		if err := json.Unmarshal(def, &doc); err != nil {
			return nil, errorsWrapJSON(err)
		}
	}
	e.Schema = doc.Schema
	e.Tables = doc.Tables
	return &e, nil
}

func errorsWrapJSON(err error) error {
	return ddferrors.Wrap(ddferrors.Internal, err, "malformed catalog definition document")
}

// InsertNew creates a new (name, version) entry. Fails with Conflict if
// the tuple already exists (spec §4.1 "ALREADY_EXISTS").
func (c *Catalog) InsertNew(ctx context.Context, name, version string, model *schema.Model, tables []string, passwordHash string) error {
	doc, err := json.Marshal(schemaDoc{Schema: model, Tables: tables})
	if err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to serialise schema")
	}

	var pw interface{}
	if passwordHash != "" {
		pw = passwordHash
	}

	_, err = c.pool.Raw().Exec(ctx, `
		INSERT INTO datasets (name, version, is__default, definition, imported, password)
		VALUES ($1, $2, FALSE, $3, CURRENT_TIMESTAMP, $4)`,
		name, version, doc, pw)
	if err != nil {
		if isUniqueViolation(err) {
			return ddferrors.Newf(ddferrors.Conflict, "dataset %q version %q already exists", name, version)
		}
		c.logger.Errorf("catalog insert failed for %s/%s: %v", name, version, err)
		return ddferrors.Wrap(ddferrors.Internal, err, "catalog insert failed")
	}
	return nil
}

// isUniqueViolation recognises a Postgres unique-constraint violation
// (SQLSTATE 23505) without importing pgconn just for the error code.
func isUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	if pgErr, ok := err.(sqlStater); ok {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// MarkDefault implements §4.1 markDefault: clears the existing default
// for name, then if version is a literal (not Latest) sets it as the new
// default. Runs under one acquired connection so unset-then-set is atomic
// relative to concurrent readers (spec §4.1, §5).
func (c *Catalog) MarkDefault(ctx context.Context, name, version string) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE datasets SET is__default = FALSE WHERE name = $1`, name); err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to clear default")
	}

	if version != Latest {
		tag, err := tx.Exec(ctx, `UPDATE datasets SET is__default = TRUE WHERE name = $1 AND version = $2`, name, version)
		if err != nil {
			return ddferrors.Wrap(ddferrors.Internal, err, "failed to set default")
		}
		if tag.RowsAffected() == 0 {
			return ddferrors.Newf(ddferrors.NotFound, "dataset %q version %q not found", name, version)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to commit default change")
	}
	return nil
}

// EnsureDefault implements §4.1 ensureDefault: if name has no default and
// at least one version exists, mark the most recently imported as default.
func (c *Catalog) EnsureDefault(ctx context.Context, name string) error {
	var hasDefault bool
	err := c.pool.Raw().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM datasets WHERE name = $1 AND is__default)`, name).Scan(&hasDefault)
	if err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to check default existence")
	}
	if hasDefault {
		return nil
	}

	var latest string
	err = c.pool.Raw().QueryRow(ctx,
		`SELECT version FROM datasets WHERE name = $1 ORDER BY imported DESC LIMIT 1`, name).Scan(&latest)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to find latest version")
	}
	return c.MarkDefault(ctx, name, latest)
}

// Remove implements §4.1 remove: versions holds literal versions and/or
// Latest, and all=true selects every version of name. The catalog rows and
// their backing tables are dropped under a single transaction, so a
// failed DROP TABLE rolls back the catalog deletion too — the round-trip
// law of spec §8 requires that no catalog entry ever outlives, or is
// outlived by, the tables it names. Returns the union of backing table
// names that were dropped. Removing the most recent version while it is
// the default is rejected unless the caller passed AllVersions
// explicitly.
func (c *Catalog) Remove(ctx context.Context, name string, versions []string, all bool) ([]string, error) {
	targets := versions
	if all {
		rows, err := c.pool.Raw().Query(ctx, `SELECT version FROM datasets WHERE name = $1`, name)
		if err != nil {
			return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to enumerate versions")
		}
		targets = nil
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to scan version")
			}
			targets = append(targets, v)
		}
		rows.Close()
	} else {
		if err := c.rejectRemovingDefaultMostRecent(ctx, name, targets); err != nil {
			return nil, err
		}
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var tables []string
	seen := map[string]bool{}
	for _, v := range targets {
		if v == Latest {
			var err error
			v, err = c.resolveLatest(ctx, name)
			if err != nil {
				return nil, err
			}
		}
		row := tx.QueryRow(ctx,
			`SELECT definition FROM datasets WHERE name = $1 AND version = $2`, name, v)
		var def []byte
		if err := row.Scan(&def); err != nil {
			if err == pgx.ErrNoRows {
				return nil, ddferrors.Newf(ddferrors.NotFound, "dataset %q version %q not found", name, v)
			}
			return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to load definition for removal")
		}
		var doc schemaDoc
		if len(def) > 0 {
			if err := json.Unmarshal(def, &doc); err != nil {
				return nil, errorsWrapJSON(err)
			}
		}
		for _, t := range doc.Tables {
			if !seen[t] {
				seen[t] = true
				tables = append(tables, t)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM datasets WHERE name = $1 AND version = $2`, name, v); err != nil {
			return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to delete catalog row")
		}
	}

	for _, t := range tables {
		if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS `+sqlutil.QuoteIdent(t)); err != nil {
			return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to drop backing table "+t)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to commit removal")
	}
	return tables, nil
}

func (c *Catalog) resolveLatest(ctx context.Context, name string) (string, error) {
	var v string
	err := c.pool.Raw().QueryRow(ctx,
		`SELECT version FROM datasets WHERE name = $1 ORDER BY imported DESC LIMIT 1`, name).Scan(&v)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ddferrors.Newf(ddferrors.NotFound, "dataset %q not found", name)
		}
		return "", ddferrors.Wrap(ddferrors.Internal, err, "failed to resolve latest version")
	}
	return v, nil
}

func (c *Catalog) rejectRemovingDefaultMostRecent(ctx context.Context, name string, targets []string) error {
	var mostRecent string
	var isDefault bool
	err := c.pool.Raw().QueryRow(ctx,
		`SELECT version, is__default FROM datasets WHERE name = $1 ORDER BY imported DESC LIMIT 1`, name).Scan(&mostRecent, &isDefault)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ddferrors.Newf(ddferrors.NotFound, "dataset %q not found", name)
		}
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to check most recent version")
	}
	if !isDefault {
		return nil
	}
	for _, t := range targets {
		if t == mostRecent || t == Latest {
			return ddferrors.Newf(ddferrors.Conflict,
				"refusing to remove default version %q of %q without _ALL_", mostRecent, name)
		}
	}
	return nil
}

// Purge implements §4.1 purge: keep the default (or, lacking one, the two
// most recent) and the version preceding it; delete everything older.
func (c *Catalog) Purge(ctx context.Context, name string) ([]string, error) {
	rows, err := c.pool.Raw().Query(ctx,
		`SELECT version, is__default, imported FROM datasets WHERE name = $1 ORDER BY imported DESC`, name)
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to enumerate versions for purge")
	}
	type rec struct {
		version string
		isDef   bool
		at      time.Time
	}
	var all []rec
	for rows.Next() {
		var r rec
		if err := rows.Scan(&r.version, &r.isDef, &r.at); err != nil {
			rows.Close()
			return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to scan purge candidate")
		}
		all = append(all, r)
	}
	rows.Close()
	if len(all) == 0 {
		return nil, ddferrors.Newf(ddferrors.NotFound, "dataset %q not found", name)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].at.After(all[j].at) })

	keepIdx := map[int]bool{}
	defIdx := -1
	for i, r := range all {
		if r.isDef {
			defIdx = i
			break
		}
	}
	if defIdx >= 0 {
		for i := 0; i <= defIdx+1 && i < len(all); i++ {
			keepIdx[i] = true
		}
	} else {
		if len(all) > 0 {
			keepIdx[0] = true
		}
		if len(all) > 1 {
			keepIdx[1] = true
		}
		if len(all) > 2 {
			keepIdx[2] = true
		}
	}

	var toRemove []string
	for i, r := range all {
		if !keepIdx[i] {
			toRemove = append(toRemove, r.version)
		}
	}
	if len(toRemove) == 0 {
		return nil, nil
	}
	return c.Remove(ctx, name, toRemove, false)
}
