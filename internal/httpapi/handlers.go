package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/redbco/ddfserver/internal/ddferrors"
	"github.com/redbco/ddfserver/internal/query"
	"github.com/redbco/ddfserver/internal/schema"
)

// handleList implements `GET /` (spec §4.7, §6): a flat JSON array of
// every (name, version) the catalog holds.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.catalog.List(r.Context(), "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type wireItem struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Default bool   `json:"default,omitempty"`
	}
	out := make([]wireItem, len(items))
	for i, it := range items {
		out[i] = wireItem{Name: it.Name, Version: it.Version, Default: it.Default}
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, out)
}

// handleDirectory implements `GET /ddf-service-directory` (spec §6).
func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"list":   "/",
		"query":  "/DATASET/VERSION",
		"assets": "DATASET/VERSION/assets/ASSET",
	})
}

// handleIOToken serves the operator-facing `GET /<LOADER_IO_TOKEN>.txt`
// probe (spec §6): proves which deployment a given process is serving,
// with no authentication since the token itself is the secret.
func (s *Server) handleIOToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write([]byte(s.ioToken))
}

// handleQueryNoVersion implements the version-less `GET /:name` redirect
// of spec §4.7/§6: resolve the version via Catalog lookup rules, then
// 302 to the fully qualified URL preserving the query string verbatim.
func (s *Server) handleQueryNoVersion(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	entry, err := s.catalog.Lookup(r.Context(), name, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target := fmt.Sprintf("/%s/%s", url.PathEscape(name), url.PathEscape(entry.Version))
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleQuery implements the version-explicit query endpoint (spec §4.7/§6).
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, version := vars["name"], vars["version"]

	entry, err := s.catalog.Lookup(r.Context(), name, version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !checkPassword(w, r, name, entry.Password) {
		return
	}

	q, err := decodeQuery(r.URL.RawQuery)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	model, err := s.schemas.Get(name, entry.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.applyCacheHeaders(w, name, entry.Version, entry.Password != "")

	if strings.HasSuffix(q.From, ".schema") {
		s.streamSchemaQuery(w, r, entry.Version, q, model)
		return
	}

	compiled, err := query.Compile(q, model)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.streamSQLQuery(w, r, entry.Version, q, compiled)
}

// decodeQuery implements spec §6: "tries URL-object first, falls back to
// JSON, then fails 400."
func decodeQuery(rawQuery string) (*query.Query, error) {
	if generic, err := query.ParseURLObject(rawQuery); err == nil {
		if q, err := query.FromGeneric(generic); err == nil {
			return q, nil
		}
	}
	decoded, err := url.QueryUnescape(rawQuery)
	if err != nil {
		return nil, ddferrors.New(ddferrors.QuerySyntax, "malformed query string")
	}
	q, err := query.ParseJSON([]byte(decoded))
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Server) applyCacheHeaders(w http.ResponseWriter, name, version string, protected bool) {
	if protected || !s.cacheAllow {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Cache-Tag", name+"/"+version)
}

// streamSchemaQuery answers a `*.schema` query from the in-memory model
// without touching the database (spec §4.2).
func (s *Server) streamSchemaQuery(w http.ResponseWriter, r *http.Request, version string, q *query.Query, model *schema.Model) {
	rows := model.Synthesize(q.From)
	out, closer := compressingWriter(w, r)
	defer closer.Close()

	w.Header().Set("Content-Type", "application/json")
	rw := newResultWriter(out, false)
	header := append(append([]string{}, q.Select.Key...), "value")
	if err := rw.Preamble(version, header); err != nil {
		s.logger.Warnf("failed to write schema query preamble: %v", err)
		return
	}
	var info []string
	if len(rows) == 0 {
		info = append(info, "zero results")
	}
	for _, row := range rows {
		values := make([]interface{}, 0, len(row.Key)+1)
		for _, k := range row.Key {
			values = append(values, k)
		}
		values = append(values, row.Value)
		if err := rw.Row(len(row.Key), values); err != nil {
			s.logger.Warnf("failed to write schema query row: %v", err)
			return
		}
	}
	if err := rw.Close(info, nil); err != nil {
		s.logger.Warnf("failed to close schema query response: %v", err)
	}
}

// streamSQLQuery executes compiled.SQL and streams the result per spec §4.8.
func (s *Server) streamSQLQuery(w http.ResponseWriter, r *http.Request, version string, q *query.Query, compiled *query.Compiled) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer conn.Release()

	s.requestLogger(r).Debug(fmt.Sprintf("executing query SQL: %s", compiled.SQL))

	rows, err := conn.Query(ctx, compiled.SQL)
	if err != nil {
		s.writeError(w, r, ddferrors.Wrap(ddferrors.Internal, err, "query execution failed: "+compiled.SQL))
		return
	}
	defer rows.Close()

	out, closer := compressingWriter(w, r)
	defer closer.Close()
	w.Header().Set("Content-Type", "application/json")

	filterNil := q.From == "datapoints"
	rw := newResultWriter(out, filterNil)
	header := append(append([]string{}, sortedKey(q)...), sortedValue(q)...)
	if err := rw.Preamble(version, header); err != nil {
		s.logger.Warnf("failed to write query preamble: %v", err)
		return
	}

	rowCount := 0
	for rows.Next() {
		if r.Context().Err() != nil {
			return // client disconnected: stop fetching, release happens via defers
		}
		values, err := rows.Values()
		if err != nil {
			s.logger.Warnf("failed to scan query row: %v", err)
			break
		}
		if err := rw.Row(len(q.Select.Key), values); err == nil {
			rowCount++
		}
	}

	var info []string
	if rowCount == 0 {
		info = append(info, "zero results")
	}
	if err := rw.Close(info, compiled.Warnings); err != nil {
		s.logger.Warnf("failed to close query response: %v", err)
	}
}

// sortedKey and sortedValue mirror the compiler's step-1 lexicographic
// sort (internal/query.Compile) so the streamed header matches the
// column order of the emitted SELECT list.
func sortedKey(q *query.Query) []string  { return sortStrings(q.Select.Key) }
func sortedValue(q *query.Query) []string { return sortStrings(q.Select.Value) }

func sortStrings(ss []string) []string {
	out := append([]string{}, ss...)
	sort.Strings(out)
	return out
}

// handleAsset implements the version-explicit assets endpoint: 301 to
// the store-issued URL (spec §4.7/§6).
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, version, asset := vars["name"], vars["version"], vars["asset"]

	if _, err := s.catalog.Lookup(r.Context(), name, version); err != nil {
		s.writeError(w, r, err)
		return
	}

	key := fmt.Sprintf("%s/%s/%s", name, version, asset)
	u, err := s.assets.URL(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusMovedPermanently)
}

// handleAssetNoVersion implements the version-less assets endpoint: 302
// after resolving the version (spec §4.7/§6).
func (s *Server) handleAssetNoVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, asset := vars["name"], vars["asset"]

	entry, err := s.catalog.Lookup(r.Context(), name, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target := fmt.Sprintf("/%s/%s/assets/%s", url.PathEscape(name), url.PathEscape(entry.Version), url.PathEscape(asset))
	http.Redirect(w, r, target, http.StatusFound)
}

// writeError maps a Kind-tagged error to the HTTP status of spec §6.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch ddferrors.KindOf(err) {
	case ddferrors.QuerySyntax, ddferrors.QuerySemantic, ddferrors.SchemaValidation:
		status = http.StatusBadRequest
	case ddferrors.NotFound:
		status = http.StatusNotFound
	case ddferrors.Unauthorized:
		status = http.StatusUnauthorized
	case ddferrors.Busy:
		status = http.StatusServiceUnavailable
	case ddferrors.Conflict:
		status = http.StatusConflict
	}

	if status >= 500 {
		s.requestLogger(r).Error(fmt.Sprintf("request failed: %v", err))
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	w.Header().Set("Content-Type", "text/plain")
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
