package httpapi

import (
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// resultWriter streams the preamble -> rows -> trailer JSON object of
// spec §4.8. It never buffers the full row set: each row is marshalled
// and written as soon as it is produced.
type resultWriter struct {
	w         io.Writer
	started   bool
	rowCount  int
	filterNil bool // true for `from = datapoints`: suppress all-null rows
}

func newResultWriter(w io.Writer, filterNil bool) *resultWriter {
	return &resultWriter{w: w, filterNil: filterNil}
}

// Preamble writes the opening object through the start of the rows array.
func (rw *resultWriter) Preamble(version string, header []string) error {
	if rw.started {
		return nil
	}
	rw.started = true
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return err
	}
	versionJSON, err := json.Marshal(version)
	if err != nil {
		return err
	}
	_, err = io.WriteString(rw.w, `{"version":`+string(versionJSON)+`,"header":`+string(headerJSON)+`,"rows":[`)
	return err
}

// Row writes one row, suppressing an all-null value tail when filterNil
// is set (spec §4.8 "Null-row filtering").
func (rw *resultWriter) Row(keyLen int, values []interface{}) error {
	if rw.filterNil && allNil(values[keyLen:]) {
		return nil
	}
	prefix := ""
	if rw.rowCount > 0 {
		prefix = ","
	}
	rowJSON, err := json.Marshal(values)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(rw.w, prefix+string(rowJSON)); err != nil {
		return err
	}
	rw.rowCount++
	return nil
}

// Close writes the trailer: closes the rows array, appends info/warn
// arrays if present, and closes the object (spec §4.8).
func (rw *resultWriter) Close(info, warn []string) error {
	if _, err := io.WriteString(rw.w, "]"); err != nil {
		return err
	}
	if len(info) > 0 {
		b, err := json.Marshal(info)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(rw.w, `,"info":`+string(b)); err != nil {
			return err
		}
	}
	if len(warn) > 0 {
		b, err := json.Marshal(warn)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(rw.w, `,"warn":`+string(b)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(rw.w, "}")
	return err
}

func allNil(values []interface{}) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}

// compressingWriter opportunistically wraps w in gzip or deflate based on
// Accept-Encoding (spec §4.8), returning the writer to use and a closer
// the caller must defer.
func compressingWriter(w http.ResponseWriter, r *http.Request) (io.Writer, io.Closer) {
	accept := r.Header.Get("Accept-Encoding")
	switch {
	case strings.Contains(accept, "gzip"):
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		return gz, gz
	case strings.Contains(accept, "deflate"):
		w.Header().Set("Content-Encoding", "deflate")
		fl, _ := flate.NewWriter(w, flate.DefaultCompression)
		return fl, fl
	default:
		return w, io.NopCloser(nil)
	}
}
