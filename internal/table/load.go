package table

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redbco/ddfserver/internal/ddferrors"
	"github.com/redbco/ddfserver/internal/sqlutil"
)

// Row is one parsed CSV record, column name to raw string value (empty
// string means NULL).
type Row map[string]string

// deadlockRetryDelay is the single retry backoff on a deadlocked
// row-by-row upsert (spec §4.4, §5: "retried with a 500ms backoff once").
const deadlockRetryDelay = 500 * time.Millisecond

// BulkLoadExternal implements the fast bulk-load strategy (spec §4.4):
// reads the whole source CSV into memory, then loads it into physicalName
// through pgx's native COPY protocol. Used when the target table is freshly created and empty,
// so no upsert/conflict handling is needed. Only columns present in the
// columns slice are loaded; a source row missing or blank for a column
// loads NULL for it.
func BulkLoadExternal(ctx context.Context, pool *pgxpool.Pool, physicalName, csvPath string, columns []string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to open "+csvPath)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to read header of "+csvPath)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}

	var rows [][]interface{}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ddferrors.Wrap(ddferrors.Internal, err, "failed to parse "+csvPath)
		}
		row := make([]interface{}, len(columns))
		for i, c := range columns {
			pos, ok := idx[c]
			if !ok || pos >= len(rec) || rec[pos] == "" {
				row[i] = nil
				continue
			}
			row[i] = strings.TrimRight(rec[pos], "\r")
		}
		rows = append(rows, row)
	}

	if _, err := pool.CopyFrom(ctx, pgx.Identifier{physicalName}, columns, pgx.CopyFromRows(rows)); err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "COPY bulk load failed for "+physicalName)
	}
	return nil
}

func conflictUpdateClause(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		q := sqlutil.QuoteIdent(c)
		parts[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
	}
	return strings.Join(parts, ", ")
}

// BulkLoadRows implements the row-by-row upsert strategy (spec §4.4):
// slower, tolerant of large cells and re-imports of existing keys.
// keyColumns names the unique/primary-key columns that form the ON
// CONFLICT target; every other column is overwritten from the new row.
// A single deadlock retry is attempted with deadlockRetryDelay before
// failing the ingestion.
func BulkLoadRows(ctx context.Context, pool *pgxpool.Pool, physicalName string, columns []string, rows <-chan Row, keyColumns []string) error {
	colList := quoteJoin(columns)
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	keySet := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		keySet[k] = true
	}
	var updateCols []string
	for _, c := range columns {
		if !keySet[c] {
			updateCols = append(updateCols, c)
		}
	}

	var onConflict string
	if len(updateCols) == 0 {
		onConflict = fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", quoteJoin(keyColumns))
	} else {
		onConflict = fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", quoteJoin(keyColumns), conflictUpdateClause(updateCols))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
		sqlutil.QuoteIdent(physicalName), colList, strings.Join(placeholders, ", "), onConflict)

	for row := range rows {
		args := make([]interface{}, len(columns))
		for i, c := range columns {
			v, ok := row[c]
			if !ok || v == "" {
				args[i] = nil
			} else {
				args[i] = v
			}
		}

		if err := execWithDeadlockRetry(ctx, pool, stmt, args); err != nil {
			return ddferrors.Wrap(ddferrors.Internal, err, "row upsert failed")
		}
	}
	return nil
}

func execWithDeadlockRetry(ctx context.Context, pool *pgxpool.Pool, stmt string, args []interface{}) error {
	_, err := pool.Exec(ctx, stmt, args...)
	if err == nil {
		return nil
	}
	if !isDeadlock(err) {
		return err
	}
	time.Sleep(deadlockRetryDelay)
	_, err = pool.Exec(ctx, stmt, args...)
	return err
}

type sqlStater interface{ SQLState() string }

func isDeadlock(err error) bool {
	for err != nil {
		if s, ok := err.(sqlStater); ok {
			return s.SQLState() == "40P01"
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ParseCSVRows emits already-parsed CSV records as Row maps on a channel,
// tolerating \r\n line endings and ragged rows (short rows are padded
// with NULLs, spec SPEC_FULL.md CSV dialect tolerance).
func ParseCSVRows(header []string, records [][]string) <-chan Row {
	out := make(chan Row)
	go func() {
		defer close(out)
		for _, rec := range records {
			row := make(Row, len(header))
			for i, col := range header {
				if i < len(rec) {
					row[col] = strings.TrimRight(rec[i], "\r")
				} else {
					row[col] = ""
				}
			}
			out <- row
		}
	}()
	return out
}
