package table

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redbco/ddfserver/internal/ddferrors"
	"github.com/redbco/ddfserver/internal/sqlutil"
)

// IndexPlan names a table's primary-index key columns and the secondary
// indexes the column inferences flagged. DropPrimary drops the primary
// index (if present) so the caller can bulk-load in its absence, and
// CreateIndexes then recreates it plus the secondary indexes (spec §4.4:
// "dropped before bulk load and recreated after").
type IndexPlan struct {
	PhysicalName string
	KeyColumns   []string
	Secondary    []string // key components with cardinality >= 150
}

func DropPrimary(ctx context.Context, pool *pgxpool.Pool, plan IndexPlan) error {
	if _, err := pool.Exec(ctx, DropPrimaryIndexDDL(plan.PhysicalName)); err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to drop primary index")
	}
	return nil
}

func CreateIndexes(ctx context.Context, pool *pgxpool.Pool, plan IndexPlan) error {
	if _, err := pool.Exec(ctx, PrimaryIndexDDL(plan.PhysicalName, plan.KeyColumns)); err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to create primary index")
	}
	for _, col := range plan.Secondary {
		if _, err := pool.Exec(ctx, SecondaryIndexDDL(plan.PhysicalName, col)); err != nil {
			return ddferrors.Wrap(ddferrors.Internal, err, "failed to create secondary index on "+col)
		}
	}
	return nil
}

// DropTable removes a backing table entirely; the loader runs it before
// each CREATE TABLE (see DDL). The catalog's remove/purge drops tables
// inside its own transaction instead.
func DropTable(ctx context.Context, pool *pgxpool.Pool, physicalName string) error {
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS `+sqlutil.QuoteIdent(physicalName)); err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to drop table "+physicalName)
	}
	return nil
}
