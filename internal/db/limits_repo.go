package db

import (
	"context"

	"sabiops/internal/types"
)

// LimitRowRepo loads the plan limit table. Rows are read once at startup
// (and on explicit reload) into the in-memory registry; the hot limit-check
// path never touches the database.
type LimitRowRepo struct {
	db DBTX
}

// NewLimitRowRepo creates a new LimitRowRepo backed by the given database
// connection (pool or transaction).
func NewLimitRowRepo(db DBTX) *LimitRowRepo {
	return &LimitRowRepo{db: db}
}

// LoadLimitRows returns every (plan, feature, period) limit row.
func (r *LimitRowRepo) LoadLimitRows(ctx context.Context) ([]types.UsageLimitRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT plan, feature, period_type, limit_count
		 FROM usage_limits
		 ORDER BY plan, feature`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query usage limits", err)
	}
	defer rows.Close()

	var out []types.UsageLimitRow
	for rows.Next() {
		var row types.UsageLimitRow
		if err := rows.Scan(&row.Plan, &row.Feature, &row.PeriodType, &row.LimitCount); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan usage limit row", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating usage limit rows", err)
	}

	return out, nil
}
