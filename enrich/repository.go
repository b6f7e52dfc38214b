package enrich

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/registry"
	"github.com/maxpert/cdcrelay/telemetry"
)

// SQLRepository answers lookups from the source database (or a replica)
type SQLRepository struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	timeout time.Duration
}

// NewSQLRepository wraps an open database. driver selects the SQL dialect
// ("mysql" or "sqlite3").
func NewSQLRepository(db *sql.DB, driver string, timeout time.Duration) *SQLRepository {
	return &SQLRepository{
		db:      db,
		dialect: goqu.Dialect(driver),
		timeout: timeout,
	}
}

// OpenSQLRepository opens the configured lookup database and verifies it is
// reachable
func OpenSQLRepository(ctx context.Context, conf cfg.EnrichmentConfiguration) (*SQLRepository, error) {
	db, err := sql.Open(conf.Driver, conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("open lookup database: %w", err)
	}
	if conf.MaxOpenConns > 0 {
		db.SetMaxOpenConns(conf.MaxOpenConns)
		db.SetMaxIdleConns(conf.MaxOpenConns)
	}

	timeout := time.Duration(conf.QueryTimeoutMS) * time.Millisecond
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping lookup database: %w", err)
	}

	log.Info().Str("driver", conf.Driver).Msg("Lookup repository connected")
	return NewSQLRepository(db, conf.Driver, timeout), nil
}

// LookupOrgByKey selects lookup.OrgColumn from lookup.Table where
// lookup.KeyColumn equals key
func (r *SQLRepository) LookupOrgByKey(ctx context.Context, lookup registry.Lookup, key string) (int64, bool, error) {
	query, args, err := r.dialect.
		From(lookup.Table).
		Select(goqu.C(lookup.OrgColumn)).
		Where(goqu.C(lookup.KeyColumn).Eq(key)).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, false, fmt.Errorf("build lookup query: %w", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	var orgID sql.NullInt64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&orgID)
	telemetry.LookupDurationSeconds.Observe(time.Since(start).Seconds())

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !orgID.Valid {
		return 0, false, nil
	}
	return orgID.Int64, true, nil
}

// Close closes the underlying database
func (r *SQLRepository) Close() error {
	return r.db.Close()
}
