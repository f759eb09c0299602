package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

var (
	ErrNotFound            = errors.New("entity not found")
	ErrUnavailable         = errors.New("store unavailable")
	ErrConstraintViolation = errors.New("constraint violation")
)

// StoreError carries the failed operation and its kind, either ErrUnavailable or ErrConstraintViolation.
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%v: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == e.Kind
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := ErrUnavailable
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
		kind = ErrConstraintViolation
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

type DB struct {
	db      *bun.DB
	timeout time.Duration
}

const (
	defaultTimeout  = time.Minute
	upsertChunkSize = 500
	maxOpenConns    = 8
	connMaxIdleTime = 5 * time.Minute
)

// New opens a pooled connection to PostgreSQL. The DSN is a postgres:// URL.
func New(dsn string) *DB {
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
	)
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(maxOpenConns)
	sqldb.SetConnMaxIdleTime(connMaxIdleTime)
	db := bun.NewDB(sqldb, pgdialect.New())
	return &DB{db: db, timeout: defaultTimeout}
}

func (d *DB) SetTimeout(duration time.Duration) {
	d.timeout = duration
}

func (d *DB) EnableDebug() {
	d.db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
}

func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return storeError("ping", d.db.PingContext(ctx))
}

func (d *DB) Close() error {
	return d.db.Close()
}
