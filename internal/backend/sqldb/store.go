// Package sqldb implements backend.Backend directly over SQL.
//
// On PostgreSQL the two procedures are expected to exist in the database (the
// same functions Supabase exposes over REST) and are called with named
// arguments. On SQLite, used for local development, the schema is created and
// seeded at open and the procedures are emulated with plain queries.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/backend"
)

// createdAtLayout sorts lexically in chronological order.
const createdAtLayout = "2006-01-02T15:04:05.000000Z07:00"

// Config holds database connection configuration.
type Config struct {
	Driver string // sqlite or postgres
	DSN    string
}

// Store is a SQL implementation of backend.Backend.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	now     func() time.Time
}

var _ backend.Backend = (*Store)(nil)

// New opens the database, verifies the connection and, for SQLite, creates
// and seeds the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	d, err := DialectFromDriver(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.Name() == "sqlite" {
		// One connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d, now: time.Now}

	if d.Name() == "sqlite" {
		if err := store.initSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return store, nil
}

// NewSQLite opens a SQLite database at path.
func NewSQLite(ctx context.Context, path string) (*Store, error) {
	return New(ctx, Config{Driver: "sqlite", DSN: path})
}

// DB returns the underlying sqlx.DB.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close implements backend.Backend.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecommendLifeInsurance implements backend.Backend.
func (s *Store) RecommendLifeInsurance(ctx context.Context, p backend.RecommendationParams) (json.RawMessage, error) {
	if s.dialect.Name() == "sqlite" {
		dependents := 0
		if p.Dependents != nil {
			dependents = *p.Dependents
		}
		return s.queryJSON(ctx, backend.ProcRecommendation, sqliteRecommendQuery,
			p.RiskTolerance, p.Age, p.Income, dependents)
	}

	args := []string{"input_age => ?", "input_income => ?"}
	vals := []any{p.Age, p.Income}
	if p.Dependents != nil {
		args = append(args, "input_dependents => ?")
		vals = append(vals, *p.Dependents)
	}
	args = append(args, "input_risk_tolerance => ?")
	vals = append(vals, p.RiskTolerance)

	query := fmt.Sprintf(`SELECT COALESCE(json_agg(r), '[]'::json) FROM %s(%s) r`,
		backend.ProcRecommendation, strings.Join(args, ", "))
	return s.queryJSON(ctx, backend.ProcRecommendation, query, vals...)
}

// ListUserRequests implements backend.Backend.
func (s *Store) ListUserRequests(ctx context.Context) (json.RawMessage, error) {
	if s.dialect.Name() == "sqlite" {
		return s.queryJSON(ctx, backend.ProcUserRequests, sqliteUserRequestsQuery)
	}
	query := fmt.Sprintf(`SELECT COALESCE(json_agg(r), '[]'::json) FROM %s() r`, backend.ProcUserRequests)
	return s.queryJSON(ctx, backend.ProcUserRequests, query)
}

// InsertUserInput implements backend.Backend.
func (s *Store) InsertUserInput(ctx context.Context, in backend.UserInput) error {
	var recs, dependents any
	if len(in.Recommendations) > 0 {
		recs = string(in.Recommendations)
	}
	if in.Dependents != nil {
		dependents = *in.Dependents
	}

	var (
		query string
		args  []any
	)
	if s.dialect.Name() == "sqlite" {
		query = `INSERT INTO user_inputs (id, age, income, dependents, risk_tolerance, ip_address, recommendations, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		args = []any{uuid.NewString(), in.Age, in.Income, dependents, in.RiskTolerance, in.IPAddress, recs,
			s.now().UTC().Format(createdAtLayout)}
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (age, income, dependents, risk_tolerance, ip_address, recommendations)
VALUES (?, ?, ?, ?, ?, %s)`, backend.TableUserInputs, s.dialect.JSONParam())
		args = []any{in.Age, in.Income, dependents, in.RiskTolerance, in.IPAddress, recs}
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...); err != nil {
		return wrapError(backend.TableUserInputs, err)
	}
	return nil
}

func (s *Store) queryJSON(ctx context.Context, op, query string, args ...any) (json.RawMessage, error) {
	var out []byte
	if err := s.db.QueryRowxContext(ctx, s.dialect.Rebind(query), args...).Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return json.RawMessage("[]"), nil
		}
		return nil, wrapError(op, err)
	}
	if len(out) == 0 {
		return json.RawMessage("[]"), nil
	}
	if !json.Valid(out) {
		return nil, &backend.Error{Op: op, Message: "invalid JSON in result"}
	}
	return json.RawMessage(out), nil
}

// wrapError converts a driver error into a *backend.Error, keeping the
// PostgreSQL error fields when present.
func wrapError(op string, err error) *backend.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &backend.Error{
			Op:      op,
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Details: pgErr.Detail,
			Hint:    pgErr.Hint,
			Err:     err,
		}
	}
	return &backend.Error{Op: op, Message: err.Error(), Err: err}
}
