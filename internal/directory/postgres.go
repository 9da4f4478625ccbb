package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockcrawler/internal/models"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "companies"

var companyColumns = []string{
	"symbol", "name", "last_sale", "market_cap", "ipo_year", "sector", "industry", "summary_quote_url",
}

// pgxPool is the subset of *pgxpool.Pool the store needs.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresConfig controls the pool used by PostgresStore.
type PostgresConfig struct {
	DSN      string
	Table    string
	MaxConns int32
}

// PostgresStore keeps the directory in a Postgres table.
type PostgresStore struct {
	pool  pgxPool
	table string
}

// NewPostgresStore connects to cfg.DSN and creates the table if it is missing.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("directory.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, unavailable("connect postgres", err)
	}
	s, err := NewPostgresStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresStoreWithPool(pool pgxPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the companies table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	symbol TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	last_sale TEXT NOT NULL DEFAULT '',
	market_cap TEXT NOT NULL DEFAULT '',
	ipo_year TEXT NOT NULL DEFAULT '',
	sector TEXT NOT NULL DEFAULT '',
	industry TEXT NOT NULL DEFAULT '',
	summary_quote_url TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return unavailable("create companies table", err)
	}
	return nil
}

// Resolve implements Directory.
func (s *PostgresStore) Resolve(ctx context.Context, symbols []string) (Resolution, error) {
	cols := strings.Join(companyColumns, ", ")

	if WantsAll(symbols) {
		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY symbol", cols, s.table)
		companies, err := s.query(ctx, query)
		if err != nil {
			return Resolution{}, err
		}
		return newIndex(companies).resolve(nil), nil
	}

	want := requested(symbols)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE upper(symbol) = ANY($1)", cols, s.table)
	companies, err := s.query(ctx, query, want)
	if err != nil {
		return Resolution{}, err
	}
	return newIndex(companies).resolve(want), nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]models.Company, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query companies", err)
	}
	defer rows.Close()

	var out []models.Company
	for rows.Next() {
		var c models.Company
		if err := rows.Scan(&c.Symbol, &c.Name, &c.LastSale, &c.MarketCap, &c.IPOYear, &c.Sector, &c.Industry, &c.SummaryQuoteURL); err != nil {
			return nil, unavailable("scan company", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate companies", err)
	}
	return out, nil
}

// Replace deletes every row and copies the new list inside one transaction,
// so readers see either the old list or the new one.
func (s *PostgresStore) Replace(ctx context.Context, companies []models.Company) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin replace", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("clear companies: %w", err)
	}

	idx := newIndex(companies)
	rows := make([][]any, 0, len(idx.sorted))
	for _, c := range idx.sorted {
		rows = append(rows, []any{c.Symbol, c.Name, c.LastSale, c.MarketCap, c.IPOYear, c.Sector, c.Industry, c.SummaryQuoteURL})
	}
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{s.table}, companyColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy companies: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
