package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig configures the completion store pool.
type MySQLConfig struct {
	// DSN, e.g. "rexe:rexe@tcp(127.0.0.1:3306)/rexe?parseTime=true&loc=UTC".
	DSN                string        `yaml:"dsn"`
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
	// PingTimeout bounds the reachability check done on open.
	PingTimeout time.Duration `yaml:"pingTimeout"`
}

// DefaultMySQLConfig returns pool settings sized for one gateway or ingestor.
func DefaultMySQLConfig() *MySQLConfig {
	return &MySQLConfig{
		MaxOpenConnections: 25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    10 * time.Minute,
		PingTimeout:        5 * time.Second,
	}
}

func (c MySQLConfig) withDefaults() MySQLConfig {
	def := DefaultMySQLConfig()
	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = def.MaxOpenConnections
	}
	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = def.MaxIdleConnections
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	return c
}

// MySQL is a pooled MySQL handle.
type MySQL struct {
	db *sql.DB
}

// OpenMySQL opens the pool and fails fast when the server is unreachable.
func OpenMySQL(cfg MySQLConfig) (*MySQL, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}
	cfg = cfg.withDefaults()

	sqlDB, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	m := &MySQL{db: sqlDB}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := m.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return m, nil
}

func (m *MySQL) QueryRow(ctx context.Context, query string, args ...any) Row {
	return m.db.QueryRowContext(ctx, query, args...)
}

func (m *MySQL) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(mysqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQL) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t mysqlTx) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}
