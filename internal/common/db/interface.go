package db

import "context"

// Database is the relational store behind completion records. Rows are only
// ever inserted inside a transaction and looked up one at a time.
type Database interface {
	QueryRow(ctx context.Context, query string, args ...any) Row
	// Transaction runs fn and commits when it returns nil, rolling back otherwise.
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is an open transaction.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// Row is the result of a single-row lookup.
type Row interface {
	Scan(dest ...any) error
}
