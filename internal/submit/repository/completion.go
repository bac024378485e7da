package repository

import (
	"context"
	"errors"
	"time"

	"rexe/internal/common/cache"
	"rexe/internal/common/db"
	appErr "rexe/pkg/errors"
)

const (
	defaultCompletionCacheTTL = 30 * time.Minute
	completionCacheKeyPrefix  = "rexe:completion:"
)

// Completion is the durable proof that the result for one fingerprint is stored.
// Rows are written once and never updated.
type Completion struct {
	Username      string
	SubmissionKey string
	Fingerprint   string
	CreatedAt     time.Time
}

// CompletionRepository persists completion records.
type CompletionRepository interface {
	// Record inserts c. A duplicate is reported as inserted=false with a nil error.
	Record(ctx context.Context, c *Completion) (bool, error)
	Exists(ctx context.Context, username, submissionKey, fingerprint string) (bool, error)
}

// MySQLCompletionRepository implements CompletionRepository with MySQL.
// Positive lookups are cached; records are immutable so hits never go stale.
type MySQLCompletionRepository struct {
	db    db.Database
	cache cache.BasicOps
	ttl   time.Duration
}

// NewCompletionRepository creates a completion repository with defaults.
func NewCompletionRepository(database db.Database, cacheClient cache.BasicOps) *MySQLCompletionRepository {
	return NewCompletionRepositoryWithTTL(database, cacheClient, defaultCompletionCacheTTL)
}

// NewCompletionRepositoryWithTTL creates a completion repository with a custom cache TTL.
func NewCompletionRepositoryWithTTL(database db.Database, cacheClient cache.BasicOps, ttl time.Duration) *MySQLCompletionRepository {
	if ttl <= 0 {
		ttl = defaultCompletionCacheTTL
	}
	return &MySQLCompletionRepository{db: database, cache: cacheClient, ttl: ttl}
}

// Record inserts a completion record inside a transaction.
func (r *MySQLCompletionRepository) Record(ctx context.Context, c *Completion) (bool, error) {
	if c == nil {
		return false, errors.New("completion is nil")
	}
	if c.Username == "" || c.SubmissionKey == "" || c.Fingerprint == "" {
		return false, errors.New("username, submission key and fingerprint are required")
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	inserted := false
	err := r.db.Transaction(ctx, func(tx db.Tx) error {
		query := `
			INSERT INTO completions (username, submission_key, fingerprint, created_at)
			VALUES (?, ?, ?, ?)
		`
		if err := tx.Exec(ctx, query, c.Username, c.SubmissionKey, c.Fingerprint, createdAt.UTC()); err != nil {
			if _, ok := db.UniqueViolation(err); ok {
				return nil
			}
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "record completion failed")
	}
	r.setCache(ctx, c.Username, c.SubmissionKey, c.Fingerprint)
	return inserted, nil
}

// Exists reports whether a completion record matches exactly.
func (r *MySQLCompletionRepository) Exists(ctx context.Context, username, submissionKey, fingerprint string) (bool, error) {
	if username == "" || submissionKey == "" || fingerprint == "" {
		return false, nil
	}
	if r.cache != nil {
		n, err := r.cache.Exists(ctx, completionCacheKey(username, submissionKey, fingerprint))
		if err == nil && n > 0 {
			return true, nil
		}
	}

	query := `
		SELECT 1 FROM completions
		WHERE username = ? AND submission_key = ? AND fingerprint = ?
		LIMIT 1
	`
	var one int
	if err := r.db.QueryRow(ctx, query, username, submissionKey, fingerprint).Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, appErr.Wrapf(err, appErr.DatabaseError, "query completion failed")
	}
	r.setCache(ctx, username, submissionKey, fingerprint)
	return true, nil
}

func (r *MySQLCompletionRepository) setCache(ctx context.Context, username, submissionKey, fingerprint string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Set(ctx, completionCacheKey(username, submissionKey, fingerprint), "1", cache.JitterTTL(r.ttl))
}

func completionCacheKey(username, submissionKey, fingerprint string) string {
	return completionCacheKeyPrefix + username + ":" + submissionKey + ":" + fingerprint
}
