package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"

	"rexe/internal/common/cache"
	"rexe/internal/common/db"
	appErr "rexe/pkg/errors"
)

type fakeRow struct {
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*int); ok {
		*p = 1
	}
	return nil
}

// fakeDB keeps completion rows in a set keyed like the unique constraint.
type fakeDB struct {
	rows     map[string]bool
	execErr  error
	queries  int
	commits  int
	rollback int
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string]bool)}
}

func rowKey(args ...any) string {
	return fmt.Sprint(args[0], "|", args[1], "|", args[2])
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	f.queries++
	if f.rows[rowKey(args...)] {
		return fakeRow{}
	}
	return fakeRow{err: fmt.Errorf("scan failed: %w", sql.ErrNoRows)}
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Tx) error) error {
	if err := fn(fakeTx{f}); err != nil {
		f.rollback++
		return err
	}
	f.commits++
	return nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

type fakeTx struct {
	db *fakeDB
}

func (t fakeTx) Exec(ctx context.Context, query string, args ...any) error {
	if t.db.execErr != nil {
		return t.db.execErr
	}
	k := rowKey(args...)
	if t.db.rows[k] {
		return fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'uk_completion'"})
	}
	t.db.rows[k] = true
	return nil
}

func TestCompletionRecordSwallowsDuplicate(t *testing.T) {
	fdb := newFakeDB()
	repo := NewCompletionRepository(fdb, nil)
	ctx := context.Background()
	c := &Completion{Username: "alice", SubmissionKey: "alice/a.cpp/cpp", Fingerprint: "fp"}

	inserted, err := repo.Record(ctx, c)
	if err != nil || !inserted {
		t.Fatalf("first record: inserted=%v err=%v", inserted, err)
	}
	inserted, err = repo.Record(ctx, c)
	if err != nil {
		t.Fatalf("duplicate must not fail: %v", err)
	}
	if inserted {
		t.Fatalf("duplicate must report inserted=false")
	}
	if fdb.commits != 2 || fdb.rollback != 0 {
		t.Fatalf("unexpected tx counts commits=%d rollbacks=%d", fdb.commits, fdb.rollback)
	}
}

func TestCompletionRecordFailsOnOtherErrors(t *testing.T) {
	fdb := newFakeDB()
	fdb.execErr = errors.New("connection reset")
	repo := NewCompletionRepository(fdb, nil)

	_, err := repo.Record(context.Background(), &Completion{Username: "a", SubmissionKey: "a/b/cpp", Fingerprint: "fp"})
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
	if fdb.rollback != 1 {
		t.Fatalf("expected rollback")
	}
}

func TestCompletionRecordValidates(t *testing.T) {
	repo := NewCompletionRepository(newFakeDB(), nil)
	if _, err := repo.Record(context.Background(), &Completion{Username: "a"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestCompletionExistsUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := cache.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	client, err := cache.NewRedisCacheWithConfig(cfg)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	fdb := newFakeDB()
	repo := NewCompletionRepository(fdb, client)
	ctx := context.Background()

	ok, err := repo.Exists(ctx, "alice", "alice/a.cpp/cpp", "fp")
	if err != nil || ok {
		t.Fatalf("expected no record, ok=%v err=%v", ok, err)
	}
	if _, err := repo.Record(ctx, &Completion{Username: "alice", SubmissionKey: "alice/a.cpp/cpp", Fingerprint: "fp"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	queries := fdb.queries
	ok, err = repo.Exists(ctx, "alice", "alice/a.cpp/cpp", "fp")
	if err != nil || !ok {
		t.Fatalf("expected record, ok=%v err=%v", ok, err)
	}
	if fdb.queries != queries {
		t.Fatalf("positive lookup should be served from cache")
	}
	if ok, _ := repo.Exists(ctx, "alice", "alice/a.cpp/cpp", "other"); ok {
		t.Fatalf("a different fingerprint must not match")
	}
}
