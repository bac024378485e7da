package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return raw
}

func TestFromToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signed(t, jwt.MapClaims{"username": "alice", "exp": exp.Unix()})
	st, err := FromToken(raw)
	if err != nil {
		t.Fatalf("from token failed: %v", err)
	}
	if st.Username != "alice" || !st.ExpiresAt.Equal(exp) || st.AccessToken != raw {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.Expired(exp.Add(-time.Minute)) || !st.Expired(exp) {
		t.Fatalf("unexpected expiry evaluation")
	}
}

func TestFromTokenRejectsGarbage(t *testing.T) {
	if _, err := FromToken("not-a-token"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	want := TokenState{AccessToken: "tok", Username: "bob"}
	if err := Save(path, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.AccessToken != "tok" || got.Username != "bob" {
		t.Fatalf("unexpected state %+v", got)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	got, err = Load(path)
	if err != nil || got.AccessToken != "" {
		t.Fatalf("expected empty state after clear, got %+v %v", got, err)
	}
}
