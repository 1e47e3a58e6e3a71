package auth

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates an in-memory SQLite database with the registration_tokens table.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE registration_tokens (
			id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL UNIQUE,
			hardware_key TEXT NOT NULL DEFAULT '',
			group_name TEXT,
			location TEXT,
			created_at TEXT NOT NULL,
			expires_at TEXT,
			consumed_at TEXT,
			consumed_by TEXT
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func mintToken(t *testing.T, repo TokenRepository, hardwareKey string) (raw string, token *RegistrationToken) {
	t.Helper()

	raw, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	token = &RegistrationToken{
		TokenHash:   HashToken(raw),
		HardwareKey: hardwareKey,
		Group:       "lobby",
		Location:    "front desk",
	}
	if err := repo.Create(context.Background(), token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return raw, token
}

func TestTokenRepository_CreateAndGet(t *testing.T) {
	repo := NewTokenRepository(testDB(t))
	ctx := context.Background()

	raw, token := mintToken(t, repo, "AA:BB")

	if token.ID == "" {
		t.Error("Create() did not generate an ID")
	}

	got, err := repo.GetByHash(ctx, HashToken(raw))
	if err != nil {
		t.Fatalf("GetByHash() error = %v", err)
	}
	if got.HardwareKey != "AA:BB" {
		t.Errorf("HardwareKey = %q, want %q", got.HardwareKey, "AA:BB")
	}
	if got.Group != "lobby" || got.Location != "front desk" {
		t.Errorf("hints = %q/%q, want lobby/front desk", got.Group, got.Location)
	}
	if got.Consumed() {
		t.Error("fresh token reported as consumed")
	}

	if _, err := repo.GetByHash(ctx, HashToken("never-minted")); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("GetByHash() for unknown hash error = %v, want ErrTokenNotFound", err)
	}
}

func TestTokenRepository_Consume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("succeeds once and returns hints", func(t *testing.T) {
		repo := NewTokenRepository(testDB(t))
		raw, _ := mintToken(t, repo, "AA:BB")

		token, err := repo.Consume(ctx, raw, "AA:BB", now)
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
		if token.Group != "lobby" {
			t.Errorf("Group = %q, want %q", token.Group, "lobby")
		}
		if !token.Consumed() {
			t.Error("token not marked consumed")
		}
		if token.ConsumedBy != "AA:BB" {
			t.Errorf("ConsumedBy = %q, want %q", token.ConsumedBy, "AA:BB")
		}

		if _, err := repo.Consume(ctx, raw, "AA:BB", now); !errors.Is(err, ErrTokenConsumed) {
			t.Errorf("second Consume() error = %v, want ErrTokenConsumed", err)
		}
	})

	t.Run("wildcard token works for any hardware key", func(t *testing.T) {
		repo := NewTokenRepository(testDB(t))
		raw, _ := mintToken(t, repo, "")

		if _, err := repo.Consume(ctx, raw, "CC:DD", now); err != nil {
			t.Errorf("Consume() error = %v", err)
		}
	})

	t.Run("bound token rejects other hardware keys", func(t *testing.T) {
		repo := NewTokenRepository(testDB(t))
		raw, _ := mintToken(t, repo, "AA:BB")

		if _, err := repo.Consume(ctx, raw, "CC:DD", now); !errors.Is(err, ErrTokenMismatch) {
			t.Errorf("Consume() error = %v, want ErrTokenMismatch", err)
		}

		// The failed attempt must not have consumed the token.
		if _, err := repo.Consume(ctx, raw, "AA:BB", now); err != nil {
			t.Errorf("Consume() by bound key error = %v", err)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		repo := NewTokenRepository(testDB(t))
		raw, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		expiry := now.Add(-time.Hour)
		if err := repo.Create(ctx, &RegistrationToken{
			TokenHash: HashToken(raw),
			ExpiresAt: &expiry,
		}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if _, err := repo.Consume(ctx, raw, "AA:BB", now); !errors.Is(err, ErrTokenExpired) {
			t.Errorf("Consume() error = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("unknown token is rejected", func(t *testing.T) {
		repo := NewTokenRepository(testDB(t))
		if _, err := repo.Consume(ctx, "never-minted", "AA:BB", now); !errors.Is(err, ErrTokenNotFound) {
			t.Errorf("Consume() error = %v, want ErrTokenNotFound", err)
		}
	})
}

// TestTokenRepository_ConsumeRace hammers one token from many goroutines;
// exactly one consume may succeed.
func TestTokenRepository_ConsumeRace(t *testing.T) {
	repo := NewTokenRepository(testDB(t))
	raw, _ := mintToken(t, repo, "")
	now := time.Now().UTC()

	var wg sync.WaitGroup
	successes := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume(context.Background(), raw, "AA:BB", now); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("token consumed %d times, want exactly 1", count)
	}
}

func TestTokenRepository_ListAndDelete(t *testing.T) {
	repo := NewTokenRepository(testDB(t))
	ctx := context.Background()

	tokens, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("List() on empty table returned %d tokens", len(tokens))
	}

	_, first := mintToken(t, repo, "AA:BB")
	_, _ = mintToken(t, repo, "CC:DD")

	tokens, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("List() returned %d tokens, want 2", len(tokens))
	}

	if err := repo.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, first.ID); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("second Delete() error = %v, want ErrTokenNotFound", err)
	}
}

func TestHashToken(t *testing.T) {
	if HashToken("abc") == HashToken("abd") {
		t.Error("different tokens produced the same hash")
	}
	if HashToken("abc") != HashToken("abc") {
		t.Error("hash is not deterministic")
	}
	if len(HashToken("abc")) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(HashToken("abc")))
	}
}
