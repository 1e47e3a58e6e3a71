package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenRepository defines the interface for registration token persistence.
type TokenRepository interface {
	// Create inserts a new registration token. The ID is generated if empty.
	Create(ctx context.Context, token *RegistrationToken) error

	// GetByHash retrieves a token by its hash.
	// Returns ErrTokenNotFound if no token matches.
	GetByHash(ctx context.Context, tokenHash string) (*RegistrationToken, error)

	// List returns all tokens, newest first.
	List(ctx context.Context) ([]RegistrationToken, error)

	// Delete removes a token by ID.
	Delete(ctx context.Context, id string) error

	// Consume atomically marks the token identified by rawToken as used by
	// hardwareKey and returns its placement hints. Exactly one caller can
	// ever succeed per token. Returns ErrTokenNotFound, ErrTokenConsumed,
	// ErrTokenExpired or ErrTokenMismatch on failure.
	Consume(ctx context.Context, rawToken, hardwareKey string, now time.Time) (*RegistrationToken, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// Create inserts a new registration token. The ID is generated if empty.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *RegistrationToken) error {
	if token.ID == "" {
		token.ID = "rtk-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	token.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO registration_tokens (id, token_hash, hardware_key, group_name, location, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token.ID, token.TokenHash, token.HardwareKey,
		nullString(token.Group), nullString(token.Location),
		now, nullTime(token.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("creating registration token: %w", err)
	}

	return nil
}

// GetByHash retrieves a token by its hash.
func (r *SQLiteTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*RegistrationToken, error) {
	return scanToken(r.db.QueryRowContext(ctx,
		`SELECT id, token_hash, hardware_key, group_name, location, created_at, expires_at, consumed_at, consumed_by
		 FROM registration_tokens WHERE token_hash = ?`, tokenHash))
}

// List returns all tokens, newest first.
func (r *SQLiteTokenRepository) List(ctx context.Context) ([]RegistrationToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, token_hash, hardware_key, group_name, location, created_at, expires_at, consumed_at, consumed_by
		 FROM registration_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing registration tokens: %w", err)
	}
	defer rows.Close()

	tokens := []RegistrationToken{}
	for rows.Next() {
		token, err := scanToken(rowsScanner{rows})
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registration tokens: %w", err)
	}

	return tokens, nil
}

// Delete removes a token by ID.
func (r *SQLiteTokenRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM registration_tokens WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting registration token: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// Consume atomically marks a token as used. The conditional UPDATE is the
// single-use guarantee: of two racing registrations presenting the same
// token, at most one statement can match the unconsumed row.
func (r *SQLiteTokenRepository) Consume(ctx context.Context, rawToken, hardwareKey string, now time.Time) (*RegistrationToken, error) {
	tokenHash := HashToken(rawToken)
	nowStr := now.UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		`UPDATE registration_tokens
		 SET consumed_at = ?, consumed_by = ?
		 WHERE token_hash = ?
		   AND consumed_at IS NULL
		   AND (expires_at IS NULL OR expires_at > ?)
		   AND (hardware_key = '' OR hardware_key = ?)`,
		nowStr, hardwareKey, tokenHash, nowStr, hardwareKey,
	)
	if err != nil {
		return nil, fmt.Errorf("consuming registration token: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return nil, r.classifyConsumeFailure(ctx, tokenHash, hardwareKey, now)
	}

	token, err := r.GetByHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// classifyConsumeFailure turns a zero-row consume into a specific error.
func (r *SQLiteTokenRepository) classifyConsumeFailure(ctx context.Context, tokenHash, hardwareKey string, now time.Time) error {
	token, err := r.GetByHash(ctx, tokenHash)
	if err != nil {
		return err
	}

	switch {
	case token.Consumed():
		return ErrTokenConsumed
	case token.Expired(now):
		return ErrTokenExpired
	case token.HardwareKey != "" && token.HardwareKey != hardwareKey:
		return ErrTokenMismatch
	default:
		return ErrTokenNotFound
	}
}

// rowsScanner adapts *sql.Rows to the single-row scan signature.
type rowsScanner struct {
	rows *sql.Rows
}

func (s rowsScanner) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

// scanner is implemented by sql.Row and rowsScanner.
type scanner interface {
	Scan(dest ...any) error
}

// scanToken scans a registration token row.
func scanToken(row scanner) (*RegistrationToken, error) {
	var t RegistrationToken
	var group, location, expiresAt, consumedAt, consumedBy sql.NullString
	var createdAt string

	err := row.Scan(&t.ID, &t.TokenHash, &t.HardwareKey, &group, &location,
		&createdAt, &expiresAt, &consumedAt, &consumedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("scanning registration token: %w", err)
	}

	t.Group = group.String
	t.Location = location.String
	t.ConsumedBy = consumedBy.String
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	if expiresAt.Valid {
		parsed, _ := time.Parse(time.RFC3339, expiresAt.String) //nolint:errcheck // format is controlled
		t.ExpiresAt = &parsed
	}
	if consumedAt.Valid {
		parsed, _ := time.Parse(time.RFC3339, consumedAt.String) //nolint:errcheck // format is controlled
		t.ConsumedAt = &parsed
	}

	return &t, nil
}

// nullString returns a sql.NullString, storing NULL for empty strings.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime returns a sql.NullString for an optional RFC3339 timestamp.
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
