// Package apikey manages session tokens. Raw tokens are generated with
// crypto/rand and only their SHA-256 digest is stored; each token belongs
// to an owner and carries a role and a per-minute request limit.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/postgres"
)

var (
	ErrInvalidKey = errors.New("invalid session token")
	ErrExpiredKey = errors.New("session token expired")
)

// DefaultRateLimit is used when a token is created without one.
const DefaultRateLimit = 100

// KeyInfo holds metadata about a token. The hash is never exposed.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	OwnerID   string     `json:"ownerId"`
	Role      string     `json:"role"`
	RateLimit int        `json:"rateLimit"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Principal converts a validated token into the request principal.
func (k *KeyInfo) Principal() auth.Principal {
	return auth.Principal{KeyID: k.ID, OwnerID: k.OwnerID, Role: k.Role, RateLimit: k.RateLimit}
}

// NewKey describes a token to create.
type NewKey struct {
	Name      string
	OwnerID   string
	Role      string
	RateLimit int
	ExpiresAt *time.Time
}

// Validator checks tokens against the api_keys table.
type Validator struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewValidator(db *postgres.Client) *Validator {
	return &Validator{
		db:     db,
		logger: slog.Default().With("component", "session-tokens"),
	}
}

// Validate returns the token's metadata, or ErrInvalidKey / ErrExpiredKey.
func (v *Validator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	var info KeyInfo
	var expiresAt sql.NullTime
	err := v.db.DB.QueryRowContext(ctx,
		`SELECT id, name, owner_id, role, rate_limit, is_active, created_at, expires_at
		 FROM api_keys
		 WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	).Scan(&info.ID, &info.Name, &info.OwnerID, &info.Role, &info.RateLimit, &info.IsActive, &info.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying session token: %w", err)
	}
	if expiresAt.Valid {
		if expiresAt.Time.Before(time.Now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// CreateKey stores a new token and returns the raw value, which cannot be
// recovered later.
func (v *Validator) CreateKey(ctx context.Context, k NewKey) (string, error) {
	if k.OwnerID == "" {
		return "", fmt.Errorf("owner id is required")
	}
	if k.Role == "" {
		k.Role = "user"
	}
	if k.RateLimit <= 0 {
		k.RateLimit = DefaultRateLimit
	}
	rawKey, err := generateRawKey()
	if err != nil {
		return "", err
	}
	var expiry sql.NullTime
	if k.ExpiresAt != nil {
		expiry = sql.NullTime{Time: *k.ExpiresAt, Valid: true}
	}
	_, err = v.db.DB.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, name, owner_id, role, rate_limit, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		HashKey(rawKey), k.Name, k.OwnerID, k.Role, k.RateLimit, expiry,
	)
	if err != nil {
		return "", fmt.Errorf("creating session token: %w", err)
	}
	v.logger.Info("session token created", "name", k.Name, "owner_id", k.OwnerID, "role", k.Role)
	return rawKey, nil
}

// RevokeKey deactivates a token.
func (v *Validator) RevokeKey(ctx context.Context, rawKey string) error {
	result, err := v.db.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	)
	if err != nil {
		return fmt.Errorf("revoking session token: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrInvalidKey
	}
	v.logger.Info("session token revoked")
	return nil
}

// ListKeys returns active tokens, newest first. An empty ownerID lists every
// owner.
func (v *Validator) ListKeys(ctx context.Context, ownerID string) ([]KeyInfo, error) {
	rows, err := v.db.DB.QueryContext(ctx,
		`SELECT id, name, owner_id, role, rate_limit, is_active, created_at, expires_at
		 FROM api_keys
		 WHERE is_active = true AND ($1 = '' OR owner_id = $1)
		 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing session tokens: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var k KeyInfo
		var expiresAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.OwnerID, &k.Role, &k.RateLimit, &k.IsActive, &k.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning session token row: %w", err)
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HashKey returns the SHA-256 hex digest of a raw token.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
