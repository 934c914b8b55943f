package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fleetlink-io/fleetlink/internal/db"
	"github.com/fleetlink-io/fleetlink/internal/identity"
)

// gormTokenStore is the GORM implementation of TokenStore.
type gormTokenStore struct {
	db *gorm.DB
}

// NewTokenStore returns a TokenStore backed by the provided *gorm.DB.
func NewTokenStore(database *gorm.DB) TokenStore {
	return &gormTokenStore{db: database}
}

func (s *gormTokenStore) Insert(ctx context.Context, token identity.Token, hostname identity.Hostname, role identity.Role) error {
	row := db.APIToken{
		Token:     token.String(),
		CreatedAt: time.Now().UTC(),
		Hostname:  hostname.String(),
		Role:      role.String(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("tokens: insert: %w", err)
	}
	return nil
}

func (s *gormTokenStore) Delete(ctx context.Context, hostname identity.Hostname, role identity.Role) error {
	err := s.db.WithContext(ctx).
		Where("hostname = ? AND role = ?", hostname.String(), role.String()).
		Delete(&db.APIToken{}).Error
	if err != nil {
		return fmt.Errorf("tokens: delete: %w", err)
	}
	return nil
}

// Verify walks the role chain: the stored role must equal or dominate the
// required role. Unknown tokens and tokens with an insufficient role are
// indistinguishable to the caller, both are ErrUnauthorizedToken.
func (s *gormTokenStore) Verify(ctx context.Context, raw string, required identity.Role) (identity.Hostname, error) {
	token, err := identity.ParseToken(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var row db.APIToken
	err = s.db.WithContext(ctx).First(&row, "token = ?", token.String()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUnauthorizedToken
		}
		return "", fmt.Errorf("tokens: verify: %w", err)
	}

	role, err := identity.ParseRole(row.Role)
	if err != nil {
		return "", fmt.Errorf("tokens: verify: stored role: %w", err)
	}
	if !role.Grants(required) {
		return "", ErrUnauthorizedToken
	}

	hostname, err := identity.ParseHostname(row.Hostname)
	if err != nil {
		return "", fmt.Errorf("tokens: verify: stored hostname: %w", err)
	}
	return hostname, nil
}
