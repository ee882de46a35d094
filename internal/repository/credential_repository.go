package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jspiv/calendpro-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCredentialNotFound = errors.New("credential not found")

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetByUserProvider retrieves the live credential for a (user, provider) pair
func (r *CredentialRepository) GetByUserProvider(ctx context.Context, userID, provider string) (*models.OAuthCredential, error) {
	var cred models.OAuthCredential
	result := r.db.WithContext(ctx).First(&cred, "user_id = ? AND provider = ?", userID, provider)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", result.Error)
	}
	return &cred, nil
}

// GetByID retrieves a credential by primary key
func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*models.OAuthCredential, error) {
	var cred models.OAuthCredential
	result := r.db.WithContext(ctx).First(&cred, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", result.Error)
	}
	return &cred, nil
}

// ListByUser retrieves all credentials linked to a user
func (r *CredentialRepository) ListByUser(ctx context.Context, userID string) ([]models.OAuthCredential, error) {
	var creds []models.OAuthCredential
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("provider ASC").
		Find(&creds)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", result.Error)
	}
	return creds, nil
}

// Upsert inserts the credential or replaces the tokens of the existing
// (user, provider) row
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.OAuthCredential) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_account_id", "access_token", "refresh_token", "expires_at", "scope", "updated_at",
		}),
	}).Create(cred)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert credential: %w", result.Error)
	}
	return nil
}

// UpdateTokens replaces the access token, refresh token, and expiry after a refresh
func (r *CredentialRepository) UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.OAuthCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_at":    expiresAt,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Delete removes the credential for a (user, provider) pair
func (r *CredentialRepository) Delete(ctx context.Context, userID, provider string) error {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&models.OAuthCredential{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete credential: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// DeleteByID removes a credential by primary key. Used when the provider
// reports the refresh token as revoked.
func (r *CredentialRepository) DeleteByID(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.OAuthCredential{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete credential: %w", result.Error)
	}
	return nil
}
