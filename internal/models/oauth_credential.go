package models

import "time"

// OAuthCredential holds the provider tokens for one (user, provider) link.
// At most one live credential exists per (user, provider); refreshes mutate
// the row in place.
type OAuthCredential struct {
	ID                string     `gorm:"column:id;primaryKey"`
	UserID            string     `gorm:"column:user_id;uniqueIndex:uq_credential_user_provider"`
	Provider          string     `gorm:"column:provider;uniqueIndex:uq_credential_user_provider"`
	ProviderAccountID string     `gorm:"column:provider_account_id"`
	AccessToken       string     `gorm:"column:access_token"`
	RefreshToken      *string    `gorm:"column:refresh_token"`
	ExpiresAt         *time.Time `gorm:"column:expires_at"`
	Scope             *string    `gorm:"column:scope"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (OAuthCredential) TableName() string {
	return "oauth_credential"
}

// Renewable reports whether the credential can outlive its access token.
// A credential without a refresh token is single-use until expiry.
func (c *OAuthCredential) Renewable() bool {
	return c.RefreshToken != nil && *c.RefreshToken != ""
}

// ExpiresWithin reports whether the access token expires inside the given
// margin. A credential with no recorded expiry is treated as expired.
func (c *OAuthCredential) ExpiresWithin(margin time.Duration) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return time.Now().Add(margin).After(*c.ExpiresAt)
}
