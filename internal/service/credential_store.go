package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jspiv/calendpro-worker/internal/models"
	"github.com/jspiv/calendpro-worker/internal/repository"
	"golang.org/x/sync/singleflight"
)

const (
	// RefreshMargin is the safety window before expiry inside which a
	// credential is refreshed before being handed out.
	RefreshMargin = 60 * time.Second

	stateTTL = 10 * time.Minute
)

// TokenResult carries the provider tokens returned by an exchange or refresh.
type TokenResult struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	ExpiresAt    time.Time
	Scope        string
}

// OAuthProvider performs the provider-side OAuth operations. Exchange also
// resolves the provider's account identifier for the granted tokens.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*TokenResult, string, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResult, error)
}

// CredentialRepo is the persistence interface the store depends on
type CredentialRepo interface {
	GetByUserProvider(ctx context.Context, userID, provider string) (*models.OAuthCredential, error)
	GetByID(ctx context.Context, id string) (*models.OAuthCredential, error)
	ListByUser(ctx context.Context, userID string) ([]models.OAuthCredential, error)
	Upsert(ctx context.Context, cred *models.OAuthCredential) error
	UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiresAt *time.Time) error
	Delete(ctx context.Context, userID, provider string) error
	DeleteByID(ctx context.Context, id string) error
}

// ProviderAccount describes one linked provider account for status listings.
type ProviderAccount struct {
	Provider          string
	ProviderAccountID string
	ExpiresAt         *time.Time
	Scope             *string
}

// CredentialStore owns the OAuth credential lifecycle for one provider:
// authorization, token storage, coalesced refresh, and disconnect.
type CredentialStore struct {
	repo        CredentialRepo
	oauth       OAuthProvider
	provider    string
	stateSecret []byte
	group       singleflight.Group
}

func NewCredentialStore(repo CredentialRepo, oauth OAuthProvider, provider, stateSecret string) *CredentialStore {
	return &CredentialStore{
		repo:        repo,
		oauth:       oauth,
		provider:    provider,
		stateSecret: []byte(stateSecret),
	}
}

// AuthorizeURL returns the provider consent URL with a state parameter bound
// to the user.
func (s *CredentialStore) AuthorizeURL(userID string) string {
	return s.oauth.AuthCodeURL(s.signState(userID, time.Now()))
}

// HandleCallback validates the OAuth state, exchanges the authorization code,
// and stores the resulting credential. Returns the user the state was bound to.
func (s *CredentialStore) HandleCallback(ctx context.Context, code, state string) (string, error) {
	userID, err := s.verifyState(state, time.Now())
	if err != nil {
		return "", &AuthError{Reason: AuthRefreshFailed, Err: fmt.Errorf("invalid state: %w", err)}
	}

	tokens, providerAccountID, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if err := s.Store(ctx, userID, providerAccountID, tokens); err != nil {
		return "", err
	}

	log.Printf("Linked %s account %s for user %s", s.provider, providerAccountID, userID)
	return userID, nil
}

// Store upserts the credential for (user, provider)
func (s *CredentialStore) Store(ctx context.Context, userID, providerAccountID string, tokens *TokenResult) error {
	now := time.Now()
	cred := &models.OAuthCredential{
		ID:                uuid.New().String(),
		UserID:            userID,
		Provider:          s.provider,
		ProviderAccountID: providerAccountID,
		AccessToken:       tokens.AccessToken,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if tokens.RefreshToken != "" {
		cred.RefreshToken = &tokens.RefreshToken
	}
	if !tokens.ExpiresAt.IsZero() {
		expiresAt := tokens.ExpiresAt
		cred.ExpiresAt = &expiresAt
	}
	if tokens.Scope != "" {
		scope := tokens.Scope
		cred.Scope = &scope
	}

	if err := s.repo.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetValidCredential returns a credential guaranteed non-expired at return
// time, refreshing it first when expiry falls inside the safety margin.
func (s *CredentialStore) GetValidCredential(ctx context.Context, userID, provider string) (*models.OAuthCredential, error) {
	cred, err := s.repo.GetByUserProvider(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, &AuthError{Reason: AuthNotLinked, Err: err}
		}
		return nil, err
	}

	if !cred.ExpiresWithin(RefreshMargin) {
		return cred, nil
	}

	return s.refresh(ctx, cred.ID)
}

// refresh exchanges the refresh token for new access tokens. Concurrent
// refreshes of the same credential collapse into a single provider call and
// every caller receives its result.
func (s *CredentialStore) refresh(ctx context.Context, credentialID string) (*models.OAuthCredential, error) {
	v, err, _ := s.group.Do(credentialID, func() (interface{}, error) {
		cred, err := s.repo.GetByID(ctx, credentialID)
		if err != nil {
			if errors.Is(err, repository.ErrCredentialNotFound) {
				return nil, &AuthError{Reason: AuthNotLinked, Err: err}
			}
			return nil, err
		}

		// Another caller in this flight may already have refreshed.
		if !cred.ExpiresWithin(RefreshMargin) {
			return cred, nil
		}

		if !cred.Renewable() {
			return nil, &AuthError{Reason: AuthRefreshFailed, Err: errors.New("credential has no refresh token")}
		}

		tokens, err := s.oauth.Refresh(ctx, *cred.RefreshToken)
		if err != nil {
			if IsAuthError(err, AuthRevokedByUser) {
				if delErr := s.repo.DeleteByID(ctx, cred.ID); delErr != nil {
					log.Printf("Failed to delete revoked credential %s: %v", cred.ID, delErr)
				}
				log.Printf("Credential %s revoked by user, removed", cred.ID)
				return nil, err
			}
			return nil, &AuthError{Reason: AuthRefreshFailed, Err: err}
		}

		refreshToken := cred.RefreshToken
		if tokens.RefreshToken != "" && (refreshToken == nil || tokens.RefreshToken != *refreshToken) {
			refreshToken = &tokens.RefreshToken
		}
		expiresAt := tokens.ExpiresAt

		if err := s.repo.UpdateTokens(ctx, cred.ID, tokens.AccessToken, refreshToken, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
		}

		cred.AccessToken = tokens.AccessToken
		cred.RefreshToken = refreshToken
		cred.ExpiresAt = &expiresAt
		cred.UpdatedAt = time.Now()

		log.Printf("Token refreshed for credential %s, expires at %s", cred.ID, expiresAt)
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.OAuthCredential), nil
}

// Disconnect removes the credential. Any sync holding it observes an auth
// error on its next provider call and ends in error status. Idempotent.
func (s *CredentialStore) Disconnect(ctx context.Context, userID string) error {
	err := s.repo.Delete(ctx, userID, s.provider)
	if err != nil && !errors.Is(err, repository.ErrCredentialNotFound) {
		return err
	}
	log.Printf("Disconnected %s for user %s", s.provider, userID)
	return nil
}

// ConnectionStatus lists the user's linked provider accounts
func (s *CredentialStore) ConnectionStatus(ctx context.Context, userID string) ([]ProviderAccount, error) {
	creds, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	accounts := make([]ProviderAccount, 0, len(creds))
	for _, cred := range creds {
		accounts = append(accounts, ProviderAccount{
			Provider:          cred.Provider,
			ProviderAccountID: cred.ProviderAccountID,
			ExpiresAt:         cred.ExpiresAt,
			Scope:             cred.Scope,
		})
	}
	return accounts, nil
}

// signState binds an expiring random state value to the user with an HMAC.
func (s *CredentialStore) signState(userID string, now time.Time) string {
	payload := fmt.Sprintf("%s|%s|%d", userID, uuid.New().String(), now.Add(stateTTL).Unix())
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + s.mac(payload)
}

func (s *CredentialStore) verifyState(state string, now time.Time) (string, error) {
	encoded, sig, ok := strings.Cut(state, ".")
	if !ok {
		return "", errors.New("malformed state")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.New("malformed state")
	}
	payload := string(raw)

	if !hmac.Equal([]byte(sig), []byte(s.mac(payload))) {
		return "", errors.New("state signature mismatch")
	}

	parts := strings.Split(payload, "|")
	if len(parts) != 3 {
		return "", errors.New("malformed state payload")
	}

	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || now.Unix() > expiry {
		return "", errors.New("state expired")
	}

	return parts[0], nil
}

func (s *CredentialStore) mac(payload string) string {
	h := hmac.New(sha256.New, s.stateSecret)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
