package gcal

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/jspiv/calendpro-worker/internal/service"
)

// Provider is the provider key credentials and sources are stored under.
const Provider = "google"

var scopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/userinfo.email",
}

// OAuthClient implements the provider side of the OAuth flow for Google.
type OAuthClient struct {
	config *oauth2.Config
}

func NewOAuthClient(clientID, clientSecret, redirectURI string) *OAuthClient {
	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthCodeURL returns the consent URL. Offline access with forced consent so
// Google always issues a refresh token.
func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades the authorization code for tokens and resolves the Google
// account identifier they belong to.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*service.TokenResult, string, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	accountID, err := c.accountID(ctx, token)
	if err != nil {
		return nil, "", err
	}

	return tokenResult(token), accountID, nil
}

func (c *OAuthClient) accountID(ctx context.Context, token *oauth2.Token) (string, error) {
	svc, err := googleoauth2.NewService(ctx, option.WithTokenSource(c.config.TokenSource(ctx, token)))
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Do()
	if err != nil {
		return "", fmt.Errorf("failed to get user info: %w", err)
	}
	return info.Id, nil
}

// Refresh exchanges the refresh token for a new access token. A provider
// invalid_grant response means the user revoked access.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*service.TokenResult, error) {
	source := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, &service.AuthError{Reason: service.AuthRevokedByUser, Err: err}
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := tokenResult(token)
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken // Keep the same refresh token
	}
	return result, nil
}

func tokenResult(token *oauth2.Token) *service.TokenResult {
	result := &service.TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		result.Scope = scope
	}
	return result
}
