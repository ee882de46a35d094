package models

import (
	"testing"
	"time"
)

func TestOAuthCredential_Renewable(t *testing.T) {
	token := "refresh-1"
	empty := ""

	cases := []struct {
		name string
		cred OAuthCredential
		want bool
	}{
		{"with refresh token", OAuthCredential{RefreshToken: &token}, true},
		{"nil refresh token", OAuthCredential{}, false},
		{"empty refresh token", OAuthCredential{RefreshToken: &empty}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cred.Renewable(); got != tc.want {
				t.Errorf("Renewable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOAuthCredential_ExpiresWithin(t *testing.T) {
	farFuture := time.Now().Add(time.Hour)
	soon := time.Now().Add(30 * time.Second)
	past := time.Now().Add(-time.Minute)

	cases := []struct {
		name string
		cred OAuthCredential
		want bool
	}{
		{"no expiry recorded", OAuthCredential{}, true},
		{"expires far in the future", OAuthCredential{ExpiresAt: &farFuture}, false},
		{"expires inside the margin", OAuthCredential{ExpiresAt: &soon}, true},
		{"already expired", OAuthCredential{ExpiresAt: &past}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cred.ExpiresWithin(time.Minute); got != tc.want {
				t.Errorf("ExpiresWithin(1m) = %v, want %v", got, tc.want)
			}
		})
	}
}
