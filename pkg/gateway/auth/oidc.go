package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"golang.org/x/oauth2"
)

// OIDCAuthenticator supports operator SSO against an external identity
// provider. Local bcrypt accounts remain the primary login path.
type OIDCAuthenticator struct {
	config *oauth2.Config
	issuer string
}

func NewOIDCAuthenticator(issuer, clientID, clientSecret, redirectURL string) (*OIDCAuthenticator, error) {
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC configuration incomplete")
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("%s/authorize", issuer),
			TokenURL: fmt.Sprintf("%s/token", issuer),
		},
		Scopes: []string{"openid", "profile", "email"},
	}

	return &OIDCAuthenticator{
		config: config,
		issuer: issuer,
	}, nil
}

// AuthCodeURL returns the provider URL the console redirects the operator to.
func (a *OIDCAuthenticator) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a provider token.
func (a *OIDCAuthenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		logger.Log.WithError(err).Warn("OIDC code exchange failed")
		return nil, err
	}
	return token, nil
}

// EmailFromIDToken pulls the email claim out of the id_token that rode
// along with the code exchange. The token came straight from the provider
// over the TLS exchange, so the payload is read without a second signature
// check here.
func (a *OIDCAuthenticator) EmailFromIDToken(token *oauth2.Token) (string, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return "", fmt.Errorf("provider returned no id_token")
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed id_token")
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := decodeSegment(parts[1], &claims); err != nil {
		return "", err
	}
	if claims.Email == "" {
		return "", fmt.Errorf("id_token carries no email claim")
	}
	return claims.Email, nil
}
