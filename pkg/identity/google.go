package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	googleAuthIDTokenVerifier "github.com/futurenda/google-auth-id-token-verifier"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ErrIdentityRejected indicates the provider response could not be trusted.
var ErrIdentityRejected = errors.New("identity provider rejected the token")

// Config contains OAuth client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Profile is the verified subset of the provider's claims.
type Profile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Google exchanges authorization codes and verifies id_tokens issued by Google.
type Google struct {
	oauth    *oauth2.Config
	verifier googleAuthIDTokenVerifier.Verifier
	clientID string
	logger   zerolog.Logger
}

// NewGoogle constructs the provider.
func NewGoogle(cfg Config, logger zerolog.Logger) (*Google, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google client credentials must be provided")
	}

	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		},
		clientID: cfg.ClientID,
		logger:   logger.With().Str("component", "google_identity").Logger(),
	}, nil
}

// AuthCodeURL returns the consent page URL carrying the one-time state.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for tokens and verifies the returned id_token.
func (g *Google) Exchange(ctx context.Context, code string) (Profile, error) {
	if strings.TrimSpace(code) == "" {
		return Profile{}, ErrIdentityRejected
	}

	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		g.logger.Warn().Err(err).Msg("authorization code exchange failed")
		return Profile{}, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Profile{}, fmt.Errorf("%w: id_token missing from token response", ErrIdentityRejected)
	}

	return g.VerifyIDToken(ctx, rawIDToken)
}

// VerifyIDToken checks signature, audience and expiry, then decodes the claims.
func (g *Google) VerifyIDToken(_ context.Context, rawIDToken string) (Profile, error) {
	if err := g.verifier.VerifyIDToken(rawIDToken, []string{g.clientID}); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}

	claims, err := googleAuthIDTokenVerifier.Decode(rawIDToken)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}
	if claims.Sub == "" || claims.Email == "" {
		return Profile{}, fmt.Errorf("%w: subject or email missing", ErrIdentityRejected)
	}
	if !claims.EmailVerified {
		return Profile{}, fmt.Errorf("%w: email not verified by provider", ErrIdentityRejected)
	}

	return Profile{
		Subject:       claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
