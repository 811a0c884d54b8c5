// Package service holds the sign-in business logic.
//
//	AuthHandler (HTTP) → TokenExchanger → identity provider
//	                   → ProfileSyncer  → identity provider, repositories, session tokens
//
// Both services report counters through a telemetry.Sink and return
// apperror kinds; turning those into wire faults is the handler's job.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/itmo-auth/internal/apperror"
	"github.com/sakif/itmo-auth/internal/auth"
	"github.com/sakif/itmo-auth/internal/telemetry"
)

// CodeExchanger trades an authorization code for an access token.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

// ProfileSource fetches the profile behind an access token.
type ProfileSource interface {
	UserInfo(ctx context.Context, accessToken string) (auth.Profile, error)
}

// SessionMinter derives the local session token for a profile.
type SessionMinter interface {
	Mint(profile auth.Profile) (string, error)
}

var (
	_ CodeExchanger = (*auth.Provider)(nil)
	_ ProfileSource = (*auth.Provider)(nil)
	_ SessionMinter = (*auth.SessionTokens)(nil)
)

// TokenExchanger is the first sign-in step.
type TokenExchanger struct {
	provider CodeExchanger
	metrics  telemetry.Sink
	logger   *slog.Logger
}

// NewTokenExchanger creates a TokenExchanger.
func NewTokenExchanger(provider CodeExchanger, metrics telemetry.Sink, logger *slog.Logger) *TokenExchanger {
	return &TokenExchanger{
		provider: provider,
		metrics:  metrics,
		logger:   logger,
	}
}

// ExchangeCode returns the provider's access token for code, verbatim.
//
// Every call counts as a sign-in attempt, including ones rejected for an
// empty code. Provider failures are counted as token_not_received and
// returned as apperror.ErrTokenExchange. There is no retry.
func (e *TokenExchanger) ExchangeCode(ctx context.Context, code string) (string, error) {
	e.metrics.Increment(ctx, telemetry.SignInAttempts)

	if strings.TrimSpace(code) == "" {
		return "", apperror.ValidationFailed("code", "code is required")
	}

	token, err := e.provider.Exchange(ctx, code)
	if err != nil {
		e.metrics.Increment(ctx, telemetry.TokenNotReceived)
		e.logger.WarnContext(ctx, "token exchange failed", slog.Any("error", err))
		return "", apperror.TokenExchange("service/auth: exchanging authorization code", err)
	}

	return token, nil
}
