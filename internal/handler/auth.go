package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/itmo-auth/internal/apperror"
	"github.com/sakif/itmo-auth/internal/model"
)

// maxBodyBytes caps request bodies; both calls carry one short string.
const maxBodyBytes = 64 << 10

// TokenExchanger is the first sign-in step as the handler sees it.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code string) (string, error)
}

// UserResolver is the second sign-in step as the handler sees it.
type UserResolver interface {
	ResolveUser(ctx context.Context, accessToken string) (*model.AuthenticatedUser, error)
}

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	Code string `json:"code"`
}

// TokenResponse is the reply to POST /auth/token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// UserRequest is the body of POST /auth/user.
type UserRequest struct {
	AccessToken string `json:"access_token"`
}

// AuthHandler exposes the two sign-in calls.
//
// Provider calls run on a context detached from the caller: a client that
// hangs up mid sign-in does not cut off the exchange or the audit write.
// The provider client's own timeout still bounds them.
type AuthHandler struct {
	exchanger TokenExchanger
	resolver  UserResolver
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(exchanger TokenExchanger, resolver UserResolver, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		exchanger: exchanger,
		resolver:  resolver,
		logger:    logger,
	}
}

// HandleToken exchanges an authorization code for an access token. An empty
// code is rejected by the service, after it is counted as an attempt.
//
// HTTP: POST /auth/token
// REQUEST BODY:  {"code": "abc123"}
// RESPONSE BODY: {"access_token": "tok1"}
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := h.exchanger.ExchangeCode(context.WithoutCancel(r.Context()), req.Code)
	if err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			writeError(w, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "token exchange failed",
			slog.String("error", err.Error()),
		)
		writeFault(w, FaultTokenExchange)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token})
}

// HandleUser resolves an access token to the stored user plus a session
// token.
//
// HTTP: POST /auth/user
// REQUEST BODY:  {"access_token": "tok1"}
// RESPONSE BODY: {"id": "...", "isu": 555, "name": "Ann", ..., "token": "<jwt>"}
//
// Every failure past body decoding, including an empty token and storage
// errors, is reported as the same "Invalid user" fault. The service audits
// each of them.
func (h *AuthHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.resolver.ResolveUser(context.WithoutCancel(r.Context()), req.AccessToken)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "resolving user failed",
			slog.Bool("profileFetch", errors.Is(err, apperror.ErrProfileFetch)),
			slog.String("error", err.Error()),
		)
		writeFault(w, FaultInvalidUser)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// decodeBody reads a single JSON object into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "request body must be a JSON object")
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "request body must contain a single JSON object")
	}
	return nil
}
