package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/itmo-auth/internal/apperror"
	"github.com/sakif/itmo-auth/internal/model"
	"github.com/sakif/itmo-auth/internal/repository"
	"github.com/sakif/itmo-auth/internal/telemetry"
)

var (
	// errNoISU is the cause attached when a profile decodes but has no usable ISU.
	errNoISU = errors.New("profile has no isu")

	errEmptyToken = errors.New("access token is empty")
)

// ProfileSyncer is the second sign-in step: fetch the profile, record the
// attempt, make sure the user exists, and hand back a session token.
type ProfileSyncer struct {
	provider ProfileSource
	users    repository.UserRepository
	sessions repository.AuthSessionRepository
	tokens   SessionMinter
	metrics  telemetry.Sink
	logger   *slog.Logger
}

// NewProfileSyncer creates a ProfileSyncer.
func NewProfileSyncer(
	provider ProfileSource,
	users repository.UserRepository,
	sessions repository.AuthSessionRepository,
	tokens SessionMinter,
	metrics telemetry.Sink,
	logger *slog.Logger,
) *ProfileSyncer {
	return &ProfileSyncer{
		provider: provider,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		metrics:  metrics,
		logger:   logger,
	}
}

// ResolveUser turns an access token into the stored user plus a session
// token.
//
// Each call appends exactly one auth_sessions row: status=true with the ISU
// once a profile with a truthy ISU arrives, status=false with no ISU
// otherwise. An empty token, fetch failures and profiles without an ISU come back as
// apperror.ErrProfileFetch and never write a user.
//
// The first profile seen for an ISU is the one stored. Later sign-ins get the
// stored row back even if the provider's data has changed since.
func (s *ProfileSyncer) ResolveUser(ctx context.Context, accessToken string) (*model.AuthenticatedUser, error) {
	if strings.TrimSpace(accessToken) == "" {
		s.metrics.Increment(ctx, telemetry.UserProfileNotReceived)
		s.recordSession(ctx, nil)
		return nil, apperror.ProfileFetch("service/auth: fetching profile", errEmptyToken)
	}

	profile, err := s.provider.UserInfo(ctx, accessToken)
	if err != nil {
		s.metrics.Increment(ctx, telemetry.UserProfileNotReceived)
		s.logger.WarnContext(ctx, "profile fetch failed", slog.Any("error", err))
		s.recordSession(ctx, nil)
		return nil, apperror.ProfileFetch("service/auth: fetching profile", err)
	}

	newUser, ok := profile.ToUser()
	if !ok {
		s.metrics.Increment(ctx, telemetry.UserProfileNotReceived)
		s.logger.WarnContext(ctx, "profile without isu", slog.Any("isu", profile["isu"]))
		s.recordSession(ctx, nil)
		return nil, apperror.ProfileFetch("service/auth: unusable profile", errNoISU)
	}

	isu := newUser.ISU
	s.recordSession(ctx, &isu)

	user, err := s.ensureUser(ctx, newUser)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Mint(profile)
	if err != nil {
		return nil, fmt.Errorf("service/auth: minting session token (isu=%d): %w", isu, err)
	}

	return &model.AuthenticatedUser{User: *user, Token: token}, nil
}

// ensureUser inserts user unless its ISU is taken and returns the stored row.
// The users.unique counter moves only for the call whose insert won.
func (s *ProfileSyncer) ensureUser(ctx context.Context, user *model.User) (*model.User, error) {
	created, err := s.users.CreateIfAbsent(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: creating user (isu=%d): %w", user.ISU, err)
	}
	if created {
		s.metrics.Increment(ctx, telemetry.UniqueUsers)
		s.logger.InfoContext(ctx, "new user",
			slog.Int64("isu", user.ISU),
			slog.String("userID", user.ID),
		)
	}

	stored, err := s.users.GetByISU(ctx, user.ISU)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading user (isu=%d): %w", user.ISU, err)
	}
	return stored, nil
}

// recordSession appends the audit row for this call. A failed write is
// logged and otherwise ignored.
func (s *ProfileSyncer) recordSession(ctx context.Context, isu *int64) {
	s.metrics.Increment(ctx, telemetry.Sessions)

	row := &model.AuthSession{Status: isu != nil, ISU: isu}
	if err := s.sessions.Append(ctx, row); err != nil {
		s.logger.ErrorContext(ctx, "writing auth session",
			slog.Bool("status", row.Status),
			slog.Any("error", err),
		)
	}
}
