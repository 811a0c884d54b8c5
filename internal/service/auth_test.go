package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/itmo-auth/internal/apperror"
	"github.com/sakif/itmo-auth/internal/auth"
	"github.com/sakif/itmo-auth/internal/model"
	"github.com/sakif/itmo-auth/internal/telemetry"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeProvider stands in for the identity provider. codes maps an
// authorization code to an access token; profiles maps an access token to
// the profile the provider would return.
type fakeProvider struct {
	codes       map[string]string
	profiles    map[string]auth.Profile
	exchangeErr error
	userInfoErr error

	exchangeCalls int
	userInfoCalls int
}

func (f *fakeProvider) Exchange(ctx context.Context, code string) (string, error) {
	f.exchangeCalls++
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	tok, ok := f.codes[code]
	if !ok {
		return "", errors.New("invalid_grant")
	}
	return tok, nil
}

func (f *fakeProvider) UserInfo(ctx context.Context, accessToken string) (auth.Profile, error) {
	f.userInfoCalls++
	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}
	p, ok := f.profiles[accessToken]
	if !ok {
		return nil, errors.New("userinfo returned status 401")
	}
	return p, nil
}

// fakeUserRepo keeps users keyed by ISU. It is safe for concurrent use so
// the race test can hammer it.
type fakeUserRepo struct {
	mu        sync.Mutex
	byISU     map[int64]model.User
	nextID    int
	createErr error
	getErr    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byISU: make(map[int64]model.User), nextID: 1}
}

func (f *fakeUserRepo) CreateIfAbsent(ctx context.Context, user *model.User) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return false, f.createErr
	}
	if _, ok := f.byISU[user.ISU]; ok {
		return false, nil
	}
	user.ID = "user-" + strconv.Itoa(f.nextID)
	f.nextID++
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.byISU[user.ISU] = *user
	return true, nil
}

func (f *fakeUserRepo) GetByISU(ctx context.Context, isu int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byISU[isu]
	if !ok {
		return nil, apperror.NotFound("user", strconv.FormatInt(isu, 10))
	}
	return &u, nil
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byISU)
}

type fakeSessionRepo struct {
	mu        sync.Mutex
	rows      []model.AuthSession
	appendErr error
}

func (f *fakeSessionRepo) Append(ctx context.Context, s *model.AuthSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	s.ID = int64(len(f.rows) + 1)
	s.CreatedAt = time.Now()
	f.rows = append(f.rows, *s)
	return nil
}

func (f *fakeSessionRepo) CountByISU(ctx context.Context, isu *int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if (isu == nil && r.ISU == nil) || (isu != nil && r.ISU != nil && *r.ISU == *isu) {
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) all() []model.AuthSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuthSession(nil), f.rows...)
}

// fakeSink counts increments by name.
type fakeSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeSink() *fakeSink { return &fakeSink{counts: map[string]int{}} }

func (f *fakeSink) Increment(ctx context.Context, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[name]++
}

func (f *fakeSink) get(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[name]
}

type fixture struct {
	provider  *fakeProvider
	users     *fakeUserRepo
	sessions  *fakeSessionRepo
	sink      *fakeSink
	tokens    *auth.SessionTokens
	exchanger *TokenExchanger
	syncer    *ProfileSyncer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens, err := auth.NewSessionTokens("test-secret-at-least-16-chars!!")
	require.NoError(t, err)

	f := &fixture{
		provider: &fakeProvider{
			codes:    map[string]string{},
			profiles: map[string]auth.Profile{},
		},
		users:    newFakeUserRepo(),
		sessions: &fakeSessionRepo{},
		sink:     newFakeSink(),
		tokens:   tokens,
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f.exchanger = NewTokenExchanger(f.provider, f.sink, logger)
	f.syncer = NewProfileSyncer(f.provider, f.users, f.sessions, tokens, f.sink, logger)
	return f
}

func newProfile(isu any, name string) auth.Profile {
	return auth.Profile{"isu": isu, "name": name}
}

// =========================================================================
// ExchangeCode TESTS
// =========================================================================

func TestExchangeCode_ReturnsTokenVerbatim(t *testing.T) {
	f := newFixture(t)
	f.provider.codes["abc123"] = "tok1"

	got, err := f.exchanger.ExchangeCode(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "tok1", got)

	assert.Equal(t, 1, f.sink.get(telemetry.SignInAttempts))
	assert.Equal(t, 0, f.sink.get(telemetry.TokenNotReceived))
}

func TestExchangeCode_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	cause := errors.New("connection refused")
	f.provider.exchangeErr = cause

	_, err := f.exchanger.ExchangeCode(context.Background(), "abc123")
	require.Error(t, err)

	assert.True(t, errors.Is(err, apperror.ErrTokenExchange))
	assert.True(t, errors.Is(err, cause), "cause must stay in the chain")
	assert.Equal(t, 1, f.sink.get(telemetry.SignInAttempts))
	assert.Equal(t, 1, f.sink.get(telemetry.TokenNotReceived))
}

func TestExchangeCode_RejectedCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.exchanger.ExchangeCode(context.Background(), "unknown")
	assert.True(t, errors.Is(err, apperror.ErrTokenExchange))
	assert.Equal(t, 1, f.sink.get(telemetry.TokenNotReceived))
}

func TestExchangeCode_EmptyCode(t *testing.T) {
	f := newFixture(t)

	for _, code := range []string{"", "   "} {
		_, err := f.exchanger.ExchangeCode(context.Background(), code)
		assert.True(t, errors.Is(err, apperror.ErrValidation), "code %q", code)
	}

	assert.Equal(t, 0, f.provider.exchangeCalls, "empty code must not reach the provider")
	assert.Equal(t, 2, f.sink.get(telemetry.SignInAttempts))
	assert.Equal(t, 0, f.sink.get(telemetry.TokenNotReceived))
}

// =========================================================================
// ResolveUser TESTS
// =========================================================================

func TestResolveUser_NewUser(t *testing.T) {
	f := newFixture(t)
	p := auth.Profile{
		"isu":        json.Number("555"),
		"name":       "Ann",
		"email":      "ann@niuitmo.ru",
		"avatar_url": "https://id.itmo.ru/a.png",
		"groups":     []any{"M3100"},
	}
	f.provider.profiles["tok1"] = p

	got, err := f.syncer.ResolveUser(context.Background(), "tok1")
	require.NoError(t, err)

	assert.Equal(t, int64(555), got.ISU)
	assert.Equal(t, "Ann", got.Name)
	assert.NotEmpty(t, got.ID)
	require.NotNil(t, got.Email)
	assert.Equal(t, "ann@niuitmo.ru", *got.Email)

	want, err := f.tokens.Mint(p)
	require.NoError(t, err)
	assert.Equal(t, want, got.Token)

	assert.Equal(t, 1, f.users.count())
	assert.Equal(t, 1, f.sink.get(telemetry.UniqueUsers))
	assert.Equal(t, 1, f.sink.get(telemetry.Sessions))

	rows := f.sessions.all()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Status)
	require.NotNil(t, rows[0].ISU)
	assert.Equal(t, int64(555), *rows[0].ISU)
}

func TestResolveUser_ExistingUserKeepsStoredFields(t *testing.T) {
	f := newFixture(t)
	f.provider.profiles["tok1"] = newProfile(json.Number("555"), "Ann")
	f.provider.profiles["tok2"] = auth.Profile{
		"isu":   json.Number("555"),
		"name":  "Ann2",
		"email": "new@niuitmo.ru",
	}

	first, err := f.syncer.ResolveUser(context.Background(), "tok1")
	require.NoError(t, err)

	second, err := f.syncer.ResolveUser(context.Background(), "tok2")
	require.NoError(t, err)

	assert.Equal(t, "Ann", second.Name)
	assert.Nil(t, second.Email)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, f.users.count())
	assert.Equal(t, 1, f.sink.get(telemetry.UniqueUsers))
	assert.Len(t, f.sessions.all(), 2)
	assert.Equal(t, 2, f.sink.get(telemetry.Sessions))
}

func TestResolveUser_TokenFollowsIncomingProfile(t *testing.T) {
	f := newFixture(t)
	f.provider.profiles["tok1"] = newProfile(json.Number("555"), "Ann")
	f.provider.profiles["tok2"] = newProfile(json.Number("555"), "Ann2")

	first, err := f.syncer.ResolveUser(context.Background(), "tok1")
	require.NoError(t, err)
	second, err := f.syncer.ResolveUser(context.Background(), "tok2")
	require.NoError(t, err)

	claims, err := f.tokens.Parse(second.Token)
	require.NoError(t, err)
	assert.Equal(t, "Ann2", claims.Name)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestResolveUser_FetchFailure(t *testing.T) {
	f := newFixture(t)
	cause := errors.New("userinfo returned status 401")
	f.provider.userInfoErr = cause

	got, err := f.syncer.ResolveUser(context.Background(), "expired")
	require.Error(t, err)
	assert.Nil(t, got)

	assert.True(t, errors.Is(err, apperror.ErrProfileFetch))
	assert.True(t, errors.Is(err, cause))

	assert.Equal(t, 0, f.users.count())
	assert.Equal(t, 1, f.sink.get(telemetry.UserProfileNotReceived))
	assert.Equal(t, 1, f.sink.get(telemetry.Sessions))

	rows := f.sessions.all()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Status)
	assert.Nil(t, rows[0].ISU)
}

func TestResolveUser_ProfileWithoutISU(t *testing.T) {
	tests := []struct {
		name string
		p    auth.Profile
	}{
		{"missing", auth.Profile{"name": "Ann"}},
		{"zero", newProfile(json.Number("0"), "Ann")},
		{"empty string", newProfile("", "Ann")},
		{"null", newProfile(nil, "Ann")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.provider.profiles["tok1"] = tt.p

			_, err := f.syncer.ResolveUser(context.Background(), "tok1")
			assert.True(t, errors.Is(err, apperror.ErrProfileFetch))

			assert.Equal(t, 0, f.users.count())
			assert.Equal(t, 1, f.sink.get(telemetry.UserProfileNotReceived))

			rows := f.sessions.all()
			require.Len(t, rows, 1)
			assert.False(t, rows[0].Status)
			assert.Nil(t, rows[0].ISU)
		})
	}
}

func TestResolveUser_EmptyToken(t *testing.T) {
	for _, token := range []string{"", "   "} {
		t.Run(fmt.Sprintf("%q", token), func(t *testing.T) {
			f := newFixture(t)

			got, err := f.syncer.ResolveUser(context.Background(), token)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, apperror.ErrProfileFetch))

			assert.Equal(t, 0, f.provider.userInfoCalls)
			assert.Equal(t, 0, f.users.count())
			assert.Equal(t, 1, f.sink.get(telemetry.UserProfileNotReceived))
			assert.Equal(t, 1, f.sink.get(telemetry.Sessions))

			rows := f.sessions.all()
			require.Len(t, rows, 1)
			assert.False(t, rows[0].Status)
			assert.Nil(t, rows[0].ISU)
		})
	}
}

func TestResolveUser_NumericStringISU(t *testing.T) {
	f := newFixture(t)
	f.provider.profiles["tok1"] = newProfile("311111", "Boris")

	got, err := f.syncer.ResolveUser(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Equal(t, int64(311111), got.ISU)
}

func TestResolveUser_AuditFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.sessions.appendErr = errors.New("disk full")
	f.provider.profiles["tok1"] = newProfile(json.Number("555"), "Ann")

	got, err := f.syncer.ResolveUser(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, 1, f.sink.get(telemetry.Sessions))

	f.provider.userInfoErr = errors.New("timeout")
	_, err = f.syncer.ResolveUser(context.Background(), "tok1")
	assert.True(t, errors.Is(err, apperror.ErrProfileFetch))
}

func TestResolveUser_StorageFailure(t *testing.T) {
	f := newFixture(t)
	dbErr := errors.New("database is locked")
	f.users.createErr = dbErr
	f.provider.profiles["tok1"] = newProfile(json.Number("555"), "Ann")

	_, err := f.syncer.ResolveUser(context.Background(), "tok1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dbErr))
	assert.False(t, errors.Is(err, apperror.ErrProfileFetch))

	// The attempt itself is still on record.
	assert.Len(t, f.sessions.all(), 1)
	assert.Equal(t, 0, f.sink.get(telemetry.UniqueUsers))
}

func TestResolveUser_ConcurrentFirstLogins(t *testing.T) {
	f := newFixture(t)
	f.provider.profiles["tok1"] = newProfile(json.Number("777"), "Race")

	// fakeProvider's call counters are not synchronised; the profile map is
	// only read, so share a provider that does not count.
	f.syncer.provider = staticProfile(f.provider.profiles["tok1"])

	const workers = 10
	var wg sync.WaitGroup
	ids := make([]string, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := f.syncer.ResolveUser(context.Background(), "tok1")
			if assert.NoError(t, err) {
				ids[i] = u.ID
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.users.count())
	assert.Equal(t, 1, f.sink.get(telemetry.UniqueUsers))
	assert.Len(t, f.sessions.all(), workers)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

type staticProfile auth.Profile

func (s staticProfile) UserInfo(context.Context, string) (auth.Profile, error) {
	return auth.Profile(s), nil
}

// =========================================================================
// END TO END (fakes)
// =========================================================================

func TestSignIn_WorkedExample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.codes["abc123"] = "tok1"
	f.provider.codes["def456"] = "tok2"
	f.provider.profiles["tok1"] = newProfile(json.Number("555"), "Ann")
	f.provider.profiles["tok2"] = newProfile(json.Number("555"), "Ann2")

	tok, err := f.exchanger.ExchangeCode(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, "tok1", tok)

	first, err := f.syncer.ResolveUser(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(555), first.ISU)
	assert.Equal(t, "Ann", first.Name)
	assert.NotEmpty(t, first.Token)

	tok, err = f.exchanger.ExchangeCode(ctx, "def456")
	require.NoError(t, err)

	second, err := f.syncer.ResolveUser(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "Ann", second.Name)

	assert.Equal(t, 2, f.sink.get(telemetry.SignInAttempts))
	assert.Equal(t, 2, f.sink.get(telemetry.Sessions))
	assert.Equal(t, 1, f.sink.get(telemetry.UniqueUsers))
	assert.Equal(t, 1, f.users.count())

	isu := int64(555)
	n, err := f.sessions.CountByISU(ctx, &isu)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
