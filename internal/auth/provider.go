package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/sakif/itmo-auth/internal/config"
)

// maxProfileBytes caps the userinfo body read into memory.
const maxProfileBytes = 1 << 20

// ErrNoAccessToken is returned when the token endpoint answers 2xx without an
// access_token.
var ErrNoAccessToken = errors.New("auth: token response has no access_token")

// Provider is the ITMO Keycloak realm: the token endpoint for the code
// exchange and the userinfo endpoint for the profile.
//
// The code exchange goes through golang.org/x/oauth2 with client credentials
// sent in the form body, matching how the realm's clients are registered.
// Neither call is retried.
type Provider struct {
	oauth       *oauth2.Config
	grantType   string
	userInfoURL string
	client      *http.Client
}

// NewProvider builds a Provider for cfg. base carries the actual requests;
// nil means http.DefaultTransport. Each call is bounded by cfg.Timeout.
func NewProvider(cfg config.Provider, base http.RoundTripper) *Provider {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		grantType:   cfg.GrantType,
		userInfoURL: cfg.UserInfoURL(),
		client: &http.Client{
			Transport: &compatTransport{host: cfg.Host(), base: base},
			Timeout:   cfg.Timeout,
		},
	}
}

// Exchange trades an authorization code for an access token.
//
// The POST carries client_id, client_secret, grant_type, redirect_uri and
// code as a form body. Any failure, including a 2xx body without
// access_token, is returned as an error.
func (p *Provider) Exchange(ctx context.Context, code string) (string, error) {
	// oauth2 picks up the HTTP client from the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.oauth.Exchange(ctx, code,
		oauth2.SetAuthURLParam("grant_type", p.grantType),
	)
	if err != nil {
		return "", fmt.Errorf("auth: exchanging code: %w", err)
	}
	if tok.AccessToken == "" {
		return "", ErrNoAccessToken
	}
	return tok.AccessToken, nil
}

// UserInfo fetches the profile belonging to accessToken.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (Profile, error) {
	// oauth2.Transport adds "Authorization: Bearer <token>" to the request.
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: accessToken,
				TokenType:   "Bearer",
			}),
			Base: p.client.Transport,
		},
		Timeout: p.client.Timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building userinfo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("auth: userinfo returned status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes))
	dec.UseNumber()

	var profile Profile
	if err := dec.Decode(&profile); err != nil {
		return nil, fmt.Errorf("auth: decoding userinfo response: %w", err)
	}
	if profile == nil {
		return nil, errors.New("auth: userinfo response is null")
	}
	return profile, nil
}
