package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultAuthorizeURL = "https://github.com/login/oauth/authorize"
	defaultTokenURL     = "https://github.com/login/oauth/access_token"
	defaultAPIBaseURL   = "https://api.github.com"

	oauthTimeout = 10 * time.Second
)

// GitHubUser is the provider identity resolved during the OAuth callback.
type GitHubUser struct {
	ID        string // provider-prefixed, e.g. "github_12345"
	Login     string
	Name      string
	Email     string
	AvatarURL string
}

// GitHubClient drives the OAuth code exchange and user lookup against the
// GitHub API. Base URLs are overridable for tests.
type GitHubClient struct {
	clientID     string
	clientSecret string
	authorizeURL string
	tokenURL     string
	apiBaseURL   string
	httpClient   *http.Client
}

func NewGitHubClient(clientID, clientSecret string) *GitHubClient {
	return &GitHubClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		authorizeURL: defaultAuthorizeURL,
		tokenURL:     defaultTokenURL,
		apiBaseURL:   defaultAPIBaseURL,
		httpClient:   &http.Client{Timeout: oauthTimeout},
	}
}

// NewGitHubClientWithBaseURLs creates a client pointing at custom endpoints (for testing).
func NewGitHubClientWithBaseURLs(clientID, clientSecret, authorizeURL, tokenURL, apiBaseURL string) *GitHubClient {
	c := NewGitHubClient(clientID, clientSecret)
	c.authorizeURL = authorizeURL
	c.tokenURL = tokenURL
	c.apiBaseURL = strings.TrimRight(apiBaseURL, "/")
	return c
}

// AuthorizeURL builds the redirect target for the login step. state is the
// CSRF nonce the callback must echo back.
func (c *GitHubClient) AuthorizeURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", "read:user user:email")
	q.Set("state", state)
	return c.authorizeURL + "?" + q.Encode()
}

// Exchange trades the callback code for an access token.
func (c *GitHubClient) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchanging code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tokenResp.Error != "" {
		return "", fmt.Errorf("token endpoint error: %s", tokenResp.Error)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}
	return tokenResp.AccessToken, nil
}

// FetchUser resolves the authenticated user's profile and primary email.
// The two API calls are independent, so they run concurrently.
func (c *GitHubClient) FetchUser(ctx context.Context, accessToken string) (GitHubUser, error) {
	var (
		profile struct {
			ID        int64  `json:"id"`
			Login     string `json:"login"`
			Name      string `json:"name"`
			Email     string `json:"email"`
			AvatarURL string `json:"avatar_url"`
		}
		emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.getJSON(gCtx, accessToken, "/user", &profile)
	})
	g.Go(func() error {
		// The emails endpoint can fail for tokens without the email scope;
		// the profile email is the fallback.
		if err := c.getJSON(gCtx, accessToken, "/user/emails", &emails); err != nil {
			emails = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return GitHubUser{}, err
	}

	email := profile.Email
	for _, e := range emails {
		if e.Primary && e.Verified {
			email = e.Email
			break
		}
	}

	name := profile.Name
	if name == "" {
		name = profile.Login
	}

	return GitHubUser{
		ID:        "github_" + strconv.FormatInt(profile.ID, 10),
		Login:     profile.Login,
		Name:      name,
		Email:     email,
		AvatarURL: profile.AvatarURL,
	}, nil
}

func (c *GitHubClient) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
