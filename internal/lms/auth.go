package lms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// csrfCookie is the cookie carrying the session anti-forgery token.
const csrfCookie = "_csrf_token"

// TokenPurpose is the label given to every minted API token.
const TokenPurpose = "Initial API Token"

// Authenticator mints API tokens through the session login form.
type Authenticator struct {
	Server    string // scheme://host[:port], no trailing slash
	LoginPath string // e.g. "login/canvas"
	APIBase   string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NewAuthenticator returns an Authenticator for server.
func NewAuthenticator(server, loginPath, apiBase string, timeout time.Duration) *Authenticator {
	return &Authenticator{
		Server:    strings.TrimRight(server, "/"),
		LoginPath: strings.Trim(loginPath, "/"),
		APIBase:   strings.Trim(apiBase, "/"),
		Timeout:   timeout,
		Logger:    slog.Default(),
	}
}

// IssueCredential logs p in with a fresh cookie session and creates an API
// token. The token is stored on p and returned. Any failure is an
// *AuthBootstrapError.
func (a *Authenticator) IssueCredential(ctx context.Context, p *Principal) (string, error) {
	fail := func(step, reason string, err error) error {
		return &AuthBootstrapError{Principal: p.Name, Step: step, Reason: reason, Err: err}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return "", fail("login page", "cannot create cookie jar", err)
	}
	session := &http.Client{Jar: jar, Timeout: a.Timeout}
	loginURL := a.Server + "/" + a.LoginPath

	// Round trip 1: the login page seeds the session and the first token.
	resp, err := a.do(ctx, session, http.MethodGet, loginURL, nil, nil)
	if err != nil {
		return "", fail("login page", "request failed", err)
	}
	if !success(resp.StatusCode) {
		return "", fail("login page", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	csrf, err := csrfToken(resp.Header, jar, loginURL)
	if err != nil {
		return "", fail("login page", err.Error(), nil)
	}

	// Round trip 2: submit the form, then mint a token with the rotated
	// anti-forgery token.
	form := url.Values{
		"utf8":                           {"✓"},
		"authenticity_token":             {csrf},
		"redirect_to_ssl":                {"1"},
		"pseudonym_session[unique_id]":   {p.Login},
		"pseudonym_session[password]":    {p.Password},
		"pseudonym_session[remember_me]": {"0"},
	}
	resp, err = a.do(ctx, session, http.MethodPost, loginURL, form, nil)
	if err != nil {
		return "", fail("login", "request failed", err)
	}
	if !success(resp.StatusCode) {
		return "", fail("login", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	csrf, err = csrfToken(resp.Header, jar, loginURL)
	if err != nil {
		return "", fail("login", err.Error(), nil)
	}

	tokenURL := a.Server + "/" + a.APIBase + "/users/self/tokens"
	headers := http.Header{"X-Csrf-Token": {csrf}}
	resp, err = a.do(ctx, session, http.MethodPost, tokenURL, url.Values{"token[purpose]": {TokenPurpose}}, headers)
	if err != nil {
		return "", fail("token", "request failed", err)
	}
	if !success(resp.StatusCode) {
		return "", fail("token", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	var payload struct {
		VisibleToken string `json:"visible_token"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return "", fail("token", "malformed token response", err)
	}
	if payload.VisibleToken == "" {
		return "", fail("token", "response has no visible_token", nil)
	}

	session.CloseIdleConnections()
	p.Token = payload.VisibleToken
	a.Logger.Debug("issued api token", "principal", p.Name)
	return p.Token, nil
}

type response struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

func (a *Authenticator) do(ctx context.Context, client *http.Client, method, target string, form url.Values, headers http.Header) (*response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &response{StatusCode: resp.StatusCode, Header: resp.Header, body: raw}, nil
}

// csrfToken finds the anti-forgery token in the response's Set-Cookie
// headers. When the form post was redirected the final response may not
// set it again, so the session jar is consulted next.
func csrfToken(header http.Header, jar http.CookieJar, rawURL string) (string, error) {
	for _, line := range header.Values("Set-Cookie") {
		for _, item := range strings.Split(line, ";") {
			item = strings.TrimSpace(item)
			value, ok := strings.CutPrefix(item, csrfCookie+"=")
			if !ok {
				continue
			}
			return unescapeToken(value)
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	for _, cookie := range jar.Cookies(u) {
		if cookie.Name == csrfCookie {
			return unescapeToken(cookie.Value)
		}
	}
	if len(header.Values("Set-Cookie")) == 0 {
		return "", fmt.Errorf("no session cookie in response")
	}
	return "", fmt.Errorf("no %s cookie in response", csrfCookie)
}

func unescapeToken(value string) (string, error) {
	token, err := url.PathUnescape(value)
	if err != nil {
		return "", fmt.Errorf("malformed %s cookie: %w", csrfCookie, err)
	}
	if token == "" {
		return "", fmt.Errorf("empty %s cookie", csrfCookie)
	}
	return token, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}
