package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

const (
	fakeSessionCookie = "lms_session"
	fakeCSRFCookie    = "_csrf_token"
)

// FakeCall is one API request received by FakeLMS.
type FakeCall struct {
	Method string
	Path   string // without the /api/v1/ prefix
	Form   url.Values
	Login  string // owner of the bearer token
	Accept string
}

// FakeLMS is an in-process stand-in for the LMS: a readiness root, the
// session login form, the token endpoint and a generic API that answers
// every create/update with the next sequential string id.
//
// Thread-safety: all state is guarded by mu; the server handles requests
// concurrently.
type FakeLMS struct {
	*httptest.Server

	mu          sync.Mutex
	passwords   map[string]string // login -> password
	sessions    map[string]*fakeSession
	tokens      map[string]string // bearer token -> login
	calls       []FakeCall
	failures    map[string]int // "METHOD path" -> status
	notReady    int
	nextID      int64
	nextSession int
	redirect    bool
	omitToken   bool
}

type fakeSession struct {
	login string
	csrf  string
	n     int
}

// NewFakeLMS starts a FakeLMS. Ids handed out start at firstID. The server
// is closed when the test ends.
func NewFakeLMS(t interface{ Cleanup(func()) }, firstID int64) *FakeLMS {
	f := &FakeLMS{
		passwords: make(map[string]string),
		sessions:  make(map[string]*fakeSession),
		tokens:    make(map[string]string),
		failures:  make(map[string]int),
		nextID:    firstID,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", f.handleRoot)
	mux.HandleFunc("/login/canvas", f.handleLogin)
	mux.HandleFunc("/dashboard", f.handleDashboard)
	mux.HandleFunc("/api/v1/users/self/tokens", f.handleTokens)
	mux.HandleFunc("/api/v1/", f.handleAPI)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// AddUser registers a login the form accepts.
func (f *FakeLMS) AddUser(login, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[login] = password
}

// FailNext makes the next request for method and path (without the API
// prefix) answer with status.
func (f *FakeLMS) FailNext(method, path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+path] = status
}

// NotReadyFor makes the readiness root answer 503 for the next n probes.
func (f *FakeLMS) NotReadyFor(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notReady = n
}

// RedirectAfterLogin makes a successful form post answer with a redirect to
// a page that sets no cookies, like the real dashboard.
func (f *FakeLMS) RedirectAfterLogin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirect = true
}

// OmitLoginPageToken makes the login page skip the anti-forgery cookie.
func (f *FakeLMS) OmitLoginPageToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.omitToken = true
}

// Calls returns a copy of every API call received so far.
func (f *FakeLMS) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// CallsTo returns the API calls whose method matches and whose path has
// the given prefix.
func (f *FakeLMS) CallsTo(method, prefix string) []FakeCall {
	var out []FakeCall
	for _, c := range f.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// TokenFor returns the bearer token the fake minted for login.
func TokenFor(login string) string {
	return "token-" + login
}

func (f *FakeLMS) handleRoot(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notReady > 0 {
		f.notReady--
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	_, _ = fmt.Fprint(w, "ok")
}

func (f *FakeLMS) handleDashboard(w http.ResponseWriter, r *http.Request) {
	_, _ = fmt.Fprint(w, "dashboard")
}

func (f *FakeLMS) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		f.nextSession++
		id := strconv.Itoa(f.nextSession)
		s := &fakeSession{}
		f.sessions[id] = s
		http.SetCookie(w, &http.Cookie{Name: fakeSessionCookie, Value: id, Path: "/"})
		if !f.omitToken {
			f.rotate(w, id, s)
		}
		_, _ = fmt.Fprint(w, "<form></form>")

	case http.MethodPost:
		s, id := f.session(r)
		if s == nil || r.PostFormValue("authenticity_token") != s.csrf {
			http.Error(w, "invalid authenticity token", http.StatusUnprocessableEntity)
			return
		}
		login := r.PostFormValue("pseudonym_session[unique_id]")
		if pw, ok := f.passwords[login]; !ok || pw != r.PostFormValue("pseudonym_session[password]") {
			http.Error(w, "bad credentials", http.StatusBadRequest)
			return
		}
		s.login = login
		f.rotate(w, id, s)
		if f.redirect {
			http.Redirect(w, r, "/dashboard", http.StatusFound)
			return
		}
		_, _ = fmt.Fprint(w, "welcome")

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// rotate issues a new anti-forgery token. Its cookie value is
// URL-escaped the same way the real server escapes it.
func (f *FakeLMS) rotate(w http.ResponseWriter, id string, s *fakeSession) {
	s.n++
	s.csrf = fmt.Sprintf("csrf/%s+%d==", id, s.n)
	http.SetCookie(w, &http.Cookie{Name: fakeCSRFCookie, Value: url.QueryEscape(s.csrf), Path: "/"})
}

func (f *FakeLMS) session(r *http.Request) (*fakeSession, string) {
	c, err := r.Cookie(fakeSessionCookie)
	if err != nil {
		return nil, ""
	}
	return f.sessions[c.Value], c.Value
}

func (f *FakeLMS) handleTokens(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, _ := f.session(r)
	if s == nil || s.login == "" {
		http.Error(w, "not logged in", http.StatusUnauthorized)
		return
	}
	if r.Header.Get("X-CSRF-Token") != s.csrf {
		http.Error(w, "invalid csrf token", http.StatusUnprocessableEntity)
		return
	}
	if r.PostFormValue("token[purpose]") == "" {
		http.Error(w, "purpose required", http.StatusBadRequest)
		return
	}
	token := TokenFor(s.login)
	f.tokens[token] = s.login
	writeJSON(w, map[string]any{"visible_token": token})
}

func (f *FakeLMS) handleAPI(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	login, known := f.tokens[bearer]
	if !ok || !known {
		http.Error(w, `{"errors":[{"message":"Invalid access token."}]}`, http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	f.calls = append(f.calls, FakeCall{
		Method: r.Method,
		Path:   path,
		Form:   r.PostForm,
		Login:  login,
		Accept: r.Header.Get("Accept"),
	})

	key := r.Method + " " + path
	if status, fail := f.failures[key]; fail {
		delete(f.failures, key)
		http.Error(w, `{"errors":[{"message":"injected failure"}]}`, status)
		return
	}

	writeJSON(w, map[string]any{"id": f.allocate()})
}

// allocate returns the next id as a string, as in string-id mode.
func (f *FakeLMS) allocate() string {
	id := f.nextID
	f.nextID++
	return strconv.FormatInt(id, 10)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
