package lms

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lmsseed/internal/testutil"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

func captureServer(t *testing.T, status int, reply string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		captured []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		captured = append(captured, capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   string(body),
		})
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func newTestClient(srv *httptest.Server, settle time.Duration) (*Client, *testutil.SleepRecorder) {
	sleeper := &testutil.SleepRecorder{}
	c := NewClient(srv.URL+"/", "/api/v1/", srv.Client(), settle)
	c.Sleep = sleeper.Sleep
	return c, sleeper
}

var owner = &Principal{Name: "server-owner", Token: "secret"}

func TestRequest_PostSendsFormAndSettles(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK, `{"id":"110000000000101","name":"Course 101"}`)
	c, sleeper := newTestClient(srv, 500*time.Millisecond)

	form := url.Values{"course[name]": {"Course 101"}, "offer": {"true"}}
	status, body, err := c.Request(context.Background(), owner, http.MethodPost, "accounts/1/courses", form)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	id, err := body.ID("id")
	require.NoError(t, err)
	assert.Equal(t, int64(110000000000101), id)
	name, err := body.String("name")
	require.NoError(t, err)
	assert.Equal(t, "Course 101", name)

	require.Len(t, captured(), 1)
	req := captured()[0]
	assert.Equal(t, "/api/v1/accounts/1/courses", req.Path)
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Equal(t, AcceptHeader, req.Header.Get("Accept"))
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	assert.Equal(t, form.Encode(), req.Body)

	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sleeper.Pauses())
}

func TestRequest_PutSettles(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK, `{}`)
	c, sleeper := newTestClient(srv, time.Second)

	_, err := c.Put(context.Background(), owner, "courses/1/assignments/2/submissions/3", url.Values{"submission[posted_grade]": {"2"}})
	require.NoError(t, err)
	assert.Len(t, sleeper.Pauses(), 1)
}

func TestRequest_GetUsesQueryAndDoesNotSettle(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK, `{"id":7}`)
	c, sleeper := newTestClient(srv, time.Second)

	_, body, err := c.Request(context.Background(), owner, http.MethodGet, "users/self", url.Values{"include[]": {"email"}})
	require.NoError(t, err)

	id, err := body.ID("id")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id, "numeric ids are accepted too")

	req := captured()[0]
	assert.Equal(t, "include%5B%5D=email", req.Query)
	assert.Empty(t, req.Body)
	assert.Empty(t, sleeper.Pauses())
}

func TestRequest_NonSuccessIsAPIError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadRequest, `{"errors":{"name":"too long"}}`)
	c, sleeper := newTestClient(srv, time.Second)

	_, err := c.Post(context.Background(), owner, "accounts/1/sub_accounts", url.Values{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.MethodPost, apiErr.Method)
	assert.Equal(t, "accounts/1/sub_accounts", apiErr.Endpoint)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Body, "too long")
	assert.True(t, IsStatus(err, http.StatusBadRequest))
	assert.Empty(t, sleeper.Pauses(), "failed writes do not settle")
}

func TestRequest_RequiresToken(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK, `{}`)
	c, _ := newTestClient(srv, 0)

	_, err := c.Post(context.Background(), &Principal{Name: "course-student"}, "courses", nil)
	require.ErrorIs(t, err, ErrNoToken)
	assert.Contains(t, err.Error(), "course-student")
	assert.Empty(t, captured())
}

func TestRequest_MalformedJSON(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK, `<html>`)
	c, _ := newTestClient(srv, 0)

	_, err := c.Post(context.Background(), owner, "courses", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestBody_ID(t *testing.T) {
	testCases := []struct {
		name    string
		body    Body
		want    int64
		wantErr bool
	}{
		{"string id", Body{"id": "1002"}, 1002, false},
		{"number id", Body{"id": json.Number("1002")}, 1002, false},
		{"missing", Body{}, 0, true},
		{"null", Body{"id": nil}, 0, true},
		{"not numeric", Body{"id": "abc"}, 0, true},
		{"wrong type", Body{"id": true}, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.body.ID("id")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClient_IssuesWithMintedToken(t *testing.T) {
	f := testutil.NewFakeLMS(t, 500)
	f.AddUser("course-owner@test.edulinq.org", "course-owner")

	p := &Principal{Name: "course-owner", Login: "course-owner@test.edulinq.org", Password: "course-owner"}
	_, err := NewAuthenticator(f.URL, "login/canvas", "api/v1", time.Second).IssueCredential(context.Background(), p)
	require.NoError(t, err)

	c := NewClient(f.URL, "api/v1", f.Client(), 0)
	body, err := c.Post(context.Background(), p, "accounts/1/courses", url.Values{"course[name]": {"C"}})
	require.NoError(t, err)
	id, err := body.ID("id")
	require.NoError(t, err)
	assert.Equal(t, int64(500), id)

	calls := f.CallsTo(http.MethodPost, "accounts/1/courses")
	require.Len(t, calls, 1)
	assert.Equal(t, p.Login, calls[0].Login)
	assert.Equal(t, AcceptHeader, calls[0].Accept)
	assert.Equal(t, "C", calls[0].Form.Get("course[name]"))
}
