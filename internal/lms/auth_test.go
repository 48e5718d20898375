package lms

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lmsseed/internal/testutil"
)

func newTestAuthenticator(f *testutil.FakeLMS) *Authenticator {
	return NewAuthenticator(f.URL+"/", "/login/canvas", "api/v1", 5*time.Second)
}

func TestIssueCredential(t *testing.T) {
	f := testutil.NewFakeLMS(t, 100)
	f.AddUser("course-student@test.edulinq.org", "course-student")

	p := &Principal{Name: "course-student", Login: "course-student@test.edulinq.org", Password: "course-student"}
	token, err := newTestAuthenticator(f).IssueCredential(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, testutil.TokenFor(p.Login), token)
	assert.Equal(t, token, p.Token)
	assert.True(t, p.HasToken())
}

func TestIssueCredential_FollowsRedirectAfterLogin(t *testing.T) {
	f := testutil.NewFakeLMS(t, 100)
	f.AddUser("server-owner@test.edulinq.org", "server-owner")
	f.RedirectAfterLogin()

	p := &Principal{Name: "server-owner", Login: "server-owner@test.edulinq.org", Password: "server-owner"}
	token, err := newTestAuthenticator(f).IssueCredential(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, testutil.TokenFor(p.Login), token)
}

func TestIssueCredential_Failures(t *testing.T) {
	testCases := []struct {
		name     string
		setup    func(*testutil.FakeLMS)
		password string
		wantStep string
	}{
		{
			name:     "bad password",
			setup:    func(*testutil.FakeLMS) {},
			password: "wrong",
			wantStep: "login",
		},
		{
			name:     "login page without token cookie",
			setup:    func(f *testutil.FakeLMS) { f.OmitLoginPageToken() },
			password: "pw",
			wantStep: "login page",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := testutil.NewFakeLMS(t, 100)
			f.AddUser("a@test", "pw")
			tc.setup(f)

			p := &Principal{Name: "a", Login: "a@test", Password: tc.password}
			_, err := newTestAuthenticator(f).IssueCredential(context.Background(), p)

			var authErr *AuthBootstrapError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tc.wantStep, authErr.Step)
			assert.Equal(t, "a", authErr.Principal)
			assert.Empty(t, p.Token)
		})
	}
}

func TestCSRFToken(t *testing.T) {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	t.Run("unescapes the cookie value", func(t *testing.T) {
		header := http.Header{}
		header.Add("Set-Cookie", "_normandy_session=abc; path=/; HttpOnly")
		header.Add("Set-Cookie", "_csrf_token=a%2Bb%2Fc%3D%3D; path=/")

		token, err := csrfToken(header, jar, "http://lms.test/login/canvas")
		require.NoError(t, err)
		assert.Equal(t, "a+b/c==", token)
	})

	t.Run("keeps a literal plus", func(t *testing.T) {
		header := http.Header{"Set-Cookie": {"_csrf_token=a+b; path=/"}}
		token, err := csrfToken(header, jar, "http://lms.test/login/canvas")
		require.NoError(t, err)
		assert.Equal(t, "a+b", token)
	})

	t.Run("no cookies at all", func(t *testing.T) {
		_, err := csrfToken(http.Header{}, jar, "http://lms.test/login/canvas")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no session cookie")
	})

	t.Run("cookie without token", func(t *testing.T) {
		header := http.Header{"Set-Cookie": {"_normandy_session=abc; path=/"}}
		_, err := csrfToken(header, jar, "http://lms.test/login/canvas")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no _csrf_token cookie")
	})
}
