package web

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/umputun/wirecutter/app/store"
	"github.com/umputun/wirecutter/app/users"
)

func newAuthServer(t *testing.T) string {
	t.Helper()
	us := newTestUsers(t)
	for _, u := range []struct{ name, passwd, role string }{
		{"admin", "admin-secret", users.RoleAdmin},
		{"operator", "op-secret", users.RoleBasic},
	} {
		h, err := bcrypt.GenerateFromPassword([]byte(u.passwd), bcrypt.MinCost)
		require.NoError(t, err)
		require.NoError(t, us.Register(t.Context(), users.Registration{Username: u.name, PasswordHash: string(h), Role: u.role}))
	}
	ts := newTestServer(t, Config{Auth: us})
	return ts.URL + "/api/v1/mcp101"
}

func TestAuth_Required(t *testing.T) {
	base := newAuthServer(t)

	t.Run("no credentials", func(t *testing.T) {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, base, http.NoBody)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, `Basic realm="wirecutter"`, resp.Header.Get("WWW-Authenticate"))
	})

	tests := []struct {
		name         string
		user, passwd string
	}{
		{"wrong password", "operator", "nope"},
		{"unknown user", "ghost", "op-secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doRequest(t, http.MethodPost, base, `{"title":"t"}`, tt.user, tt.passwd)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, store.KindUnauthorized, decodeBody[APIErrorResponse](t, body).Kind)
		})
	}

	t.Run("reads stay public", func(t *testing.T) {
		code, _ := doRequest(t, http.MethodGet, base, "")
		assert.Equal(t, http.StatusOK, code)
		code, _ = doRequest(t, http.MethodGet, base+"/status/last", "")
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestAuth_Roles(t *testing.T) {
	base := newAuthServer(t)

	code, body := doRequest(t, http.MethodPost, base, `{"title":"by operator"}`, "operator", "op-secret")
	require.Equal(t, http.StatusCreated, code, body)
	job := decodeBody[APIResultResponse](t, body).Job
	require.NotNil(t, job)
	assert.Equal(t, "operator", job.User, "user defaults to the caller")

	code, body = doRequest(t, http.MethodPost, base, `{"user":"someone","title":"explicit"}`, "operator", "op-secret")
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "someone", decodeBody[APIResultResponse](t, body).Job.User)

	code, _ = doRequest(t, http.MethodPost, base+"/status", `[{"label":"l","info":"i"}]`, "operator", "op-secret")
	assert.Equal(t, http.StatusOK, code)

	rank := fmt.Sprintf(`[{"jobid":%q,"jobRank":50}]`, job.ID)

	t.Run("basic user can't rerank", func(t *testing.T) {
		code, body := doRequest(t, http.MethodPost, base+"/rank", rank, "operator", "op-secret")
		assert.Equal(t, http.StatusForbidden, code)
		assert.Contains(t, body, "admin role required")
	})

	t.Run("admin can rerank", func(t *testing.T) {
		code, body := doRequest(t, http.MethodPost, base+"/rank", rank, "admin", "admin-secret")
		require.Equal(t, http.StatusOK, code, body)
		_, body = doRequest(t, http.MethodGet, base+"/"+job.ID, "")
		assert.Equal(t, int64(50), decodeBody[APIJobResponse](t, body).Job.Rank)
	})

	t.Run("rerank without credentials", func(t *testing.T) {
		code, _ := doRequest(t, http.MethodPost, base+"/rank", rank)
		assert.Equal(t, http.StatusUnauthorized, code)
	})
}

func TestAuth_Disabled(t *testing.T) {
	ts := newTestServer(t, Config{})
	code, _ := doRequest(t, http.MethodPost, ts.URL+"/api/v1/mcp101/rank", `[]`)
	assert.Equal(t, http.StatusOK, code)
}
