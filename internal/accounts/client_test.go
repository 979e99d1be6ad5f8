package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoginSendsKeyAndDecodesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/token", r.URL.Path)
		require.Equal(t, "password", r.URL.Query().Get("grant_type"))
		require.Equal(t, "anon", r.Header.Get("apikey"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "ada@example.com", in["email"])
		_ = json.NewEncoder(w).Encode(Session{
			AccessToken: "tok",
			User:        User{ID: "u-1", Email: "ada@example.com"},
		})
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL+"/", "anon").Login(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "tok", s.AccessToken)
	require.Equal(t, "u-1", s.User.ID)
}

func TestVerifyAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, `{"msg":"bad jwt"}`, http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(User{ID: "u-2", Email: "b@example.com"})
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "anon")

	u, err := c.VerifyAccessToken(context.Background(), "good")
	require.NoError(t, err)
	require.Equal(t, "u-2", u.ID)

	_, err = c.VerifyAccessToken(context.Background(), "bad")
	require.ErrorIs(t, err, ErrRejected)
}

func TestServerErrorIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "anon").SignUp(context.Background(), "a@example.com", "pw")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRejected)
}
