package oauth

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/luthierworks/luthier/internal/config"
	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/store"
	"github.com/luthierworks/luthier/internal/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "very-secret-client-secret"

func testGoogleConfig(tokenURL string) config.GoogleConfig {
	g := config.GoogleConfig{
		ClientID:     "client-123",
		ClientSecret: testSecret,
		PublicURL:    "https://shop.example.com",
		TokenURL:     tokenURL,
		Timeout:      2 * time.Second,
	}
	_ = g.Validate()
	return g
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *tokenstore.Store) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := tokenstore.New(store.NewMemorySettingsStore())
	c, err := New(testGoogleConfig(srv.URL), tokens, WithHTTPClient(srv.Client()), WithLogger(logging.Discard()))
	require.NoError(t, err)
	return c, tokens
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestNew_RequiresClientID(t *testing.T) {
	_, err := New(config.GoogleConfig{PublicURL: "https://x"}, tokenstore.New(store.NewMemorySettingsStore()))
	var vErr *errors.ErrConfigValidation
	assert.True(t, stderrors.As(err, &vErr))
}

func TestAuthorizationURL(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	raw := c.AuthorizationURL()
	assert.Equal(t, raw, c.AuthorizationURL(), "url is deterministic")
	assert.True(t, strings.HasPrefix(raw, config.DefaultAuthURL+"?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "https://shop.example.com/oauth/callback/google", q.Get("redirect_uri"))
	assert.Equal(t, strings.Join(config.DefaultScopes, " "), q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.NotContains(t, raw, testSecret)
}

func TestExchange_StoresTokens(t *testing.T) {
	var form url.Values
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		writeJSON(w, http.StatusOK, `{"access_token":"acc-1","refresh_token":"ref-1","expires_in":3600,"token_type":"Bearer"}`)
	})

	cred, err := c.Exchange(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", cred.AccessToken)
	assert.Equal(t, "ref-1", cred.RefreshToken)

	assert.Equal(t, "auth-code", form.Get("code"))
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "client-123", form.Get("client_id"))
	assert.Equal(t, testSecret, form.Get("client_secret"))
	assert.Equal(t, "https://shop.example.com/oauth/callback/google", form.Get("redirect_uri"))

	stored := tokens.Read()
	assert.Equal(t, "acc-1", stored.AccessToken)
	assert.Equal(t, "ref-1", stored.RefreshToken)
	assert.False(t, tokens.IsExpired())
}

func TestExchange_Failure(t *testing.T) {
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"client_secret=`+testSecret+`"}`)
	})

	_, err := c.Exchange(context.Background(), "bad-code")
	require.Error(t, err)

	var authErr *errors.AuthenticationError
	require.True(t, stderrors.As(err, &authErr))
	assert.NotContains(t, err.Error(), testSecret)
	assert.NotContains(t, authErr.UserMessage(), testSecret)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.False(t, tokens.Read().HasAccess())
}

func TestExchange_EmptyCode(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called")
	})

	_, err := c.Exchange(context.Background(), "")
	var authErr *errors.AuthenticationError
	assert.True(t, stderrors.As(err, &authErr))
}

func TestRefresh_KeepsRefreshToken(t *testing.T) {
	var form url.Values
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		writeJSON(w, http.StatusOK, `{"access_token":"acc-2","expires_in":3600,"token_type":"Bearer"}`)
	})
	require.NoError(t, tokens.Save("acc-1", "ref-1"))

	access, err := c.Refresh(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-2", access)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "ref-1", form.Get("refresh_token"))

	stored := tokens.Read()
	assert.Equal(t, "acc-2", stored.AccessToken)
	assert.Equal(t, "ref-1", stored.RefreshToken)
}

func TestRefresh_Rotated(t *testing.T) {
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"access_token":"acc-3","refresh_token":"ref-2","expires_in":3600,"token_type":"Bearer"}`)
	})
	require.NoError(t, tokens.Save("acc-1", "ref-1"))

	_, err := c.Refresh(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "ref-2", tokens.Read().RefreshToken)
}

func TestRefresh_Failure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"invalid_client"}`)
	})

	_, err := c.Refresh(context.Background(), "ref-1")
	var authErr *errors.AuthenticationError
	require.True(t, stderrors.As(err, &authErr))
	assert.NotContains(t, err.Error(), testSecret)

	_, err = c.Refresh(context.Background(), "")
	assert.True(t, stderrors.As(err, &authErr))
}
