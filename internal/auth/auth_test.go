package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/folio/internal/config"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
		err    error
	}{
		{name: "valid", header: "Bearer test-key", want: "test-key"},
		{name: "padded", header: "Bearer   test-key  ", want: "test-key"},
		{name: "missing", header: "", err: ErrMissingToken},
		{name: "basic", header: "Basic abc", err: ErrBadHeader},
		{name: "blank", header: "Bearer   ", err: ErrEmptyToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(req)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	cfg := config.APIAuthConfig{
		APIKey: "admin-key",
		Tokens: []config.APIToken{
			{Token: "editor", Scopes: []string{"books:rw", " jobs:ro ", ""}},
			{Token: "watcher", Scopes: []string{"events:ro"}},
		},
	}

	admin, ok := Authenticate("admin-key", cfg)
	require.True(t, ok)
	assert.True(t, HasAnyScope(admin, ScopeBooksWrite))
	assert.True(t, HasAnyScope(admin, "anything"))

	editor, ok := Authenticate("editor", cfg)
	require.True(t, ok)
	assert.True(t, HasAnyScope(editor, ScopeBooksRead), "books:rw implies books:ro")
	assert.True(t, HasAnyScope(editor, ScopeJobsRead))
	assert.False(t, HasAnyScope(editor, ScopeEventsRead))
	assert.NotContains(t, editor.Scopes, "")

	watcher, ok := Authenticate("watcher", cfg)
	require.True(t, ok)
	assert.False(t, HasAnyScope(watcher, ScopeBooksRead, ScopeBooksWrite))
	assert.True(t, HasAnyScope(watcher))

	_, ok = Authenticate("nope", cfg)
	assert.False(t, ok)
	_, ok = Authenticate("", config.APIAuthConfig{})
	assert.False(t, ok, "an empty key never authenticates")
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
}
