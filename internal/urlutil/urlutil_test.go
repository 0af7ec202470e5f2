package urlutil

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		want    string
		wantErr bool
	}{
		{
			name: "simple join",
			base: "https://backend.example.com",
			path: "/api/v2/user/exchangeCode",
			want: "https://backend.example.com/api/v2/user/exchangeCode",
		},
		{
			name: "base with prefix and trailing slash",
			base: "https://backend.example.com/prefix/",
			path: "api/v2/user/me",
			want: "https://backend.example.com/prefix/api/v2/user/me",
		},
		{
			name: "trailing slash preserved",
			base: "https://backend.example.com",
			path: "/api/",
			want: "https://backend.example.com/api/",
		},
		{
			name: "query on base is dropped",
			base: "https://backend.example.com/?x=1",
			path: "/logout",
			want: "https://backend.example.com/logout",
		},
		{
			name:    "relative base rejected",
			base:    "backend.example.com",
			path:    "/me",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Endpoint(tt.base, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithoutParam(t *testing.T) {
	u, err := url.Parse("http://127.0.0.1:8976/?code=abc&code=def&keep=1#frag")
	require.NoError(t, err)

	stripped := WithoutParam(u, "code")
	assert.Equal(t, "http://127.0.0.1:8976/?keep=1#frag", stripped.String())
	assert.Equal(t, "abc", u.Query().Get("code"), "original must be untouched")

	bare, err := url.Parse("http://127.0.0.1:8976/?code=abc")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8976/", WithoutParam(bare, "code").String())
}

func TestWithParamAndSameOrigin(t *testing.T) {
	u, err := url.Parse("http://127.0.0.1:8976/")
	require.NoError(t, err)

	withCode := WithParam(u, "code", `{"data":"d"}`)
	assert.Equal(t, `{"data":"d"}`, withCode.Query().Get("code"))

	other, _ := url.Parse("HTTP://127.0.0.1:8976/other")
	assert.True(t, SameOrigin(u, other))
	remote, _ := url.Parse("https://127.0.0.1:8976/")
	assert.False(t, SameOrigin(u, remote))
}
