package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/geniustalk/internal/logger"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"https://App.Example.com", " ", "not a url"}, logger.Discard())

	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"HTTPS://APP.EXAMPLE.COM", true},
		{"https://evil.example.com", false},
		{"http://app.example.com", false},
		{"garbage", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, policy.checkOrigin(r), "origin %q", tc.origin)
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, logger.Discard())
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, policy.checkOrigin(r))
}

func TestNormalizeOrigin(t *testing.T) {
	got, ok := normalizeOrigin("HTTP://LocalHost:8080/path")
	assert.True(t, ok)
	assert.Equal(t, "http://localhost:8080", got)

	_, ok = normalizeOrigin("localhost:8080")
	assert.False(t, ok)
}
