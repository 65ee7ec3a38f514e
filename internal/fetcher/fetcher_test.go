package fetcher

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scentbase/perfume-catalog/internal/config"
	"github.com/scentbase/perfume-catalog/internal/ratelimit"
)

func TestNewFillsOptionDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := New(Options{}, ratelimit.NewDelayLimiter(0), logger)

	assert.NotEmpty(t, f.opts.ContentSelector)
	assert.Equal(t, 10*time.Second, f.opts.ContentTimeout)

	f = New(Options{ContentTimeout: 3 * time.Second}, ratelimit.NewDelayLimiter(0), logger)
	assert.Equal(t, 3*time.Second, f.opts.ContentTimeout)
}

func TestIsBlockPage(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		blocked bool
	}{
		{
			name:    "signature in title",
			html:    `<html><head><title>Too Many Requests</title></head><body></body></html>`,
			blocked: true,
		},
		{
			name:    "signature in heading",
			html:    `<html><body><h1>Access Denied</h1></body></html>`,
			blocked: true,
		},
		{
			name:    "signature in body prefix",
			html:    `<html><body><p>You have been blocked from this site.</p></body></html>`,
			blocked: true,
		},
		{
			name:    "case insensitive",
			html:    `<html><head><title>RATE LIMIT exceeded</title></head></html>`,
			blocked: true,
		},
		{
			name: "signature deep in the body is ignored",
			html: `<html><body><h1>Aventus Creed</h1><p>` +
				pad(600) + ` too many requests</p></body></html>`,
			blocked: false,
		},
		{
			name:    "ordinary product page",
			html:    `<html><head><title>Aventus Creed</title></head><body><h1>Aventus</h1></body></html>`,
			blocked: false,
		},
		{
			name:    "empty page",
			html:    ``,
			blocked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.blocked, IsBlockPage(tt.html, config.DefaultBlockSignatures))
		})
	}
}

func TestIsBlockPageNoSignatures(t *testing.T) {
	assert.False(t, IsBlockPage(`<title>Too Many Requests</title>`, nil))
}

func TestErrorFormatting(t *testing.T) {
	e := &Error{Kind: KindRateLimited, URL: "https://example.com/p"}
	assert.Contains(t, e.Error(), "rate_limited")
	assert.Contains(t, e.Error(), "https://example.com/p")

	wrapped := &Error{Kind: KindNetworkFailure, URL: "u", Err: assert.AnError}
	assert.ErrorIs(t, wrapped, assert.AnError)
}

func pad(n int) string {
	s := make([]byte, n)
	for i := range s {
		s[i] = 'x'
	}
	return string(s)
}
