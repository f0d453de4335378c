package utils

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingSigner_RoundTrip(t *testing.T) {
	s := NewTrackingSigner("secret", "https://t.example.com/")

	clickURL, err := s.ClickURL("rcpt-1", "https://shop.example.com/a?b=1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(clickURL, "https://t.example.com/t/click?token="))

	u, err := url.Parse(clickURL)
	require.NoError(t, err)
	claims, err := s.Parse(u.Query().Get("token"), TokenClick)
	require.NoError(t, err)
	assert.Equal(t, "rcpt-1", claims.RecipientID)
	assert.Equal(t, "https://shop.example.com/a?b=1", claims.URL)

	// wrong kind
	_, err = s.Parse(u.Query().Get("token"), TokenOpen)
	assert.ErrorIs(t, err, ErrInvalidTrackingToken)

	// wrong secret
	other := NewTrackingSigner("other", "https://t.example.com")
	_, err = other.Parse(u.Query().Get("token"), TokenClick)
	assert.ErrorIs(t, err, ErrInvalidTrackingToken)
}

func TestTrackingSigner_RejectsNonHTTPClickTarget(t *testing.T) {
	s := NewTrackingSigner("secret", "https://t.example.com")
	tok, err := s.Sign("r", TokenClick, "javascript:alert(1)")
	require.NoError(t, err)

	_, err = s.Parse(tok, TokenClick)
	assert.ErrorIs(t, err, ErrInvalidTrackingToken)
}

func TestRewriteLinks(t *testing.T) {
	html := `<p><a href="https://a.example.com/x?y=1&amp;z=2">A</a> <a class="btn" href='mailto:me@example.com'>M</a></p>`

	var seen []string
	out := RewriteLinks(html, func(href string) (string, error) {
		seen = append(seen, href)
		if !IsTrackableURL(href) {
			return "", nil
		}
		return "https://t/c?u=" + url.QueryEscape(href) + "&x=1", nil
	})

	assert.Equal(t, []string{"https://a.example.com/x?y=1&z=2", "mailto:me@example.com"}, seen)
	assert.Contains(t, out, `href="https://t/c?u=https%3A%2F%2Fa.example.com%2Fx%3Fy%3D1%26z%3D2&amp;x=1"`)
	assert.Contains(t, out, `href='mailto:me@example.com'`)
}

func TestInjectOpenPixel(t *testing.T) {
	out := InjectOpenPixel("<html><body><p>x</p></BODY></html>", "https://t/o?token=a&b")
	assert.Equal(t, `<html><body><p>x</p><img src="https://t/o?token=a&amp;b" width="1" height="1" alt="" style="display:none" /></BODY></html>`, out)

	out = InjectOpenPixel("<p>fragment</p>", "https://t/o")
	assert.True(t, strings.HasSuffix(out, `style="display:none" />`))
}

func TestGetIPAddress(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[2001:db8::1]:5555"
	assert.Equal(t, "2001:db8::1", GetIPAddress(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", GetIPAddress(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", GetIPAddress(r))
}

func TestParseUserAgent(t *testing.T) {
	d := ParseUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1")
	assert.Equal(t, "mobile", d.Type)
	assert.Equal(t, "Safari", d.Browser)

	d = ParseUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Equal(t, "desktop", d.Type)
	assert.Equal(t, "Chrome", d.Browser)

	assert.Equal(t, "other", ParseUserAgent("").Type)
}
