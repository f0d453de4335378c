package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mssola/user_agent"
)

// 🖼️ TransparentGIF returns a 1x1 transparent GIF
func TransparentGIF() []byte {
	// This is a base64 encoded 1x1 transparent GIF
	const transparentPixel = "R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"
	decoded, _ := base64.StdEncoding.DecodeString(transparentPixel)
	return decoded
}

// 🌐 GetIPAddress gets the real IP address from request
func GetIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	// Check X-Real-IP header
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	// Fall back to RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// 📱 Device is what we can tell about the client from its User-Agent.
type Device struct {
	Type    string
	Browser string
	OS      string
}

func ParseUserAgent(ua string) Device {
	if ua == "" {
		return Device{Type: "other"}
	}
	parsed := user_agent.New(ua)
	browser, _ := parsed.Browser()

	d := Device{Browser: browser, OS: parsed.OSInfo().Name, Type: "desktop"}
	switch {
	case parsed.Bot():
		d.Type = "other"
	case strings.Contains(strings.ToLower(ua), "ipad") || strings.Contains(strings.ToLower(ua), "tablet"):
		d.Type = "tablet"
	case parsed.Mobile():
		d.Type = "mobile"
	}
	return d
}

// Tracking token kinds
const (
	TokenOpen        = "open"
	TokenClick       = "click"
	TokenUnsubscribe = "unsubscribe"
)

var ErrInvalidTrackingToken = errors.New("invalid tracking token")

// TrackingClaims identify a recipient. Click tokens also carry the
// destination so the redirect endpoint never follows arbitrary URLs.
type TrackingClaims struct {
	RecipientID string `json:"rid"`
	Kind        string `json:"k"`
	URL         string `json:"u,omitempty"`
	jwt.RegisteredClaims
}

// TrackingSigner issues and verifies tracking tokens and builds the public
// tracking URLs embedded in emails.
type TrackingSigner struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
}

func NewTrackingSigner(secret, baseURL string) *TrackingSigner {
	return &TrackingSigner{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     180 * 24 * time.Hour,
	}
}

func (s *TrackingSigner) Sign(recipientID, kind, target string) (string, error) {
	claims := TrackingClaims{
		RecipientID: recipientID,
		Kind:        kind,
		URL:         target,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies token and checks it was issued for kind.
func (s *TrackingSigner) Parse(token, kind string) (*TrackingClaims, error) {
	claims := &TrackingClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidTrackingToken
	}
	if claims.Kind != kind || claims.RecipientID == "" {
		return nil, ErrInvalidTrackingToken
	}
	if kind == TokenClick && !IsTrackableURL(claims.URL) {
		return nil, ErrInvalidTrackingToken
	}
	return claims, nil
}

func (s *TrackingSigner) url(path, token string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(token)
}

func (s *TrackingSigner) OpenURL(recipientID string) (string, error) {
	tok, err := s.Sign(recipientID, TokenOpen, "")
	if err != nil {
		return "", err
	}
	return s.url("/t/open", tok), nil
}

func (s *TrackingSigner) ClickURL(recipientID, target string) (string, error) {
	tok, err := s.Sign(recipientID, TokenClick, target)
	if err != nil {
		return "", err
	}
	return s.url("/t/click", tok), nil
}

func (s *TrackingSigner) UnsubscribeURL(recipientID string) (string, error) {
	tok, err := s.Sign(recipientID, TokenUnsubscribe, "")
	if err != nil {
		return "", err
	}
	return s.url("/t/unsubscribe", tok), nil
}

// IsTrackableURL accepts absolute http(s) links only.
func IsTrackableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

var hrefRe = regexp.MustCompile(`(?i)(<a\s[^>]*?href\s*=\s*)(["'])([^"']+)(["'])`)

// RewriteLinks passes every anchor href through rewrite. Links for which
// rewrite returns an error or an empty string are left unchanged.
func RewriteLinks(html string, rewrite func(href string) (string, error)) string {
	return hrefRe.ReplaceAllStringFunc(html, func(match string) string {
		m := hrefRe.FindStringSubmatch(match)
		href := strings.TrimSpace(m[3])
		replaced, err := rewrite(unescapeHref(href))
		if err != nil || replaced == "" {
			return match
		}
		return m[1] + m[2] + escapeHref(replaced) + m[4]
	})
}

func unescapeHref(s string) string { return strings.ReplaceAll(s, "&amp;", "&") }
func escapeHref(s string) string   { return strings.ReplaceAll(s, "&", "&amp;") }

// InjectOpenPixel adds the tracking image just before </body>, or at the
// end when the document has no body tag.
func InjectOpenPixel(html, pixelURL string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none" />`, escapeHref(pixelURL))
	idx := strings.LastIndex(strings.ToLower(html), "</body>")
	if idx < 0 {
		return html + pixel
	}
	return html[:idx] + pixel + html[idx:]
}
