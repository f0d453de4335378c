package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	dkim "github.com/toorop/go-dkim"
)

var ErrInvalidMessage = errors.New("invalid message")

// Message is a single outgoing email.
type Message struct {
	FromName    string
	FromAddress string
	To          string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Headers     map[string]string
	// MessageID without angle brackets; generated when empty.
	MessageID string
	DKIM      *DKIMSigner
}

// DKIMSigner signs composed messages with the sending domain's key.
type DKIMSigner struct {
	Domain     string
	Selector   string
	PrivateKey string // PKCS#1 PEM
}

func (m *Message) validate() error {
	if m.FromAddress == "" || m.To == "" {
		return fmt.Errorf("%w: from and to are required", ErrInvalidMessage)
	}
	if m.HTML == "" && m.Text == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	return nil
}

// Compose renders the message as RFC 5322 bytes, multipart/alternative
// when both bodies are present, and DKIM-signs it if configured.
func (m *Message) Compose() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if m.MessageID == "" {
		m.MessageID = fmt.Sprintf("%s@%s", uuid.NewString(), messageIDHost(m.FromAddress))
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.FromAddress}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	if m.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: m.ReplyTo}})
	}
	h.SetSubject(m.Subject)
	h.Set("Message-Id", "<"+m.MessageID+">")
	for k, v := range m.Headers {
		h.Set(k, v)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline part: %w", err)
	}
	if m.Text != "" {
		if err := writePart(iw, "text/plain", m.Text); err != nil {
			return nil, err
		}
	}
	if m.HTML != "" {
		if err := writePart(iw, "text/html", m.HTML); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	raw := buf.Bytes()
	if m.DKIM != nil && m.DKIM.PrivateKey != "" {
		if err := m.DKIM.sign(&raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func writePart(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *DKIMSigner) sign(raw *[]byte) error {
	options := dkim.NewSigOptions()
	options.PrivateKey = []byte(s.PrivateKey)
	options.Domain = s.Domain
	options.Selector = s.Selector
	options.Headers = []string{"from", "to", "subject", "date", "message-id", "mime-version", "content-type", "list-unsubscribe"}
	options.AddSignatureTimestamp = true
	options.Canonicalization = "relaxed/relaxed"

	if err := dkim.Sign(raw, options); err != nil {
		return fmt.Errorf("failed to dkim-sign message: %w", err)
	}
	return nil
}

func messageIDHost(from string) string {
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		return from[at+1:]
	}
	return "localhost"
}
