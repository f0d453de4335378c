package mailer

import (
	"errors"
	"strings"

	"github.com/emersion/go-smtp"
)

// Outcome is how the pipeline should react to a send error.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeTemporary errors are retried with the normal backoff.
	OutcomeTemporary
	// OutcomeThrottled means the server asked us to slow down.
	OutcomeThrottled
	// OutcomePermanent errors are never retried.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTemporary:
		return "temporary"
	case OutcomeThrottled:
		return "throttled"
	case OutcomePermanent:
		return "permanent"
	}
	return "unknown"
}

func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, ErrInvalidMessage) {
		return OutcomePermanent
	}

	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) {
		// network errors, timeouts, TLS failures
		return OutcomeTemporary
	}

	switch {
	case smtpErr.Code >= 500:
		return OutcomePermanent
	case smtpErr.Code == 421, smtpErr.Code == 450, smtpErr.Code == 451, smtpErr.Code == 452:
		return OutcomeThrottled
	case smtpErr.Code >= 400:
		msg := strings.ToLower(smtpErr.Message)
		if strings.Contains(msg, "rate") || strings.Contains(msg, "limit") {
			return OutcomeThrottled
		}
		return OutcomeTemporary
	}
	return OutcomeTemporary
}

// IsHardBounce reports a permanent failure that says the mailbox does not
// exist, so the contact should stop receiving mail.
func IsHardBounce(err error) bool {
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code < 500 {
		return false
	}

	ec := smtpErr.EnhancedCode
	if ec[0] > 0 {
		return ec[0] == 5 && ec[1] == 1
	}
	switch smtpErr.Code {
	case 550, 551, 553:
		return true
	}
	return false
}
