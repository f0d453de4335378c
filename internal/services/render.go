package services

import (
	"fmt"
	"strings"

	"vashsender/internal/mailer"
	"vashsender/internal/models"
	"vashsender/internal/utils"
)

// Renderer turns a campaign and one recipient into a ready-to-send message
// with tracking and unsubscribe links.
type Renderer struct {
	signer *utils.TrackingSigner
}

func NewRenderer(signer *utils.TrackingSigner) *Renderer {
	return &Renderer{signer: signer}
}

// Render needs c.Template and c.SenderEmail.Domain loaded, and r.Contact.
func (rd *Renderer) Render(c *models.Campaign, r *models.CampaignRecipient) (*mailer.Message, error) {
	if c.Template == nil || c.SenderEmail == nil {
		return nil, fmt.Errorf("%w: campaign %s is missing template or sender", ErrInvalidState, c.ID)
	}

	vars := map[string]string{"email": r.Email}
	if r.Contact != nil {
		vars = r.Contact.Variables()
	}

	unsubURL, err := rd.signer.UnsubscribeURL(r.ID)
	if err != nil {
		return nil, fmt.Errorf("sign unsubscribe link: %w", err)
	}
	vars["unsubscribe_url"] = unsubURL

	content := RenderTemplate(c.Template, c.Subject, vars)

	body := utils.RewriteLinks(content.HTML, func(href string) (string, error) {
		if href == unsubURL || !utils.IsTrackableURL(href) {
			return "", nil
		}
		return rd.signer.ClickURL(r.ID, href)
	})
	if body != "" {
		openURL, err := rd.signer.OpenURL(r.ID)
		if err != nil {
			return nil, fmt.Errorf("sign open pixel: %w", err)
		}
		body = utils.InjectOpenPixel(body, openURL)
	}

	msg := baseMessage(c, r.Email)
	msg.Subject = content.Subject
	msg.HTML = body
	msg.Text = content.Text
	msg.Headers["List-Unsubscribe"] = "<" + unsubURL + ">"
	msg.Headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	return msg, nil
}

// RenderTest renders c for a test recipient without tracking; vars fill
// the placeholders a real contact would.
func (rd *Renderer) RenderTest(c *models.Campaign, to string, vars map[string]string) (*mailer.Message, error) {
	if c.Template == nil || c.SenderEmail == nil {
		return nil, fmt.Errorf("%w: campaign %s is missing template or sender", ErrInvalidState, c.ID)
	}
	if vars == nil {
		vars = map[string]string{}
	}
	if _, ok := vars["email"]; !ok {
		vars["email"] = to
	}
	vars["unsubscribe_url"] = "#"

	content := RenderTemplate(c.Template, c.Subject, vars)
	msg := baseMessage(c, to)
	msg.Subject = "[Test] " + content.Subject
	msg.HTML = content.HTML
	msg.Text = content.Text
	return msg, nil
}

func baseMessage(c *models.Campaign, to string) *mailer.Message {
	sender := c.SenderEmail
	msg := &mailer.Message{
		FromName:    sender.DisplayName,
		FromAddress: sender.Email,
		To:          strings.TrimSpace(to),
		ReplyTo:     sender.ReplyTo,
		Headers: map[string]string{
			"X-Campaign-Id": c.ID,
		},
	}
	if d := sender.Domain; d != nil && d.DKIMPrivateKey != "" {
		msg.DKIM = &mailer.DKIMSigner{
			Domain:     d.Name,
			Selector:   d.DKIMSelector,
			PrivateKey: d.DKIMPrivateKey,
		}
	}
	return msg
}
