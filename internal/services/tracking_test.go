package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"vashsender/internal/models"
	"vashsender/internal/utils"
)

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"

// sentCampaign delivers a campaign to the given addresses and returns it
// with its recipients keyed by email.
func sentCampaign(t *testing.T, f *fixture, emails ...string) (*models.Campaign, map[string]models.CampaignRecipient) {
	t.Helper()
	f.addContacts(t, f.list.ID, models.SubscriberStatusActive, emails...)
	c := f.newCampaign(t)
	_, err := f.campaigns.Start(context.Background(), f.teamID, c.ID)
	require.NoError(t, err)
	f.drain(t)
	return c, f.recipients(t, c.ID)
}

func TestTracking_OpenAndClickCountOnce(t *testing.T) {
	f := newFixture(t)
	signer := utils.NewTrackingSigner("tracking-secret", "https://t.vash.test")
	svc := NewTrackingService(f.db, signer)
	ctx := context.Background()

	c, rs := sentCampaign(t, f, "a@x.test", "b@x.test")
	a := rs["a@x.test"]
	hit := Hit{IP: "203.0.113.9", UserAgent: iphoneUA}

	click, err := signer.Sign(a.ID, utils.TokenClick, "https://acme.test/sale")
	require.NoError(t, err)
	target, err := svc.RecordClick(ctx, click, hit)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/sale", target)

	open, err := signer.Sign(a.ID, utils.TokenOpen, "")
	require.NoError(t, err)
	require.NoError(t, svc.RecordOpen(ctx, open, hit))
	require.NoError(t, svc.RecordOpen(ctx, open, hit))
	_, err = svc.RecordClick(ctx, click, hit)
	require.NoError(t, err)

	got := f.reload(t, c.ID)
	assert.Equal(t, 1, got.OpenedCount)
	assert.Equal(t, 1, got.ClickedCount)

	events, total, err := svc.Events(ctx, f.teamID, c.ID, "", 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, events, 4)
	assert.Equal(t, "mobile", events[0].DeviceType)
	assert.Equal(t, "203.0.113.9", events[0].IPAddress)

	clicks, total, err := svc.Events(ctx, f.teamID, c.ID, string(models.EmailTrackingEventClick), 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, "https://acme.test/sale", clicks[0].URL)

	_, _, err = svc.Events(ctx, "other-team", c.ID, "", 1, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTracking_RejectsForgedAndMismatchedTokens(t *testing.T) {
	f := newFixture(t)
	signer := utils.NewTrackingSigner("tracking-secret", "https://t.vash.test")
	svc := NewTrackingService(f.db, signer)
	ctx := context.Background()

	_, rs := sentCampaign(t, f, "a@x.test")
	a := rs["a@x.test"]

	forged, err := utils.NewTrackingSigner("other-secret", "https://t.vash.test").Sign(a.ID, utils.TokenOpen, "")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RecordOpen(ctx, forged, Hit{}), ErrBadTrackingLink)

	open, err := signer.Sign(a.ID, utils.TokenOpen, "")
	require.NoError(t, err)
	_, err = svc.RecordClick(ctx, open, Hit{})
	assert.ErrorIs(t, err, ErrBadTrackingLink)

	ghost, err := signer.Sign("00000000-0000-0000-0000-000000000000", utils.TokenOpen, "")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RecordOpen(ctx, ghost, Hit{}), ErrBadTrackingLink)
}

func TestTracking_UnsubscribeCoversEveryList(t *testing.T) {
	f := newFixture(t)
	signer := utils.NewTrackingSigner("tracking-secret", "https://t.vash.test")
	svc := NewTrackingService(f.db, signer)
	ctx := context.Background()

	other := f.newList(t, "Other")
	f.addContacts(t, other.ID, models.SubscriberStatusActive, "a@x.test", "b@x.test")
	c, rs := sentCampaign(t, f, "a@x.test")

	tok, err := signer.Sign(rs["a@x.test"].ID, utils.TokenUnsubscribe, "")
	require.NoError(t, err)
	email, err := svc.Unsubscribe(ctx, tok, Hit{})
	require.NoError(t, err)
	assert.Equal(t, "a@x.test", email)

	_, err = svc.Unsubscribe(ctx, tok, Hit{})
	require.NoError(t, err)

	var statuses []models.Contact
	require.NoError(t, f.db.Where("team_id = ?", f.teamID).Order("email").Find(&statuses).Error)
	byList := map[string]models.SubscriberStatus{}
	for _, ct := range statuses {
		byList[ct.Email+"/"+ct.ListID] = ct.Status
	}
	assert.Equal(t, models.SubscriberStatusUnsubscribed, byList["a@x.test/"+f.list.ID])
	assert.Equal(t, models.SubscriberStatusUnsubscribed, byList["a@x.test/"+other.ID])
	assert.Equal(t, models.SubscriberStatusActive, byList["b@x.test/"+other.ID])

	assert.Equal(t, 1, f.reload(t, c.ID).Unsubscribed)
}

func TestTracking_Export(t *testing.T) {
	f := newFixture(t)
	svc := NewTrackingService(f.db, utils.NewTrackingSigner("tracking-secret", "https://t.vash.test"))
	ctx := context.Background()

	c, _ := sentCampaign(t, f, "b@x.test", "a@x.test")

	var out bytes.Buffer
	require.NoError(t, svc.Export(ctx, f.teamID, c.ID, "csv", &out))
	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, "a@x.test", rows[1][0])
	assert.Equal(t, string(models.RecipientStatusSent), rows[1][1])
	assert.NotEmpty(t, rows[1][3])

	out.Reset()
	require.NoError(t, svc.Export(ctx, f.teamID, c.ID, "xlsx", &out))
	book, err := excelize.OpenReader(&out)
	require.NoError(t, err)
	sheet, err := book.GetRows("Recipients")
	require.NoError(t, err)
	require.Len(t, sheet, 3)
	assert.Equal(t, "b@x.test", sheet[2][0])

	assert.ErrorIs(t, svc.Export(ctx, f.teamID, c.ID, "pdf", &out), ErrValidation)
	assert.ErrorIs(t, svc.Export(ctx, "other-team", c.ID, "csv", &out), ErrNotFound)
}

func TestTracking_ExportSpansBatches(t *testing.T) {
	f := newFixture(t)
	svc := NewTrackingService(f.db, utils.NewTrackingSigner("tracking-secret", "https://t.vash.test"))
	ctx := context.Background()
	c := f.newCampaign(t)

	// random ids make primary key order differ from email order
	const total = 1500
	rs := make([]models.CampaignRecipient, 0, total)
	for i := 0; i < total; i++ {
		rs = append(rs, models.CampaignRecipient{
			CampaignID: c.ID,
			ContactID:  uuid.NewString(),
			Email:      fmt.Sprintf("user%04d@x.test", i),
			Status:     models.RecipientStatusSent,
		})
	}
	require.NoError(t, f.db.CreateInBatches(rs, 200).Error)

	var out bytes.Buffer
	require.NoError(t, svc.Export(ctx, f.teamID, c.ID, "csv", &out))
	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, total+1)

	seen := make(map[string]bool, total)
	for i, row := range rows[1:] {
		assert.Equal(t, fmt.Sprintf("user%04d@x.test", i), row[0])
		seen[row[0]] = true
	}
	assert.Len(t, seen, total)
}

func TestTracking_Engagement(t *testing.T) {
	f := newFixture(t)
	signer := utils.NewTrackingSigner("tracking-secret", "https://t.vash.test")
	svc := NewTrackingService(f.db, signer)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC) }
	ctx := context.Background()

	c, rs := sentCampaign(t, f, "a@x.test", "b@x.test")

	empty, err := svc.Engagement(ctx, f.teamID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, empty.BestHour)

	open, err := signer.Sign(rs["a@x.test"].ID, utils.TokenOpen, "")
	require.NoError(t, err)
	require.NoError(t, svc.RecordOpen(ctx, open, Hit{UserAgent: iphoneUA}))
	click, err := signer.Sign(rs["b@x.test"].ID, utils.TokenClick, "https://acme.test/")
	require.NoError(t, err)
	_, err = svc.RecordClick(ctx, click, Hit{UserAgent: iphoneUA})
	require.NoError(t, err)

	got, err := svc.Engagement(ctx, f.teamID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, EngagementMetrics{Opens: 1, Clicks: 1}, got.Devices["mobile"])
	assert.Equal(t, EngagementMetrics{Opens: 1, Clicks: 1}, got.Hourly[14])
	assert.Equal(t, EngagementMetrics{Opens: 1, Clicks: 1}, got.Weekdays["Monday"])
	assert.Equal(t, 14, got.BestHour)

	_, err = svc.Engagement(ctx, "other-team", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
