package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"vashsender/internal/models"
	"vashsender/internal/utils"
)

var ErrBadTrackingLink = errors.New("invalid tracking link")

// Hit describes the client that followed a tracking link.
type Hit struct {
	IP        string
	UserAgent string
}

type TrackingService struct {
	db     *gorm.DB
	signer *utils.TrackingSigner
	now    func() time.Time
}

func NewTrackingService(db *gorm.DB, signer *utils.TrackingSigner) *TrackingService {
	return &TrackingService{db: db, signer: signer, now: time.Now}
}

func (s *TrackingService) recipient(ctx context.Context, token, kind string) (*models.CampaignRecipient, *utils.TrackingClaims, error) {
	claims, err := s.signer.Parse(token, kind)
	if err != nil {
		return nil, nil, ErrBadTrackingLink
	}
	var r models.CampaignRecipient
	err = s.db.WithContext(ctx).First(&r, "id = ?", claims.RecipientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrBadTrackingLink
	}
	if err != nil {
		return nil, nil, err
	}
	return &r, claims, nil
}

func (s *TrackingService) event(r *models.CampaignRecipient, kind models.EmailTrackingEvent, url string, hit Hit, at time.Time) *models.EmailTracking {
	device := utils.ParseUserAgent(hit.UserAgent)
	return &models.EmailTracking{
		CampaignID:  r.CampaignID,
		RecipientID: r.ID,
		ContactID:   r.ContactID,
		Event:       kind,
		URL:         url,
		IPAddress:   hit.IP,
		UserAgent:   truncate(hit.UserAgent, 500),
		DeviceType:  device.Type,
		Browser:     device.Browser,
		OS:          device.OS,
		Timestamp:   at,
	}
}

// markFirst sets column on the recipient if it is still empty and bumps the
// campaign counter when it did.
func markFirst(tx *gorm.DB, r *models.CampaignRecipient, column, counter string, at time.Time) error {
	res := tx.Model(&models.CampaignRecipient{}).
		Where("id = ? AND "+column+" IS NULL", r.ID).
		Update(column, at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return tx.Model(&models.Campaign{}).Where("id = ?", r.CampaignID).
		Update(counter, gorm.Expr(counter+" + 1")).Error
}

// RecordOpen logs an open; only the first one per recipient is counted.
func (s *TrackingService) RecordOpen(ctx context.Context, token string, hit Hit) error {
	r, _, err := s.recipient(ctx, token, utils.TokenOpen)
	if err != nil {
		return err
	}
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s.event(r, models.EmailTrackingEventOpen, "", hit, now)).Error; err != nil {
			return err
		}
		return markFirst(tx, r, "opened_at", "opened_count", now)
	})
}

// RecordClick logs a click and returns where to send the browser. A click
// counts as an open too.
func (s *TrackingService) RecordClick(ctx context.Context, token string, hit Hit) (string, error) {
	r, claims, err := s.recipient(ctx, token, utils.TokenClick)
	if err != nil {
		return "", err
	}
	if !utils.IsTrackableURL(claims.URL) {
		return "", ErrBadTrackingLink
	}
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s.event(r, models.EmailTrackingEventClick, claims.URL, hit, now)).Error; err != nil {
			return err
		}
		if err := markFirst(tx, r, "opened_at", "opened_count", now); err != nil {
			return err
		}
		return markFirst(tx, r, "clicked_at", "clicked_count", now)
	})
	if err != nil {
		return "", err
	}
	return claims.URL, nil
}

// Unsubscribe opts the address out of every list of the team that sent
// the campaign. Repeated requests are harmless.
func (s *TrackingService) Unsubscribe(ctx context.Context, token string, hit Hit) (string, error) {
	r, _, err := s.recipient(ctx, token, utils.TokenUnsubscribe)
	if err != nil {
		return "", err
	}
	var c models.Campaign
	if err := s.db.WithContext(ctx).Select("id", "team_id").First(&c, "id = ?", r.CampaignID).Error; err != nil {
		return "", err
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s.event(r, models.EmailTrackingEventUnsubscribe, "", hit, now)).Error; err != nil {
			return err
		}
		if err := markFirst(tx, r, "unsub_at", "unsubscribed", now); err != nil {
			return err
		}
		return tx.Model(&models.Contact{}).
			Where("team_id = ? AND email = ? AND status = ?", c.TeamID, r.Email, models.SubscriberStatusActive).
			Update("status", models.SubscriberStatusUnsubscribed).Error
	})
	if err != nil {
		return "", err
	}
	return r.Email, nil
}

// Events lists tracking events of a campaign, newest first.
func (s *TrackingService) Events(ctx context.Context, teamID, campaignID, kind string, page, limit int) ([]models.EmailTracking, int64, error) {
	if err := s.ownCampaign(ctx, teamID, campaignID); err != nil {
		return nil, 0, err
	}
	q := s.db.WithContext(ctx).Model(&models.EmailTracking{}).Where("campaign_id = ?", campaignID)
	if kind != "" {
		q = q.Where("event = ?", kind)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page > 0 && limit > 0 {
		q = q.Offset((page - 1) * limit).Limit(limit)
	}
	var out []models.EmailTracking
	err := q.Order("timestamp DESC").Find(&out).Error
	return out, total, err
}

func (s *TrackingService) ownCampaign(ctx context.Context, teamID, campaignID string) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Campaign{}).Where("id = ? AND team_id = ?", campaignID, teamID).Count(&n).Error
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var exportHeader = []string{"email", "status", "attempts", "sent_at", "opened_at", "clicked_at", "unsubscribed_at", "last_error"}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Export writes the per-recipient report as "csv" or "xlsx".
func (s *TrackingService) Export(ctx context.Context, teamID, campaignID, format string, w io.Writer) error {
	if err := s.ownCampaign(ctx, teamID, campaignID); err != nil {
		return err
	}

	var rows [][]string
	var batch []models.CampaignRecipient
	// FindInBatches pages by primary key, so ordering happens afterwards
	err := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID).
		FindInBatches(&batch, 1000, func(tx *gorm.DB, _ int) error {
			for _, r := range batch {
				rows = append(rows, []string{
					r.Email,
					string(r.Status),
					strconv.Itoa(r.Attempts),
					stamp(r.SentAt),
					stamp(r.OpenedAt),
					stamp(r.ClickedAt),
					stamp(r.UnsubAt),
					r.LastError,
				})
			}
			return nil
		}).Error
	if err != nil {
		return err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	switch format {
	case "", "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(exportHeader); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	case "xlsx":
		return writeXLSX(w, "Recipients", exportHeader, rows)
	}
	return fmt.Errorf("%w: unknown export format %q", ErrValidation, format)
}

func writeXLSX(w io.Writer, sheet string, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	write := func(i int, values []string) error {
		cells := make([]interface{}, len(values))
		for j, v := range values {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		return sw.SetRow(cell, cells)
	}
	if err := write(0, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := write(i+1, row); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}
