package services

import (
	"context"

	"vashsender/internal/models"
)

// EngagementMetrics counts opens and clicks in one bucket.
type EngagementMetrics struct {
	Opens  int `json:"opens"`
	Clicks int `json:"clicks"`
}

// Engagement breaks a campaign's tracking events down by client and time.
type Engagement struct {
	CampaignID string                       `json:"campaignId"`
	Devices    map[string]EngagementMetrics `json:"devices"`
	Browsers   map[string]EngagementMetrics `json:"browsers"`
	OS         map[string]EngagementMetrics `json:"os"`
	Hourly     map[int]EngagementMetrics    `json:"hourly"`
	Weekdays   map[string]EngagementMetrics `json:"weekdays"`
	// BestHour is the UTC hour with the most opens and clicks, -1 without data.
	BestHour int `json:"bestHour"`
}

func bump(m map[string]EngagementMetrics, key string, event models.EmailTrackingEvent) {
	if key == "" {
		key = "unknown"
	}
	v := m[key]
	if event == models.EmailTrackingEventClick {
		v.Clicks++
	} else {
		v.Opens++
	}
	m[key] = v
}

// Engagement aggregates open and click events of one campaign.
func (s *TrackingService) Engagement(ctx context.Context, teamID, campaignID string) (*Engagement, error) {
	if err := s.ownCampaign(ctx, teamID, campaignID); err != nil {
		return nil, err
	}

	var events []models.EmailTracking
	err := s.db.WithContext(ctx).
		Select("event", "device_type", "browser", "os", "timestamp").
		Where("campaign_id = ? AND event IN ?", campaignID,
			[]models.EmailTrackingEvent{models.EmailTrackingEventOpen, models.EmailTrackingEventClick}).
		Find(&events).Error
	if err != nil {
		return nil, err
	}

	out := &Engagement{
		CampaignID: campaignID,
		Devices:    map[string]EngagementMetrics{},
		Browsers:   map[string]EngagementMetrics{},
		OS:         map[string]EngagementMetrics{},
		Hourly:     map[int]EngagementMetrics{},
		Weekdays:   map[string]EngagementMetrics{},
		BestHour:   -1,
	}
	for _, e := range events {
		bump(out.Devices, e.DeviceType, e.Event)
		bump(out.Browsers, e.Browser, e.Event)
		bump(out.OS, e.OS, e.Event)
		ts := e.Timestamp.UTC()
		bump(out.Weekdays, ts.Weekday().String(), e.Event)

		h := out.Hourly[ts.Hour()]
		if e.Event == models.EmailTrackingEventClick {
			h.Clicks++
		} else {
			h.Opens++
		}
		out.Hourly[ts.Hour()] = h
	}

	best := 0
	for hour := 0; hour < 24; hour++ {
		m, ok := out.Hourly[hour]
		if ok && m.Opens+m.Clicks > best {
			best = m.Opens + m.Clicks
			out.BestHour = hour
		}
	}
	return out, nil
}
