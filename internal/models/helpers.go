package models

import (
	"errors"

	"gorm.io/gorm"
)

var ErrNoSMTPConfig = errors.New("no smtp config found")

// ways to get a smtp config
// 1. if they pass in a smtp config id, we get that one (it must belong to the team)
// 2. if they don't pass one, we get the team's active default
// 3. nil, ErrNoSMTPConfig means the platform relay should be used

func GetSMTPConfig(db *gorm.DB, teamID string, smtpConfigID *string) (*SMTPConfig, error) {
	smtpConfig := &SMTPConfig{}
	if smtpConfigID != nil && *smtpConfigID != "" {
		if err := db.Where("id = ? AND team_id = ?", *smtpConfigID, teamID).First(smtpConfig).Error; err != nil {
			return nil, err
		}
		return smtpConfig, nil
	}

	err := db.Where("team_id = ? AND is_default = ? AND is_active = ?", teamID, true, true).First(smtpConfig).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSMTPConfig
	}
	if err != nil {
		return nil, err
	}
	return smtpConfig, nil
}

// GetCampaignForSend loads a campaign with everything a send needs.
func GetCampaignForSend(db *gorm.DB, id string) (*Campaign, error) {
	var c Campaign
	// a template deleted mid-send still renders for the remaining recipients
	unscoped := func(tx *gorm.DB) *gorm.DB { return tx.Unscoped() }
	if err := db.Preload("Template", unscoped).Preload("SenderEmail.Domain").First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// TeamOwned is implemented by rows the generic CRUD layer scopes to a team.
type TeamOwned interface {
	SetTeamID(id string)
	GetTeamID() string
}

func (t *Template) SetTeamID(id string)    { t.TeamID = id }
func (t *Template) GetTeamID() string      { return t.TeamID }
func (l *ContactList) SetTeamID(id string) { l.TeamID = id }
func (l *ContactList) GetTeamID() string   { return l.TeamID }
func (c *Contact) SetTeamID(id string)     { c.TeamID = id }
func (c *Contact) GetTeamID() string       { return c.TeamID }
func (s *SMTPConfig) SetTeamID(id string)  { s.TeamID = id }
func (s *SMTPConfig) GetTeamID() string    { return s.TeamID }
func (f *File) SetTeamID(id string)        { f.TeamID = id }
func (f *File) GetTeamID() string          { return f.TeamID }
