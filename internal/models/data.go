package models

import (
	"embed"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"vashsender/internal/utils"
)

//go:embed initial/starter.json
var initialFS embed.FS

type InitialData struct {
	Lists     []ContactList `json:"lists"`
	Templates []Template    `json:"templates"`
}

// LoadInitialData gives a new team a starter list and template.
func LoadInitialData(db *gorm.DB, teamID string) error {
	raw, err := initialFS.ReadFile("initial/starter.json")
	if err != nil {
		return fmt.Errorf("failed to read starter data: %w", err)
	}

	var data InitialData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to unmarshal starter data: %w", err)
	}

	for _, list := range data.Lists {
		list.TeamID = teamID
		if err := db.Create(&list).Error; err != nil {
			return fmt.Errorf("failed to create list %s: %w", list.Name, err)
		}
	}

	for _, tmpl := range data.Templates {
		tmpl.TeamID = teamID
		tmpl.Variables = utils.ParseVariables(tmpl.Subject + tmpl.HTML + tmpl.PlainText)
		if err := db.Create(&tmpl).Error; err != nil {
			return fmt.Errorf("failed to create template %s: %w", tmpl.Name, err)
		}
	}

	return nil
}
