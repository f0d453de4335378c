package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Template struct {
	Base
	Name       string                      `gorm:"not null" json:"name" validate:"required,min=2"`
	Subject    string                      `gorm:"not null" json:"subject" validate:"required"`
	HTML       string                      `gorm:"type:text" json:"html"`
	PlainText  string                      `gorm:"type:text" json:"plainText"`
	DesignJSON datatypes.JSON              `json:"designJson,omitempty"`
	Variables  datatypes.JSONSlice[string] `json:"variables"`
	TeamID     string                      `gorm:"type:uuid;not null;index" json:"teamId"`
}

type ContactList struct {
	Base
	Name        string    `gorm:"not null" json:"name" validate:"required,min=2"`
	Description string    `json:"description"`
	TeamID      string    `gorm:"type:uuid;not null;index" json:"teamId"`
	Contacts    []Contact `gorm:"foreignKey:ListID" json:"contacts,omitempty"`
}

type Contact struct {
	Base
	Email     string           `gorm:"not null;uniqueIndex:idx_contact_list_email" json:"email" validate:"required,email"`
	FirstName string           `json:"firstName"`
	LastName  string           `json:"lastName"`
	Metadata  datatypes.JSON   `json:"metadata,omitempty"`
	Status    SubscriberStatus `gorm:"not null;default:'ACTIVE';index" json:"status" validate:"omitempty,oneof=ACTIVE UNSUBSCRIBED BOUNCED COMPLAINED"`
	ListID    string           `gorm:"type:uuid;not null;uniqueIndex:idx_contact_list_email" json:"listId" validate:"required,uuid"`
	List      *ContactList     `json:"list,omitempty"`
	TeamID    string           `gorm:"type:uuid;not null;index" json:"teamId"`
	ImportID  *string          `gorm:"type:uuid" json:"importId,omitempty"`
}

// Variables returns the values a template can reference for this contact.
// Metadata keys never override the built-in fields.
func (c *Contact) Variables() map[string]string {
	vars := map[string]string{}
	if len(c.Metadata) > 0 {
		var meta map[string]interface{}
		if err := json.Unmarshal(c.Metadata, &meta); err == nil {
			for k, v := range meta {
				if v != nil {
					vars[k] = fmt.Sprint(v)
				}
			}
		}
	}
	vars["email"] = c.Email
	vars["first_name"] = c.FirstName
	vars["last_name"] = c.LastName
	return vars
}

type File struct {
	Base
	TeamID    string  `gorm:"type:uuid;not null;index" json:"teamId"`
	UserID    *string `gorm:"type:uuid" json:"userId,omitempty"`
	Path      string  `gorm:"not null" json:"path"`
	Name      string  `gorm:"not null" json:"name"`
	Size      int64   `gorm:"not null" json:"size"`
	Type      string  `gorm:"not null" json:"type"`
	SignedURL string  `gorm:"-" json:"signedUrl,omitempty"` // Virtual field
}

func (f *File) AfterFind(tx *gorm.DB) error {
	generator := currentURLGenerator()
	if generator == nil {
		return nil
	}

	// Generate URL with 1-hour expiry
	url, err := generator.SignedURL(tx.Statement.Context, f.Path, time.Hour)
	if err != nil {
		return fmt.Errorf("failed to generate signed URL: %w", err)
	}
	f.SignedURL = url
	return nil
}

type ContactImport struct {
	Base
	Status      ContactImportStatus `gorm:"not null;default:'PENDING'" json:"status"`
	TeamID      string              `gorm:"type:uuid;not null;index" json:"teamId"`
	FileID      string              `gorm:"type:uuid;not null" json:"fileId"`
	File        *File               `json:"file,omitempty"`
	ListID      string              `gorm:"type:uuid;not null" json:"listId"`
	List        *ContactList        `json:"list,omitempty"`
	FieldsMap   datatypes.JSON      `json:"fieldsMap,omitempty"`
	TotalRows   int                 `gorm:"not null;default:0" json:"totalRows"`
	Imported    int                 `gorm:"not null;default:0" json:"imported"`
	Duplicates  int                 `gorm:"not null;default:0" json:"duplicates"`
	Invalid     int                 `gorm:"not null;default:0" json:"invalid"`
	Error       string              `json:"error,omitempty"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}
