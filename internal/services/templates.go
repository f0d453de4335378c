package services

import (
	"context"

	"gorm.io/gorm"

	"vashsender/internal/models"
	"vashsender/internal/utils"
)

type TemplateService struct {
	*BaseServiceImpl[models.Template]
}

func NewTemplateService(db *gorm.DB) *TemplateService {
	return &TemplateService{
		BaseServiceImpl: NewBaseService(db, models.Template{}, Hooks[models.Template]{
			BeforeSave: func(_ context.Context, _ string, t *models.Template, _ bool) error {
				t.Variables = utils.ParseVariables(t.Subject + "\n" + t.HTML + "\n" + t.PlainText)
				return nil
			},
			Filterable: []string{"name"},
		}),
	}
}

// Rendered is a template with variables substituted.
type Rendered struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

func RenderTemplate(t *models.Template, subject string, vars map[string]string) Rendered {
	if subject == "" {
		subject = t.Subject
	}
	return Rendered{
		Subject: utils.ReplaceVariables(subject, vars, false),
		HTML:    utils.ReplaceVariables(t.HTML, vars, true),
		Text:    utils.ReplaceVariables(t.PlainText, vars, false),
	}
}

// Preview renders a stored template with caller-supplied values.
func (s *TemplateService) Preview(ctx context.Context, teamID, id string, vars map[string]string) (*Rendered, error) {
	t, err := s.Get(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	r := RenderTemplate(t, "", vars)
	return &r, nil
}
