package registry

import (
	"github.com/labstack/echo/v4"

	"vashsender/internal/api/controllers"
	"vashsender/internal/api/middleware"
	"vashsender/internal/models"
	"vashsender/internal/services"
)

// CRUDServices are the team-scoped resources served by the generic
// controller.
type CRUDServices struct {
	Templates *services.TemplateService
	Lists     *services.ContactListService
	Contacts  *services.ContactService
	SMTP      *services.SMTPConfigService
}

// 📝 RegisterCRUDRoutes registers CRUD routes for all generic resources
func RegisterCRUDRoutes(g *echo.Group, s CRUDServices) {
	// Templates
	templateController := controllers.NewBaseController[models.Template](s.Templates)
	templateGroup := g.Group("/templates")

	// @Summary List templates
	// @Description Get a page of the team's templates
	// @Tags Templates
	// @Produce json
	// @Param page query int false "Page"
	// @Param limit query int false "Page size"
	// @Param name query string false "Exact name"
	// @Success 200 {array} models.Template
	// @Failure 401 {object} map[string]string "Unauthorized"
	// @Failure 500 {object} map[string]string "Internal server error"
	// @Router /api/v1/templates [get]
	templateGroup.GET("", templateController.List)
	// @Summary Get template
	// @Tags Templates
	// @Produce json
	// @Param id path string true "Template ID"
	// @Success 200 {object} models.Template
	// @Failure 404 {object} map[string]string "Not found"
	// @Router /api/v1/templates/{id} [get]
	templateGroup.GET("/:id", templateController.Get)
	// @Summary Create template
	// @Tags Templates
	// @Accept json
	// @Produce json
	// @Param template body models.Template true "Template object"
	// @Success 201 {object} models.Template
	// @Failure 400 {object} map[string]string "Bad request"
	// @Router /api/v1/templates [post]
	templateGroup.POST("", templateController.Create)
	// @Summary Update template
	// @Tags Templates
	// @Accept json
	// @Produce json
	// @Param id path string true "Template ID"
	// @Param template body models.Template true "Template object"
	// @Success 200 {object} models.Template
	// @Failure 400 {object} map[string]string "Bad request"
	// @Failure 404 {object} map[string]string "Not found"
	// @Router /api/v1/templates/{id} [put]
	templateGroup.PUT("/:id", templateController.Update)
	// @Summary Delete template
	// @Tags Templates
	// @Param id path string true "Template ID"
	// @Success 204 "No content"
	// @Failure 404 {object} map[string]string "Not found"
	// @Router /api/v1/templates/{id} [delete]
	templateGroup.DELETE("/:id", templateController.Delete)

	// Contact lists
	listController := controllers.NewBaseController[models.ContactList](s.Lists)
	listGroup := g.Group("/lists")
	// @Summary List contact lists
	// @Tags Contacts
	// @Produce json
	// @Success 200 {array} models.ContactList
	// @Router /api/v1/lists [get]
	listGroup.GET("", listController.List)
	// @Summary Get contact list
	// @Tags Contacts
	// @Produce json
	// @Param id path string true "List ID"
	// @Success 200 {object} models.ContactList
	// @Failure 404 {object} map[string]string "Not found"
	// @Router /api/v1/lists/{id} [get]
	listGroup.GET("/:id", listController.Get)
	// @Summary Create contact list
	// @Tags Contacts
	// @Accept json
	// @Produce json
	// @Param list body models.ContactList true "List object"
	// @Success 201 {object} models.ContactList
	// @Router /api/v1/lists [post]
	listGroup.POST("", listController.Create)
	// @Summary Update contact list
	// @Tags Contacts
	// @Accept json
	// @Produce json
	// @Param id path string true "List ID"
	// @Param list body models.ContactList true "List object"
	// @Success 200 {object} models.ContactList
	// @Router /api/v1/lists/{id} [put]
	listGroup.PUT("/:id", listController.Update)
	// @Summary Delete contact list and its contacts
	// @Tags Contacts
	// @Param id path string true "List ID"
	// @Success 204 "No content"
	// @Router /api/v1/lists/{id} [delete]
	listGroup.DELETE("/:id", listController.Delete)

	// Contacts
	contactController := controllers.NewBaseController[models.Contact](s.Contacts)
	contactGroup := g.Group("/contacts")
	// @Summary List contacts
	// @Tags Contacts
	// @Produce json
	// @Param list_id query string false "List ID"
	// @Param status query string false "Subscriber status"
	// @Param email query string false "Exact email"
	// @Success 200 {array} models.Contact
	// @Router /api/v1/contacts [get]
	contactGroup.GET("", contactController.List)
	// @Summary Get contact
	// @Tags Contacts
	// @Produce json
	// @Param id path string true "Contact ID"
	// @Success 200 {object} models.Contact
	// @Failure 404 {object} map[string]string "Not found"
	// @Router /api/v1/contacts/{id} [get]
	contactGroup.GET("/:id", contactController.Get)
	// @Summary Create contact
	// @Tags Contacts
	// @Accept json
	// @Produce json
	// @Param contact body models.Contact true "Contact object"
	// @Success 201 {object} models.Contact
	// @Failure 402 {object} map[string]string "Contact limit reached"
	// @Router /api/v1/contacts [post]
	contactGroup.POST("", contactController.Create)
	// @Summary Update contact
	// @Tags Contacts
	// @Accept json
	// @Produce json
	// @Param id path string true "Contact ID"
	// @Param contact body models.Contact true "Contact object"
	// @Success 200 {object} models.Contact
	// @Router /api/v1/contacts/{id} [put]
	contactGroup.PUT("/:id", contactController.Update)
	// @Summary Delete contact
	// @Tags Contacts
	// @Param id path string true "Contact ID"
	// @Success 204 "No content"
	// @Router /api/v1/contacts/{id} [delete]
	contactGroup.DELETE("/:id", contactController.Delete)

	// SMTP configs: admins only change them
	smtpController := controllers.NewBaseController[models.SMTPConfig](s.SMTP)
	smtpGroup := g.Group("/smtp-configs")
	smtpGroup.Use(middleware.RequireWriteRole(models.UserRoleAdmin))
	// @Summary List SMTP configs
	// @Description Passwords are never returned
	// @Tags SMTP
	// @Produce json
	// @Success 200 {array} models.SMTPConfig
	// @Router /api/v1/smtp-configs [get]
	smtpGroup.GET("", smtpController.List)
	// @Summary Get SMTP config
	// @Tags SMTP
	// @Produce json
	// @Param id path string true "SMTP config ID"
	// @Success 200 {object} models.SMTPConfig
	// @Router /api/v1/smtp-configs/{id} [get]
	smtpGroup.GET("/:id", smtpController.Get)
	// @Summary Create SMTP config
	// @Tags SMTP
	// @Accept json
	// @Produce json
	// @Param config body models.SMTPConfig true "SMTP config"
	// @Success 201 {object} models.SMTPConfig
	// @Failure 402 {object} map[string]string "Plan does not include custom SMTP"
	// @Router /api/v1/smtp-configs [post]
	smtpGroup.POST("", smtpController.Create)
	// @Summary Update SMTP config
	// @Tags SMTP
	// @Accept json
	// @Produce json
	// @Param id path string true "SMTP config ID"
	// @Param config body models.SMTPConfig true "SMTP config"
	// @Success 200 {object} models.SMTPConfig
	// @Router /api/v1/smtp-configs/{id} [put]
	smtpGroup.PUT("/:id", smtpController.Update)
	// @Summary Delete SMTP config
	// @Tags SMTP
	// @Param id path string true "SMTP config ID"
	// @Success 204 "No content"
	// @Router /api/v1/smtp-configs/{id} [delete]
	smtpGroup.DELETE("/:id", smtpController.Delete)
}
