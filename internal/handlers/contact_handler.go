package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/services"
)

type ContactHandler struct {
	lists    *services.ContactListService
	contacts *services.ContactService
	imports  *services.ImportService
}

func NewContactHandler(lists *services.ContactListService, contacts *services.ContactService, imports *services.ImportService) *ContactHandler {
	return &ContactHandler{lists: lists, contacts: contacts, imports: imports}
}

type UnsubscribeContactRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// CreateImport accepts a CSV or XLSX upload for a contact list. The file is
// processed in the background; poll the import for progress.
// @Summary Import contacts
// @Tags contacts
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "CSV or XLSX file"
// @Param listId formData string true "Target list ID"
// @Param fieldsMap formData string false "JSON object mapping column headers to email, first_name, last_name"
// @Success 202 {object} models.ContactImport
// @Failure 400 {object} map[string]string "Bad file or list"
// @Router /api/v1/imports [post]
func (h *ContactHandler) CreateImport(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return badRequest("No file provided")
	}
	listID := c.FormValue("listId")
	if listID == "" {
		return badRequest("listId is required")
	}

	var fieldsMap map[string]string
	if raw := c.FormValue("fieldsMap"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fieldsMap); err != nil {
			return badRequest("fieldsMap must be a JSON object of strings")
		}
	}

	src, err := file.Open()
	if err != nil {
		return badRequest("Unable to read uploaded file")
	}
	defer src.Close()

	var userID *string
	if id := middleware.GetUserID(c); id != "" {
		userID = &id
	}

	imp, err := h.imports.CreateImport(c.Request().Context(), middleware.GetTeamID(c), userID, listID, services.Upload{
		Filename:    file.Filename,
		ContentType: file.Header.Get(echo.HeaderContentType),
		Size:        file.Size,
		Body:        src,
	}, fieldsMap)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusAccepted, imp)
}

// @Summary List imports
// @Tags contacts
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ContactImport
// @Router /api/v1/imports [get]
func (h *ContactHandler) ListImports(c echo.Context) error {
	page, limit := Pagination(c)
	items, total, err := h.imports.List(c.Request().Context(), middleware.GetTeamID(c), page, limit)
	if err != nil {
		return RespondError(c, err)
	}
	return Paged(c, items, total, page, limit)
}

// @Summary Get import
// @Tags contacts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Import ID"
// @Success 200 {object} models.ContactImport
// @Router /api/v1/imports/{id} [get]
func (h *ContactHandler) GetImport(c echo.Context) error {
	imp, err := h.imports.Get(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, imp)
}

// @Summary Contact counts per list
// @Tags contacts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]services.ListCount
// @Router /api/v1/lists/counts [get]
func (h *ContactHandler) ListCounts(c echo.Context) error {
	counts, err := h.lists.Counts(c.Request().Context(), middleware.GetTeamID(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}

// Unsubscribe is the manual counterpart of the tracking link.
// @Summary Unsubscribe an address
// @Description Marks the address unsubscribed in every list of the team
// @Tags contacts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UnsubscribeContactRequest true "Address"
// @Success 200 {object} map[string]int64 "Updated contacts"
// @Router /api/v1/contacts/unsubscribe [post]
func (h *ContactHandler) Unsubscribe(c echo.Context) error {
	var req UnsubscribeContactRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	n, err := h.contacts.Unsubscribe(c.Request().Context(), middleware.GetTeamID(c), req.Email)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}
