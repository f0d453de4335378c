package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/services"
	"vashsender/internal/utils"
)

type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func client(c echo.Context) services.Client {
	return services.Client{IP: utils.GetIPAddress(c.Request()), UserAgent: c.Request().UserAgent()}
}

// Register creates a team with its owner and signs the owner in.
// @Summary Register a new account
// @Description Creates a team, its owner and a free subscription
// @Tags auth
// @Accept json
// @Produce json
// @Param request body services.RegisterInput true "Registration details"
// @Success 201 {object} services.TokenPair
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "Email already registered"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req services.RegisterInput
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	pair, err := h.auth.Register(c.Request().Context(), req, client(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, pair)
}

// Login
// @Summary Login user
// @Description Authenticate user and return an access and refresh token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} services.TokenPair
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	pair, err := h.auth.Login(c.Request().Context(), req.Email, req.Password, client(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// Refresh exchanges a refresh token for a new pair. Each refresh token
// works once.
// @Summary Refresh tokens
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token"
// @Success 200 {object} services.TokenPair
// @Failure 401 {object} map[string]string "Invalid refresh token"
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	pair, err := h.auth.Refresh(c.Request().Context(), req.RefreshToken, client(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// @Summary Logout
// @Description Revokes the given refresh token
// @Tags auth
// @Accept json
// @Param request body RefreshRequest true "Refresh token"
// @Success 204 "No content"
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	var req RefreshRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.auth.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return RespondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// @Summary Current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c echo.Context) error {
	user, err := h.auth.Me(c.Request().Context(), middleware.GetUserID(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// @Summary List team members
// @Tags team
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.User
// @Router /api/v1/team/members [get]
func (h *AuthHandler) Members(c echo.Context) error {
	users, err := h.auth.Members(c.Request().Context(), middleware.GetTeamID(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, users)
}

// @Summary Add team member
// @Description Admins create ADMIN or MEMBER accounts inside their team
// @Tags team
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.InviteInput true "Member details"
// @Success 201 {object} models.User
// @Failure 403 {object} map[string]string "Insufficient role"
// @Failure 409 {object} map[string]string "Email already registered"
// @Router /api/v1/team/members [post]
func (h *AuthHandler) AddMember(c echo.Context) error {
	var req services.InviteInput
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.auth.AddMember(c.Request().Context(), middleware.GetTeamID(c), req)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}
