package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"vashsender/internal/billing"
	"vashsender/internal/config"
	"vashsender/internal/models"
	"vashsender/internal/utils"
	"vashsender/internal/utils/crypto"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
)

type AuthService struct {
	db  *gorm.DB
	cfg config.JWTConfig
	log *zap.Logger
	now func() time.Time
}

func NewAuthService(db *gorm.DB, cfg config.JWTConfig) *AuthService {
	return &AuthService{db: db, cfg: cfg, log: log.Zap().Named("auth"), now: time.Now}
}

type RegisterInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
	TeamName  string `json:"teamName" validate:"omitempty,min=2,max=100"`
}

// Client identifies where a session was opened from.
type Client struct {
	IP        string
	UserAgent string
}

type TokenPair struct {
	AccessToken      string       `json:"accessToken"`
	AccessExpiresAt  time.Time    `json:"accessExpiresAt"`
	RefreshToken     string       `json:"refreshToken"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
	User             *models.User `json:"user"`
}

// Register creates a team, its owner, a free subscription and starter
// content in one transaction, then signs the owner in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, client Client) (*TokenPair, error) {
	email := NormalizeEmail(in.Email)
	if !ValidEmail(email) {
		return nil, fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}

	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	teamName := strings.TrimSpace(in.TeamName)
	if teamName == "" {
		teamName = strings.TrimSpace(in.FirstName + "'s team")
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrEmailTaken
		}

		team := models.Team{Name: teamName}
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		user = models.User{
			Email:     email,
			Password:  hash,
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
			Role:      models.UserRoleOwner,
			TeamID:    team.ID,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if err := billing.StartFreePlan(tx, team.ID, email, s.now()); err != nil {
			return err
		}
		return models.LoadInitialData(tx, team.ID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("team registered", zap.String("team_id", user.TeamID), zap.String("user_id", user.ID))
	return s.issue(ctx, &user, client)
}

func (s *AuthService) Login(ctx context.Context, email, password string, client Client) (*TokenPair, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !crypto.CheckPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, &user, client)
}

func (s *AuthService) issue(ctx context.Context, user *models.User, client Client) (*TokenPair, error) {
	access, accessExp, err := utils.GenerateAccessToken(s.cfg.Secret, s.cfg.AccessTokenTTL, user.ID, user.TeamID, user.Email, string(user.Role))
	if err != nil {
		return nil, err
	}
	refresh, err := crypto.RandomToken(32)
	if err != nil {
		return nil, err
	}
	rt := models.RefreshToken{
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refresh),
		ExpiresAt: s.now().Add(s.cfg.RefreshTokenTTL),
		IPAddress: client.IP,
		UserAgent: truncate(client.UserAgent, 500),
	}
	if err := s.db.WithContext(ctx).Create(&rt).Error; err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: rt.ExpiresAt,
		User:             user,
	}, nil
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated revokes every session of the user.
func (s *AuthService) Refresh(ctx context.Context, token string, client Client) (*TokenPair, error) {
	var rt models.RefreshToken
	err := s.db.WithContext(ctx).Preload("User").Where("token_hash = ?", crypto.HashToken(token)).First(&rt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidRefresh
	}
	if err != nil {
		return nil, err
	}
	if rt.User == nil {
		return nil, ErrInvalidRefresh
	}

	now := s.now()
	if rt.RevokedAt != nil {
		s.log.Warn("refresh token reuse, revoking all sessions", zap.String("user_id", rt.UserID))
		if err := s.revokeAll(ctx, rt.UserID); err != nil {
			return nil, err
		}
		return nil, ErrInvalidRefresh
	}
	if !rt.Active(now) {
		return nil, ErrInvalidRefresh
	}

	res := s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", rt.ID).
		Update("revoked_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidRefresh
	}
	return s.issue(ctx, rt.User, client)
}

func (s *AuthService) revokeAll(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now()).Error
}

// Logout revokes one refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", crypto.HashToken(token)).
		Update("revoked_at", s.now()).Error
}

// Me returns the user with their team and subscription.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Team").
		Preload("Team.Subscription.Plan").
		First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Members lists the users of a team.
func (s *AuthService) Members(ctx context.Context, teamID string) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Where("team_id = ?", teamID).Order("created_at").Find(&users).Error
	return users, err
}

// InviteInput adds a user directly to a team with a preset password.
type InviteInput struct {
	Email     string          `json:"email" validate:"required,email"`
	Password  string          `json:"password" validate:"required,min=8,max=72"`
	FirstName string          `json:"firstName" validate:"required"`
	LastName  string          `json:"lastName"`
	Role      models.UserRole `json:"role" validate:"required,oneof=ADMIN MEMBER"`
}

func (s *AuthService) AddMember(ctx context.Context, teamID string, in InviteInput) (*models.User, error) {
	if !models.IsValidUserRole(in.Role) || in.Role == models.UserRoleOwner {
		return nil, fmt.Errorf("%w: invalid role", ErrValidation)
	}
	email := NormalizeEmail(in.Email)
	if !ValidEmail(email) {
		return nil, fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrEmailTaken
	}
	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Email:     email,
		Password:  hash,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Role:      in.Role,
		TeamID:    teamID,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}
