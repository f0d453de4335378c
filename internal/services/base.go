package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"

	"vashsender/internal/events"
	"vashsender/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrSenderNotVerified = errors.New("sender is not verified")
	ErrValidation        = errors.New("validation failed")
)

// BaseService interface defines common CRUD operations on team-owned rows
type BaseService[T any] interface {
	Create(ctx context.Context, teamID string, entity *T) error
	Get(ctx context.Context, teamID, id string) (*T, error)
	List(ctx context.Context, teamID string, page, limit int, filters map[string]interface{}) ([]T, int64, error)
	Update(ctx context.Context, teamID, id string, entity *T) error
	Delete(ctx context.Context, teamID, id string) error
}

// Hooks customise a BaseServiceImpl for one model.
type Hooks[T any] struct {
	// BeforeSave runs on create and update after the team id is set.
	BeforeSave func(ctx context.Context, teamID string, entity *T, creating bool) error
	// AfterLoad runs on every row returned to the caller.
	AfterLoad func(entity *T)
	// Filterable lists the columns List accepts as filters.
	Filterable []string
}

// BaseServiceImpl implements BaseService
type BaseServiceImpl[T any] struct {
	db        *gorm.DB
	modelType T
	hooks     Hooks[T]
}

func GormTableName(db *gorm.DB, v any) string {
	structName := reflect.TypeOf(v).Name()
	return db.NamingStrategy.TableName(structName)
}

// NewBaseService creates a new base service. T must implement
// models.TeamOwned through its pointer.
func NewBaseService[T any](db *gorm.DB, modelType T, hooks Hooks[T]) *BaseServiceImpl[T] {
	if _, ok := any(&modelType).(models.TeamOwned); !ok {
		panic(fmt.Sprintf("services: %T is not team owned", modelType))
	}
	return &BaseServiceImpl[T]{
		db:        db,
		modelType: modelType,
		hooks:     hooks,
	}
}

func (s *BaseServiceImpl[T]) event(action string) string {
	return fmt.Sprintf("%s.%s", GormTableName(s.db, s.modelType), action)
}

func (s *BaseServiceImpl[T]) loaded(entity *T) {
	if s.hooks.AfterLoad != nil {
		s.hooks.AfterLoad(entity)
	}
}

func (s *BaseServiceImpl[T]) Create(ctx context.Context, teamID string, entity *T) error {
	any(entity).(models.TeamOwned).SetTeamID(teamID)
	if s.hooks.BeforeSave != nil {
		if err := s.hooks.BeforeSave(ctx, teamID, entity, true); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Create(entity).Error; err != nil {
		return err
	}

	events.Emit(s.event("created"), entity)
	s.loaded(entity)
	return nil
}

func (s *BaseServiceImpl[T]) Get(ctx context.Context, teamID, id string) (*T, error) {
	var entity T
	if err := s.db.WithContext(ctx).Where("id = ? AND team_id = ?", id, teamID).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.loaded(&entity)
	return &entity, nil
}

func (s *BaseServiceImpl[T]) List(ctx context.Context, teamID string, page, limit int, filters map[string]interface{}) ([]T, int64, error) {
	var entities []T
	var total int64

	query := s.db.WithContext(ctx).Model(new(T)).Where("team_id = ?", teamID)

	// Apply filters
	for _, key := range s.hooks.Filterable {
		if value, ok := filters[key]; ok {
			query = query.Where(key+" = ?", value)
		}
	}

	// Get total count
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply pagination
	if page > 0 && limit > 0 {
		offset := (page - 1) * limit
		query = query.Offset(offset).Limit(limit)
	}

	// Execute query
	if err := query.Order("created_at DESC").Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	for i := range entities {
		s.loaded(&entities[i])
	}
	return entities, total, nil
}

func (s *BaseServiceImpl[T]) Update(ctx context.Context, teamID, id string, entity *T) error {
	if _, err := s.Get(ctx, teamID, id); err != nil {
		return err
	}

	owned := any(entity).(models.TeamOwned)
	owned.SetTeamID(teamID)
	if s.hooks.BeforeSave != nil {
		if err := s.hooks.BeforeSave(ctx, teamID, entity, false); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Model(entity).Where("id = ? AND team_id = ?", id, teamID).Updates(entity).Error; err != nil {
		return err
	}

	updated, err := s.Get(ctx, teamID, id)
	if err != nil {
		return err
	}
	*entity = *updated

	events.Emit(s.event("updated"), entity)
	return nil
}

func (s *BaseServiceImpl[T]) Delete(ctx context.Context, teamID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND team_id = ?", id, teamID).Delete(new(T))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	events.Emit(s.event("deleted"), id)
	return nil
}
