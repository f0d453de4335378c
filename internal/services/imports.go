package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vashsender/internal/billing"
	"vashsender/internal/events"
	"vashsender/internal/models"
	"vashsender/internal/storage"
)

const importChunk = 500

// ErrBadImportFile marks files that cannot be parsed; retrying won't help.
var ErrBadImportFile = errors.New("unreadable import file")

type ImportService struct {
	db      *gorm.DB
	store   storage.Storage
	billing *billing.Service
	log     *zap.Logger
}

func NewImportService(db *gorm.DB, store storage.Storage, bill *billing.Service) *ImportService {
	return &ImportService{db: db, store: store, billing: bill, log: log.Zap().Named("imports")}
}

// Upload is a contact file handed to CreateImport.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func importFormat(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".csv", ".txt":
		return "csv"
	case ".xlsx":
		return "xlsx"
	}
	return ""
}

// CreateImport stores the upload and records a PENDING import. Processing
// starts when the contact_import.created event is handled.
func (s *ImportService) CreateImport(ctx context.Context, teamID string, userID *string, listID string, up Upload, fieldsMap map[string]string) (*models.ContactImport, error) {
	if importFormat(up.Filename) == "" {
		return nil, fmt.Errorf("%w: only .csv and .xlsx files are supported", ErrValidation)
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.ContactList{}).Where("id = ? AND team_id = ?", listID, teamID).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: unknown contact list", ErrValidation)
	}

	key := storage.ObjectKey(teamID, "imports", up.Filename)
	if err := s.store.Put(ctx, key, up.Body, up.Size, up.ContentType); err != nil {
		return nil, fmt.Errorf("store import file: %w", err)
	}

	var mapping datatypes.JSON
	if len(fieldsMap) > 0 {
		raw, err := json.Marshal(fieldsMap)
		if err != nil {
			return nil, err
		}
		mapping = raw
	}

	imp := &models.ContactImport{
		Status:    models.ContactImportStatusPending,
		TeamID:    teamID,
		ListID:    listID,
		FieldsMap: mapping,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file := &models.File{
			TeamID: teamID,
			UserID: userID,
			Path:   key,
			Name:   path.Base(up.Filename),
			Size:   up.Size,
			Type:   up.ContentType,
		}
		if err := tx.Create(file).Error; err != nil {
			return err
		}
		imp.FileID = file.ID
		return tx.Create(imp).Error
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.log.Warn("failed to remove orphaned upload", zap.String("key", key), zap.Error(delErr))
		}
		return nil, err
	}

	events.Emit(events.ContactImportCreated, imp)
	return imp, nil
}

func (s *ImportService) Get(ctx context.Context, teamID, id string) (*models.ContactImport, error) {
	var imp models.ContactImport
	err := s.db.WithContext(ctx).Preload("File").Where("id = ? AND team_id = ?", id, teamID).First(&imp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &imp, err
}

func (s *ImportService) List(ctx context.Context, teamID string, page, limit int) ([]models.ContactImport, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.ContactImport{}).Where("team_id = ?", teamID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page > 0 && limit > 0 {
		q = q.Offset((page - 1) * limit).Limit(limit)
	}
	var out []models.ContactImport
	err := q.Order("created_at DESC").Find(&out).Error
	return out, total, err
}

// RunImport parses the stored file and inserts its contacts. Finished
// imports are left alone, so redelivered tasks are harmless.
func (s *ImportService) RunImport(ctx context.Context, id string) error {
	var imp models.ContactImport
	err := s.db.WithContext(ctx).Preload("File").First(&imp, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if imp.Status == models.ContactImportStatusCompleted || imp.Status == models.ContactImportStatusFailed {
		return nil
	}
	if imp.File == nil {
		return s.fail(ctx, &imp, "import file record is missing")
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&imp).Updates(map[string]interface{}{
		"status":     models.ContactImportStatusProcessing,
		"started_at": now,
	}).Error; err != nil {
		return err
	}

	rc, err := s.store.Get(ctx, imp.File.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return s.fail(ctx, &imp, "uploaded file no longer exists")
	}
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer rc.Close()

	rows, err := readRows(rc, importFormat(imp.File.Name))
	if err != nil {
		return s.fail(ctx, &imp, err.Error())
	}

	var mapping map[string]string
	if len(imp.FieldsMap) > 0 {
		if err := json.Unmarshal(imp.FieldsMap, &mapping); err != nil {
			return s.fail(ctx, &imp, "invalid field mapping")
		}
	}

	result, err := s.insert(ctx, &imp, rows, mapping)
	if err != nil {
		return err
	}

	done := time.Now()
	updates := map[string]interface{}{
		"status":       models.ContactImportStatusCompleted,
		"total_rows":   result.total,
		"imported":     result.imported,
		"duplicates":   result.duplicates,
		"invalid":      result.invalid,
		"error":        result.note,
		"completed_at": done,
	}
	if err := s.db.WithContext(ctx).Model(&imp).Updates(updates).Error; err != nil {
		return err
	}

	s.log.Info("contact import finished",
		zap.String("import_id", imp.ID),
		zap.Int("rows", result.total),
		zap.Int("imported", result.imported),
		zap.Int("duplicates", result.duplicates),
		zap.Int("invalid", result.invalid),
	)
	return nil
}

func (s *ImportService) fail(ctx context.Context, imp *models.ContactImport, reason string) error {
	s.log.Warn("contact import failed", zap.String("import_id", imp.ID), zap.String("reason", reason))
	return s.db.WithContext(ctx).Model(imp).Updates(map[string]interface{}{
		"status":       models.ContactImportStatusFailed,
		"error":        truncate(reason, 500),
		"completed_at": time.Now(),
	}).Error
}

// readRows returns every row of the first sheet, header included.
func readRows(r io.Reader, format string) ([][]string, error) {
	switch format {
	case "csv":
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		cr.LazyQuotes = true
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadImportFile, err)
		}
		return stripBOM(rows), nil
	case "xlsx":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadImportFile, err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: workbook has no sheets", ErrBadImportFile)
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadImportFile, err)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("%w: unsupported format", ErrBadImportFile)
}

func stripBOM(rows [][]string) [][]string {
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows
}

func headerKey(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	r := strings.NewReplacer(" ", "", "_", "", "-", "", ".", "")
	return r.Replace(h)
}

var headerAliases = map[string]string{
	"email":        "email",
	"emailaddress": "email",
	"mail":         "email",
	"email1":       "email",
	"firstname":    "first_name",
	"first":        "first_name",
	"givenname":    "first_name",
	"name":         "first_name",
	"lastname":     "last_name",
	"last":         "last_name",
	"surname":      "last_name",
	"familyname":   "last_name",
}

// columnFields maps each column index to a contact field. Explicit mapping
// entries (header -> field) win over auto-detection; unmapped columns are
// kept as metadata under their header.
func columnFields(header []string, mapping map[string]string) []string {
	explicit := map[string]string{}
	for k, v := range mapping {
		explicit[headerKey(k)] = strings.TrimSpace(v)
	}

	fields := make([]string, len(header))
	taken := map[string]bool{}
	for i, h := range header {
		key := headerKey(h)
		if f, ok := explicit[key]; ok {
			fields[i] = f
			taken[f] = true
		}
	}
	for i, h := range header {
		if fields[i] != "" {
			continue
		}
		key := headerKey(h)
		if f, ok := headerAliases[key]; ok && !taken[f] {
			fields[i] = f
			taken[f] = true
			continue
		}
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		fields[i] = "meta:" + name
	}
	return fields
}

type importResult struct {
	total      int
	imported   int
	duplicates int
	invalid    int
	note       string
}

func (s *ImportService) insert(ctx context.Context, imp *models.ContactImport, rows [][]string, mapping map[string]string) (*importResult, error) {
	res := &importResult{}
	if len(rows) < 2 {
		res.note = "file has no data rows"
		return res, nil
	}
	fields := columnFields(rows[0], mapping)
	hasEmail := false
	for _, f := range fields {
		if f == "email" {
			hasEmail = true
		}
	}
	if !hasEmail {
		res.total = len(rows) - 1
		res.invalid = res.total
		res.note = "no email column found"
		return res, nil
	}

	seen := map[string]bool{}
	contacts := make([]models.Contact, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		res.total++

		c := models.Contact{
			TeamID:   imp.TeamID,
			ListID:   imp.ListID,
			Status:   models.SubscriberStatusActive,
			ImportID: &imp.ID,
		}
		meta := map[string]string{}
		for i, f := range fields {
			if i >= len(row) {
				break
			}
			v := strings.TrimSpace(row[i])
			switch {
			case f == "email":
				c.Email = NormalizeEmail(v)
			case f == "first_name":
				c.FirstName = v
			case f == "last_name":
				c.LastName = v
			case strings.HasPrefix(f, "meta:"):
				if v != "" {
					meta[strings.TrimPrefix(f, "meta:")] = v
				}
			case f != "" && v != "":
				meta[f] = v
			}
		}

		if !ValidEmail(c.Email) {
			res.invalid++
			continue
		}
		if seen[c.Email] {
			res.duplicates++
			continue
		}
		seen[c.Email] = true

		if len(meta) > 0 {
			raw, err := json.Marshal(meta)
			if err != nil {
				return nil, err
			}
			c.Metadata = raw
		}
		contacts = append(contacts, c)
	}

	existing, err := s.existingEmails(ctx, imp.ListID, seen)
	if err != nil {
		return nil, err
	}
	fresh := contacts[:0]
	for _, c := range contacts {
		if existing[c.Email] {
			res.duplicates++
			continue
		}
		fresh = append(fresh, c)
	}
	contacts = fresh

	room, err := s.billing.EnsureContactCapacity(ctx, imp.TeamID, int64(len(contacts)))
	if err != nil && !errors.Is(err, billing.ErrLimitReached) {
		return nil, err
	}
	if int(room) < len(contacts) {
		res.note = fmt.Sprintf("contact limit reached: %d rows were not imported", len(contacts)-int(room))
		contacts = contacts[:int(room)]
	}

	for start := 0; start < len(contacts); start += importChunk {
		end := start + importChunk
		if end > len(contacts) {
			end = len(contacts)
		}
		chunk := contacts[start:end]
		tx := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "email"}, {Name: "list_id"}},
				DoNothing: true,
			}).
			Create(&chunk)
		if tx.Error != nil {
			return nil, fmt.Errorf("insert contacts: %w", tx.Error)
		}
		res.imported += int(tx.RowsAffected)
		res.duplicates += len(chunk) - int(tx.RowsAffected)
	}
	return res, nil
}

func (s *ImportService) existingEmails(ctx context.Context, listID string, emails map[string]bool) (map[string]bool, error) {
	all := make([]string, 0, len(emails))
	for e := range emails {
		all = append(all, e)
	}
	out := map[string]bool{}
	for start := 0; start < len(all); start += importChunk {
		end := start + importChunk
		if end > len(all) {
			end = len(all)
		}
		var found []string
		err := s.db.WithContext(ctx).Model(&models.Contact{}).
			Where("list_id = ? AND email IN ?", listID, all[start:end]).
			Pluck("email", &found).Error
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			out[e] = true
		}
	}
	return out, nil
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
