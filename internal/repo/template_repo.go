package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/callvault/internal/domain"
)

// GetTemplate returns the stored override for templateType or ErrNotFound.
func GetTemplate(ctx context.Context, db *gorm.DB, templateType string) (*domain.EmailTemplate, error) {
	var t domain.EmailTemplate
	err := db.WithContext(ctx).Where("template_type = ?", templateType).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTemplates returns every stored override keyed by template type.
func ListTemplates(ctx context.Context, db *gorm.DB) (map[string]domain.EmailTemplate, error) {
	var rows []domain.EmailTemplate
	if err := db.WithContext(ctx).Order("template_type asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.EmailTemplate, len(rows))
	for _, r := range rows {
		out[r.TemplateType] = r
	}
	return out, nil
}

// UpsertTemplate creates or replaces the override for t.TemplateType.
func UpsertTemplate(ctx context.Context, db *gorm.DB, t *domain.EmailTemplate, now time.Time) error {
	t.UpdatedAt = now.UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "template_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "body", "updated_at"}),
		}).
		Create(t).Error
}

// DeleteTemplate removes an override so the built-in default applies again.
func DeleteTemplate(ctx context.Context, db *gorm.DB, templateType string) error {
	res := db.WithContext(ctx).Where("template_type = ?", templateType).Delete(&domain.EmailTemplate{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
