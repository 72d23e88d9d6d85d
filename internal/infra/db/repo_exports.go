package db

import (
	"context"
	"errors"
	"time"

	"keystack/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExportRepository struct {
	db *gorm.DB
}

func NewExportRepository(db *gorm.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

func (r *ExportRepository) Get(ctx context.Context, target domain.Target, exportName string) (*domain.ResolvedOutput, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if exportName == "" {
		return nil, errors.New("export name is required")
	}
	var row ExportModel
	err := r.db.WithContext(ctx).
		Where("account = ? AND region = ? AND export_name = ?", target.Account, target.Region, exportName).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := toResolved(row)
	return &out, nil
}

// Put upserts the export. A later apply of the same stack replaces the value.
func (r *ExportRepository) Put(ctx context.Context, target domain.Target, out domain.ResolvedOutput) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if out.ExportName == "" || out.StackName == "" || out.Value == "" {
		return errors.New("export name, stack name and value are required")
	}
	updated := out.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	row := ExportModel{
		ID:          uuid.NewString(),
		Account:     target.Account,
		Region:      target.Region,
		ExportName:  out.ExportName,
		StackName:   out.StackName,
		Value:       out.Value,
		Fingerprint: out.Fingerprint,
		CreatedAt:   updated,
		UpdatedAt:   updated,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}, {Name: "region"}, {Name: "export_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"stack_name", "value", "fingerprint", "updated_at"}),
	}).Create(&row).Error
}

func (r *ExportRepository) ListByStack(ctx context.Context, target domain.Target) ([]domain.ResolvedOutput, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var rows []ExportModel
	if err := r.db.WithContext(ctx).
		Where("account = ? AND region = ? AND stack_name = ?", target.Account, target.Region, target.StackName).
		Order("export_name ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ResolvedOutput, 0, len(rows))
	for _, row := range rows {
		out = append(out, toResolved(row))
	}
	return out, nil
}

func toResolved(row ExportModel) domain.ResolvedOutput {
	return domain.ResolvedOutput{
		StackName:   row.StackName,
		ExportName:  row.ExportName,
		Value:       row.Value,
		Fingerprint: row.Fingerprint,
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}
