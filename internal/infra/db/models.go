package db

import "time"

type ExportModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	Account     string    `gorm:"not null"`
	Region      string    `gorm:"not null"`
	ExportName  string    `gorm:"not null"`
	StackName   string    `gorm:"not null"`
	Value       string    `gorm:"not null"`
	Fingerprint string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (ExportModel) TableName() string {
	return "stack_exports"
}
