package docstore

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentModel is the relational row behind one document.
type DocumentModel struct {
	Path       string         `gorm:"primaryKey"`
	Collection string         `gorm:"not null;index"`
	DocID      string         `gorm:"not null"`
	Data       datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

func (DocumentModel) TableName() string {
	return "documents"
}
