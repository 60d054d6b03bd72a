package ingest

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// DeliveryLog records the outcome of one webhook delivery. Best-effort:
// a failed log write never fails the delivery itself.
type DeliveryLog struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Provider   string    `gorm:"type:varchar(32);not null;index"`
	ExternalID string    `gorm:"type:varchar(255);index"`
	Outcome    string    `gorm:"type:varchar(32);not null;index"`
	Error      string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

func (DeliveryLog) TableName() string { return "webhook_delivery_log" }

type logRepo struct {
	db *gorm.DB
}

func (r *logRepo) record(ctx context.Context, entry DeliveryLog) error {
	if r.db == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}
