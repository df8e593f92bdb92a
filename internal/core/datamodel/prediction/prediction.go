package prediction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StatusPendingPayment = "PENDING_PAYMENT"
	StatusPaid           = "PAID"
	StatusExpired        = "EXPIRED"
)

// ThemedPrediction is the persisted row of a purchase. Rows are never deleted.
type ThemedPrediction struct {
	ID                     uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Theme                  string          `gorm:"column:theme;type:varchar(16);not null"`
	Sentiment              string          `gorm:"column:sentiment;type:varchar(16);not null"`
	RequesterName          string          `gorm:"column:requester_name;type:varchar(120);not null"`
	PartnerName            *string         `gorm:"column:partner_name;type:varchar(120)"`
	Status                 string          `gorm:"column:status;type:varchar(20);not null;index"`
	IntentID               string          `gorm:"column:intent_id;type:varchar(100);not null;uniqueIndex"`
	RedirectURL            string          `gorm:"column:redirect_url;type:varchar(350)"`
	SandboxRedirectURL     string          `gorm:"column:sandbox_redirect_url;type:varchar(350)"`
	ExpiresAt              time.Time       `gorm:"column:expires_at;not null;index"`
	DiscountApplied        bool            `gorm:"column:discount_applied;not null"`
	BaseAmount             decimal.Decimal `gorm:"column:base_amount;type:numeric(12,2);not null"`
	FinalAmount            decimal.Decimal `gorm:"column:final_amount;type:numeric(12,2);not null"`
	FulfillmentMessage     *string         `gorm:"column:fulfillment_message;type:text"`
	FulfillmentGeneratedAt *time.Time      `gorm:"column:fulfillment_generated_at"`
	CreatedAt              time.Time       `gorm:"column:created_at"`
	UpdatedAt              time.Time       `gorm:"column:updated_at"`
	Revision               int64           `gorm:"column:revision;not null"`
}

func (ThemedPrediction) TableName() string {
	return "themed_predictions"
}

// BeforeCreate sets UUID before creating the record.
func (p *ThemedPrediction) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
