package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
)

// PurchaseRecord is the immutable purchase audit row. A confirmed record for a
// (user, subscription) pair short-circuits repeat subscribe calls; it is never
// mutated after confirmation.
type PurchaseRecord struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionIDs dbtypes.UUIDArray    `gorm:"column:subscription_ids;type:uuid[];not null"`
	EntitlementIDs  dbtypes.UUIDArray    `gorm:"column:entitlement_ids;type:uuid[]"`
	ActualPrice     decimal.Decimal      `gorm:"column:actual_price;type:numeric(12,2);not null"`
	Status          enums.PurchaseStatus `gorm:"column:status;type:purchase_status;not null;default:'pending'"`
	CreatedDate     time.Time            `gorm:"column:created_date;not null"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
