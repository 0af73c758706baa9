package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
)

// Subscription is a sellable offer: a bundle of papers with a duration class.
// It is distinct from a user's grant of it (UserEntitlement). The paper set is
// immutable while the offer is active; content edits are draft-only and bump
// AmendmentNo.
type Subscription struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaperType        enums.PaperType        `gorm:"column:paper_type;type:paper_type;not null"`
	PaperCategory    string                 `gorm:"column:paper_category;not null"`
	PaperSubCategory string                 `gorm:"column:paper_sub_category"`
	TestType         enums.TestType         `gorm:"column:test_type;type:test_type;not null"`
	SubscriptionType enums.SubscriptionType `gorm:"column:subscription_type;type:subscription_type;not null"`
	Name             string                 `gorm:"column:name;not null"`
	Description      string                 `gorm:"column:description"`
	PaperIDs         dbtypes.UUIDArray      `gorm:"column:paper_ids;type:uuid[]"`
	State            enums.SubscriptionState `gorm:"column:state;type:subscription_state;not null;default:'draft'"`
	AmendmentNo      int                    `gorm:"column:amendment_no;not null;default:1"`
	Price            decimal.Decimal        `gorm:"column:price;type:numeric(12,2);not null"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
