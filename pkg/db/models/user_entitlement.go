package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
)

// UserEntitlement is a time-bounded grant of papers to one user. Active is an
// explicit revocation flag distinct from the validity window: a row with
// active=false grants nothing even before Validity elapses. Rows are never
// deleted; expired grants stay for audit and history.
//
// A partial unique index on (user_id, subscription_id) WHERE active enforces
// the at-most-one-active-grant invariant at the store level.
type UserEntitlement struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID  *uuid.UUID            `gorm:"column:subscription_id;type:uuid"`
	EntitlementType enums.EntitlementType `gorm:"column:entitlement_type;type:entitlement_type;not null"`
	PaperType       enums.PaperType       `gorm:"column:paper_type;type:paper_type;not null"`
	PaperCategory   string                `gorm:"column:paper_category"`
	TestType        enums.TestType        `gorm:"column:test_type;type:test_type"`
	PaperIDs        dbtypes.UUIDArray     `gorm:"column:paper_ids;type:uuid[]"`
	CreatedDate     time.Time             `gorm:"column:created_date;not null"`
	Validity        time.Time             `gorm:"column:validity;not null"`
	Active          bool                  `gorm:"column:active;not null;default:true"`
	RevokeRequested bool                  `gorm:"column:revoke_requested;not null;default:false"`
	PoolReleased    bool                  `gorm:"column:pool_released;not null;default:false"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// CoversAt reports whether the grant is live at the given instant. Both window
// bounds are inclusive.
func (e UserEntitlement) CoversAt(at time.Time) bool {
	if !e.Active {
		return false
	}
	return !at.Before(e.CreatedDate) && !at.After(e.Validity)
}
