// internal/models/event.go
package models

import (
	"github.com/google/uuid"
)

// Event is the structured notification emitted once per mutating call,
// persisted so off-chain indexers can reconstruct history in order.
type Event struct {
	BaseModel
	EventID     uuid.UUID `json:"event_id" gorm:"type:uuid;not null;uniqueIndex"`
	Name        string    `json:"name" gorm:"size:64;not null;index"`
	Actor       string    `json:"actor" gorm:"size:64;index"`
	WorkspaceID *uint64   `json:"workspace_id,omitempty" gorm:"index"`
	GrantID     *uint64   `json:"grant_id,omitempty" gorm:"index"`
	Payload     JSONB     `json:"payload" gorm:"type:jsonb"`
}

// Event names. One per mutating operation.
const (
	EventWorkspaceCreated          = "WorkspaceCreated"
	EventWorkspaceUpdated          = "WorkspaceUpdated"
	EventWorkspaceMembersUpdated   = "WorkspaceMembersUpdated"
	EventWorkspaceMemberMigrate    = "WorkspaceMemberMigrate"
	EventGrantCreated              = "GrantCreated"
	EventGrantUpdated              = "GrantUpdated"
	EventGrantAccessibilityUpdated = "GrantAccessibilityUpdated"
	EventFundsDeposited            = "FundsDeposited"
	EventDisburseReward            = "DisburseReward"
	EventApplicationSubmitted      = "ApplicationSubmitted"
	EventApplicationUpdated        = "ApplicationUpdated"
	EventApplicationMigrate        = "ApplicationMigrate"
	EventMilestoneUpdated          = "MilestoneUpdated"
	EventReviewersAssigned         = "ReviewersAssigned"
	EventReviewSubmitted           = "ReviewSubmitted"
	EventReviewMigrate             = "ReviewMigrate"
	EventRubricsSet                = "RubricsSet"
	EventAutoAssignmentUpdated     = "AutoAssignmentUpdated"
	EventReviewPaymentMarked       = "ReviewPaymentMarked"
	EventReviewPaymentFulfilled    = "ReviewPaymentFulfilled"
	EventWalletMigrated            = "WalletMigrated"
	EventLedgerPauseToggled        = "LedgerPauseToggled"
)
