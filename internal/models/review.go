// internal/models/review.go
package models

// Review is one reviewer's assignment-and-feedback record against one
// application. Rows are deactivated on unassignment or migration, never
// removed, so historical review ids keep meaning for payment and audit.
// ReviewID is a globally sequential id allocated on assignment; the
// (reviewer, application) pair is the lookup key.
type Review struct {
	BaseModel
	ReviewID      uint64 `json:"review_id" gorm:"not null;index"`
	ApplicationID uint64 `json:"application_id" gorm:"not null;index;uniqueIndex:idx_reviewer_application"`
	WorkspaceID   uint64 `json:"workspace_id" gorm:"not null;index"`
	GrantID       uint64 `json:"grant_id" gorm:"not null;index"`
	Reviewer      string `json:"reviewer" gorm:"size:64;not null;index;uniqueIndex:idx_reviewer_application"`
	FeedbackRef   string `json:"feedback_ref" gorm:"size:128"`
	IsActive      bool   `json:"is_active" gorm:"default:true"`
	PaymentDone   bool   `json:"payment_done" gorm:"default:false"`
}

// Submitted reports whether the reviewer has submitted feedback at
// least once. Unassignment is forbidden after this point.
func (r *Review) Submitted() bool {
	return r.FeedbackRef != ""
}

// ReviewCounter allocates the global sequential review id.
type ReviewCounter struct {
	BaseModel
	Next uint64 `json:"next" gorm:"default:0"`
}

// ReviewPayout records one executed reviewer payout, including the
// external transfer reference, for off-chain reconciliation.
type ReviewPayout struct {
	BaseModel
	WorkspaceID uint64 `json:"workspace_id" gorm:"not null;index"`
	Reviewer    string `json:"reviewer" gorm:"size:64;not null;index"`
	ReviewIDs   JSONB  `json:"review_ids" gorm:"type:jsonb"`
	Currency    string `json:"currency" gorm:"size:16"`
	Amount      int64  `json:"amount"`
	TransferRef string `json:"transfer_ref" gorm:"size:128"`
}
