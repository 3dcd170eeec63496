// internal/models/grant.go
package models

import (
	"github.com/lib/pq"
)

// Grant is one funding program inside a workspace. The auto-assignment
// engine's per-grant state (pool, cursor, counters) lives here so the
// round-robin cursor is owned by the entity it orders, not by a global.
type Grant struct {
	BaseModel
	WorkspaceID   uint64 `json:"workspace_id" gorm:"not null;index"`
	MetadataRef   string `json:"metadata_ref" gorm:"size:128;not null"`
	IsActive      bool   `json:"is_active" gorm:"default:true"`
	NumApplicants uint64 `json:"num_applicants" gorm:"default:0"`
	Balance       int64  `json:"balance" gorm:"default:0"` // smallest currency unit

	// Review configuration and auto-assignment state.
	RubricsRef        string         `json:"rubrics_ref" gorm:"size:128"`
	AutoAssignEnabled bool           `json:"auto_assign_enabled" gorm:"default:false"`
	ReviewerPool      pq.StringArray `json:"reviewer_pool" gorm:"type:text[]"`
	NumPerApplication uint32         `json:"num_per_application" gorm:"default:0"`
	LastAssignedIndex uint32         `json:"last_assigned_index" gorm:"default:0"`
	// SubmittedReviewCount counts reviewers that submitted at least
	// once; resubmissions never increment it.
	SubmittedReviewCount uint64 `json:"submitted_review_count" gorm:"default:0"`

	Workspace Workspace `json:"-" gorm:"foreignKey:WorkspaceID"`
}

// ReviewerAssignmentCount tracks how many review slots the engine has
// handed to one reviewer for one grant. Counts for reviewers removed
// from the pool stay in place; they keep meaning for audit.
type ReviewerAssignmentCount struct {
	BaseModel
	GrantID uint64 `json:"grant_id" gorm:"not null;index;uniqueIndex:idx_grant_reviewer_count"`
	Address string `json:"address" gorm:"size:64;not null;uniqueIndex:idx_grant_reviewer_count"`
	Count   uint64 `json:"count" gorm:"default:0"`
}
