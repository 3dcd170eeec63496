// internal/models/application.go
package models

// Application is one applicant's submission against a grant. State
// transitions are monotonic except the Resubmit -> Submitted loop.
type Application struct {
	BaseModel
	GrantID             uint64           `json:"grant_id" gorm:"not null;index"`
	WorkspaceID         uint64           `json:"workspace_id" gorm:"not null;index"`
	Applicant           string           `json:"applicant" gorm:"size:64;not null;index"`
	MetadataRef         string           `json:"metadata_ref" gorm:"size:128;not null"`
	State               ApplicationState `json:"state" gorm:"type:varchar(16);default:'submitted';index"`
	MilestoneCount      uint32           `json:"milestone_count" gorm:"not null"`
	MilestonesDone      uint32           `json:"milestones_done" gorm:"default:0"`
	Grant               Grant            `json:"-" gorm:"foreignKey:GrantID"`
	Milestones          []Milestone      `json:"milestones,omitempty" gorm:"foreignKey:ApplicationID"`
}

// CanTransition reports whether an admin-driven state change is legal
// for the current application state.
func (a *Application) CanTransition(to ApplicationState) bool {
	switch a.State {
	case ApplicationStateSubmitted:
		return to == ApplicationStateResubmit || to == ApplicationStateApproved || to == ApplicationStateRejected
	case ApplicationStateApproved:
		return to == ApplicationStateCompleted
	default:
		return false
	}
}

// CanResubmit reports whether the applicant may push updated metadata,
// which moves the application back to Submitted. Allowed from both
// Resubmit and Rejected.
func (a *Application) CanResubmit() bool {
	return a.State == ApplicationStateResubmit || a.State == ApplicationStateRejected
}

// Open reports whether the application still occupies the applicant's
// one-open-application-per-grant slot.
func (a *Application) Open() bool {
	return !a.State.Terminal()
}

// Milestone is a sub-deliverable of an approved application. Rows are
// created lazily on the first state change; a missing row is Pending.
type Milestone struct {
	BaseModel
	ApplicationID uint64         `json:"application_id" gorm:"not null;index;uniqueIndex:idx_application_milestone"`
	Index         uint32         `json:"index" gorm:"not null;uniqueIndex:idx_application_milestone"`
	State         MilestoneState `json:"state" gorm:"type:varchar(16);default:'pending'"`
	MetadataRef   string         `json:"metadata_ref" gorm:"size:128"`
}
