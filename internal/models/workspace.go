// internal/models/workspace.go
package models

// Workspace is a tenant organization owning grants, members and
// reviewer pools. Created once, never deleted; deactivation hides it.
type Workspace struct {
	BaseModel
	Title       string `json:"title" gorm:"size:255"`
	MetadataRef string `json:"metadata_ref" gorm:"size:128;not null"`
	Owner       string `json:"owner" gorm:"size:64;not null;index"`
	CustodyRef  string `json:"custody_ref,omitempty" gorm:"size:128"`
	IsActive    bool   `json:"is_active" gorm:"default:true"`
	IsVisible   bool   `json:"is_visible" gorm:"default:true"`

	// Relationships
	Members []WorkspaceMember `json:"members,omitempty" gorm:"foreignKey:WorkspaceID"`
	Grants  []Grant           `json:"grants,omitempty" gorm:"foreignKey:WorkspaceID"`
}

// WorkspaceMember tags one address with a role inside one workspace.
// A deactivated row is kept so membership history survives migrations.
type WorkspaceMember struct {
	BaseModel
	WorkspaceID uint64     `json:"workspace_id" gorm:"not null;index;uniqueIndex:idx_workspace_member"`
	Address     string     `json:"address" gorm:"size:64;not null;index;uniqueIndex:idx_workspace_member"`
	Role        MemberRole `json:"role" gorm:"type:varchar(16);not null"`
	IsActive    bool       `json:"is_active" gorm:"default:true"`
	MetadataRef string     `json:"metadata_ref" gorm:"size:128"`

	Workspace Workspace `json:"-" gorm:"foreignKey:WorkspaceID"`
}

// HoldsRole reports whether the member currently satisfies the given
// role requirement. Admins satisfy the reviewer requirement too.
func (m *WorkspaceMember) HoldsRole(role MemberRole) bool {
	if !m.IsActive {
		return false
	}
	if role == MemberRoleReviewer {
		return m.Role == MemberRoleAdmin || m.Role == MemberRoleReviewer
	}
	return m.Role == role
}

// LedgerState carries the operational pause flag for one ledger. All
// mutating entry points of a paused ledger fail fast until unpaused.
type LedgerState struct {
	BaseModel
	Name   string `json:"name" gorm:"size:32;not null;uniqueIndex"`
	Paused bool   `json:"paused" gorm:"default:false"`
}
