// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Base model with common fields. Ledger entities use sequential ids so
// record order matches the order in which operations were accepted.
type BaseModel struct {
	ID        uint64         `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type MemberRole string

const (
	MemberRoleAdmin    MemberRole = "admin"
	MemberRoleReviewer MemberRole = "reviewer"
)

type ApplicationState string

const (
	ApplicationStateSubmitted ApplicationState = "submitted"
	ApplicationStateResubmit  ApplicationState = "resubmit"
	ApplicationStateApproved  ApplicationState = "approved"
	ApplicationStateRejected  ApplicationState = "rejected"
	ApplicationStateCompleted ApplicationState = "completed"
)

// Terminal reports whether no further state transition is possible.
func (s ApplicationState) Terminal() bool {
	return s == ApplicationStateRejected || s == ApplicationStateCompleted
}

func (s ApplicationState) Valid() bool {
	switch s {
	case ApplicationStateSubmitted, ApplicationStateResubmit, ApplicationStateApproved,
		ApplicationStateRejected, ApplicationStateCompleted:
		return true
	}
	return false
}

type MilestoneState string

const (
	MilestoneStatePending   MilestoneState = "pending"
	MilestoneStateRequested MilestoneState = "requested"
	MilestoneStateApproved  MilestoneState = "approved"
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Ledger names used by the per-ledger pause flag.
const (
	LedgerWorkspaces   = "workspaces"
	LedgerGrants       = "grants"
	LedgerApplications = "applications"
	LedgerReviews      = "reviews"
)
