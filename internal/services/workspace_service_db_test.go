// internal/services/workspace_service_db_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/models"
)

func TestCreateWorkspaceMakesCallerOwnerAdmin(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x100, 0)

	ws := f.createWorkspace(t, admin)
	assert.Equal(t, admin, ws.Owner)
	assert.True(t, ws.IsActive)

	ok, err := f.workspaces.IsAdmin(ws.ID, admin)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateMembersLengthMismatch(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x101, 0)
	ws := f.createWorkspace(t, admin)

	err := f.workspaces.UpdateMembers(admin, ws.ID, &UpdateMembersRequest{
		Addresses:    []string{testAddr(0x101, 1), testAddr(0x101, 2)},
		Roles:        []string{string(models.MemberRoleReviewer)},
		Actives:      []bool{true, true},
		MetadataRefs: []string{"", ""},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindParameter, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "parameters length mismatch")
}

func TestUpdateMembersOwnerDemotionGuard(t *testing.T) {
	f := newLedgerFixture(t)
	owner := testAddr(0x102, 0)
	second := testAddr(0x102, 1)
	ws := f.createWorkspace(t, owner)

	// Promote a second admin first so the invariant is not the blocker.
	require.NoError(t, f.workspaces.UpdateMembers(owner, ws.ID, &UpdateMembersRequest{
		Addresses:    []string{second},
		Roles:        []string{string(models.MemberRoleAdmin)},
		Actives:      []bool{true},
		MetadataRefs: []string{""},
	}))

	err := f.workspaces.UpdateMembers(second, ws.ID, &UpdateMembersRequest{
		Addresses:    []string{owner},
		Roles:        []string{string(models.MemberRoleReviewer)},
		Actives:      []bool{true},
		MetadataRefs: []string{""},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "cannot demote workspace owner")

	// The owner may demote themselves as long as another admin remains.
	require.NoError(t, f.workspaces.UpdateMembers(owner, ws.ID, &UpdateMembersRequest{
		Addresses:    []string{owner},
		Roles:        []string{string(models.MemberRoleReviewer)},
		Actives:      []bool{true},
		MetadataRefs: []string{""},
	}))
	ok, err := f.workspaces.IsAdmin(ws.ID, owner)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateMembersKeepsOneActiveAdmin(t *testing.T) {
	f := newLedgerFixture(t)
	owner := testAddr(0x103, 0)
	ws := f.createWorkspace(t, owner)

	err := f.workspaces.UpdateMembers(owner, ws.ID, &UpdateMembersRequest{
		Addresses:    []string{owner},
		Roles:        []string{string(models.MemberRoleAdmin)},
		Actives:      []bool{false},
		MetadataRefs: []string{""},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindState, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "at least one active admin")

	// The failed update rolled back, the owner is still an admin.
	ok, err := f.workspaces.IsAdmin(ws.ID, owner)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateMembersReviewerSelfServicePath(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x104, 0)
	reviewer := testAddr(0x104, 1)
	other := testAddr(0x104, 2)
	ws := f.createWorkspace(t, admin)
	f.addReviewers(t, admin, ws.ID, []string{reviewer, other})

	// Metadata-only self update is allowed.
	require.NoError(t, f.workspaces.UpdateMembers(reviewer, ws.ID, &UpdateMembersRequest{
		Addresses:    []string{reviewer},
		Roles:        []string{string(models.MemberRoleReviewer)},
		Actives:      []bool{true},
		MetadataRefs: []string{"sha256:profile"},
	}))

	// A reviewer may not touch anyone else's entry.
	err := f.workspaces.UpdateMembers(reviewer, ws.ID, &UpdateMembersRequest{
		Addresses:    []string{other},
		Roles:        []string{string(models.MemberRoleReviewer)},
		Actives:      []bool{false},
		MetadataRefs: []string{""},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))

	// Nor promote themselves.
	err = f.workspaces.UpdateMembers(reviewer, ws.ID, &UpdateMembersRequest{
		Addresses:    []string{reviewer},
		Roles:        []string{string(models.MemberRoleAdmin)},
		Actives:      []bool{true},
		MetadataRefs: []string{""},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))
}

func TestPausedLedgerBlocksMutations(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x105, 0)
	ws := f.createWorkspace(t, admin)

	require.NoError(t, f.db.Model(&models.LedgerState{}).
		Where("name = ?", models.LedgerWorkspaces).
		Update("paused", true).Error)
	defer func() {
		require.NoError(t, f.db.Model(&models.LedgerState{}).
			Where("name = ?", models.LedgerWorkspaces).
			Update("paused", false).Error)
	}()

	_, err := f.workspaces.UpdateWorkspace(admin, ws.ID, &UpdateWorkspaceRequest{
		Title: "renamed",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindState, apperrors.KindOf(err))

	// Reads stay available while paused.
	got, err := f.workspaces.GetWorkspace(ws.ID)
	require.NoError(t, err)
	assert.Equal(t, ws.ID, got.ID)
}
