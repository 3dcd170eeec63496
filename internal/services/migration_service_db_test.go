// internal/services/migration_service_db_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/models"
)

func (f *ledgerFixture) createAccount(t *testing.T, email, address string) *models.Account {
	t.Helper()
	require.NoError(t, f.db.Unscoped().
		Where("email = ? OR address = ?", email, address).
		Delete(&models.Account{}).Error)
	account := &models.Account{
		Email:   email,
		Address: address,
		Status:  models.AccountStatusActive,
	}
	require.NoError(t, account.SetPassword("Str0ng!pass1"))
	require.NoError(t, f.db.Create(account).Error)
	return account
}

func TestMigrateWalletCompleteness(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x500, 0)
	old := testAddr(0x500, 1)
	other := testAddr(0x500, 2)
	newAddr := testAddr(0x500, 3)
	applicant := testAddr(0x500, 4)

	ws := f.createWorkspace(t, admin)
	f.addReviewers(t, admin, ws.ID, []string{old, other})
	grant := f.createGrant(t, admin, ws.ID, []string{old, other}, 2)
	app := f.submitApplication(t, applicant, grant, 1)

	require.NoError(t, f.reviews.SubmitReview(old, &SubmitReviewRequest{
		ApplicationID: app.ID,
		WorkspaceID:   ws.ID,
		GrantID:       grant.ID,
		FeedbackRef:   "sha256:feedback",
	}))
	oldReview, err := f.reviews.GetReview(old, app.ID)
	require.NoError(t, err)

	// The applicant's own wallet moves too, independently.
	require.NoError(t, f.migrations.MigrateWallet(old, &MigrateWalletRequest{
		OldAddress: old,
		NewAddress: newAddr,
	}))

	// Roles: old no longer holds any, new holds the reviewer role.
	ok, err := f.workspaces.IsAdminOrReviewer(ws.ID, old)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.workspaces.IsAdminOrReviewer(ws.ID, newAddr)
	require.NoError(t, err)
	assert.True(t, ok)

	// Pool: replaced in place, order preserved, cursor untouched. One
	// full pass over a pool of two lands the cursor back on zero.
	migrated := f.reloadGrant(t, grant.ID)
	assert.Equal(t, []string{newAddr, other}, []string(migrated.ReviewerPool))
	assert.Equal(t, uint32(0), migrated.LastAssignedIndex)

	// Counters: moved additively, the old entry zeroed.
	counts, err := f.reviews.AssignmentCounts(grant.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counts[newAddr])
	assert.Equal(t, uint64(0), counts[old])
	assert.Equal(t, uint64(1), counts[other])

	// Reviews: rekeyed under the same sequential id, old record kept
	// inactive for audit.
	rekeyed, err := f.reviews.GetReview(newAddr, app.ID)
	require.NoError(t, err)
	assert.Equal(t, oldReview.ReviewID, rekeyed.ReviewID)
	assert.Equal(t, "sha256:feedback", rekeyed.FeedbackRef)
	assert.True(t, rekeyed.IsActive)

	var stale models.Review
	require.NoError(t, f.db.Unscoped().
		Where("reviewer = ? AND application_id = ?", old, app.ID).
		First(&stale).Error)
	assert.False(t, stale.IsActive)

	// Later submissions draw from the migrated pool.
	app2 := f.submitApplication(t, testAddr(0x500, 5), grant, 1)
	_, err = f.reviews.GetReview(newAddr, app2.ID)
	require.NoError(t, err)
}

func TestMigrateWalletRequiresOwner(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x501, 0)
	old := testAddr(0x501, 1)
	ws := f.createWorkspace(t, admin)
	f.addReviewers(t, admin, ws.ID, []string{old})

	err := f.migrations.MigrateWallet(admin, &MigrateWalletRequest{
		OldAddress: old,
		NewAddress: testAddr(0x501, 2),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "not the wallet owner")

	// Nothing moved.
	ok, err := f.workspaces.IsAdminOrReviewer(ws.ID, old)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMigrateWalletRejectsActiveReviewCollision(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x502, 0)
	old := testAddr(0x502, 1)
	target := testAddr(0x502, 2)
	applicant := testAddr(0x502, 3)

	ws := f.createWorkspace(t, admin)
	f.addReviewers(t, admin, ws.ID, []string{old, target})
	grant := f.createGrant(t, admin, ws.ID, []string{old, target}, 2)
	app := f.submitApplication(t, applicant, grant, 1)

	// Both hold an active review for the same application; merging them
	// would clobber one, so the whole migration fails.
	err := f.migrations.MigrateWallet(old, &MigrateWalletRequest{
		OldAddress: old,
		NewAddress: target,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConsistency, apperrors.KindOf(err))

	// Atomicity: the role copy from earlier steps rolled back too.
	ok, err := f.workspaces.IsAdminOrReviewer(ws.ID, old)
	require.NoError(t, err)
	assert.True(t, ok)
	review, err := f.reviews.GetReview(old, app.ID)
	require.NoError(t, err)
	assert.True(t, review.IsActive)
}

func TestMigrateWalletRebindsLogin(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x504, 0)
	old := testAddr(0x504, 1)
	newAddr := testAddr(0x504, 2)

	ws := f.createWorkspace(t, admin)
	f.addReviewers(t, admin, ws.ID, []string{old})
	f.createAccount(t, old+"@example.com", old)

	require.NoError(t, f.migrations.MigrateWallet(old, &MigrateWalletRequest{
		OldAddress: old,
		NewAddress: newAddr,
	}))

	// Tokens issued after the migration carry the new identity, so the
	// login reaches the roles that just moved.
	account, err := f.auth.GetAccountByAddress(newAddr)
	require.NoError(t, err)
	assert.Equal(t, old+"@example.com", account.Email)

	_, err = f.auth.GetAccountByAddress(old)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestMigrateWalletRejectsClaimedNewAddress(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x505, 0)
	old := testAddr(0x505, 1)
	newAddr := testAddr(0x505, 2)

	ws := f.createWorkspace(t, admin)
	f.addReviewers(t, admin, ws.ID, []string{old})
	f.createAccount(t, old+"@example.com", old)
	f.createAccount(t, newAddr+"@example.com", newAddr)

	// The target address belongs to someone else's login; handing them
	// the migrated roles would be a takeover, so the migration fails.
	err := f.migrations.MigrateWallet(old, &MigrateWalletRequest{
		OldAddress: old,
		NewAddress: newAddr,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConsistency, apperrors.KindOf(err))

	// Atomicity: roles and login stay with the old address.
	ok, err := f.workspaces.IsAdminOrReviewer(ws.ID, old)
	require.NoError(t, err)
	assert.True(t, ok)
	account, err := f.auth.GetAccountByAddress(old)
	require.NoError(t, err)
	assert.Equal(t, old+"@example.com", account.Email)
}

func TestMigrateWalletDedupesSharedPool(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x506, 0)
	old := testAddr(0x506, 1)
	other := testAddr(0x506, 2)
	target := testAddr(0x506, 3)

	ws := f.createWorkspace(t, admin)
	f.addReviewers(t, admin, ws.ID, []string{old, other, target})
	grant := f.createGrant(t, admin, ws.ID, []string{old, other, target}, 1)

	// The target already sits in the pool, so replacement drops the old
	// slot instead of producing a duplicate member.
	require.NoError(t, f.migrations.MigrateWallet(old, &MigrateWalletRequest{
		OldAddress: old,
		NewAddress: target,
	}))

	migrated := f.reloadGrant(t, grant.ID)
	assert.Equal(t, []string{other, target}, []string(migrated.ReviewerPool))
}

func TestMigrateWalletRejectsIdenticalAddresses(t *testing.T) {
	f := newLedgerFixture(t)
	addr := testAddr(0x503, 0)

	err := f.migrations.MigrateWallet(addr, &MigrateWalletRequest{
		OldAddress: addr,
		NewAddress: addr,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindParameter, apperrors.KindOf(err))
}
