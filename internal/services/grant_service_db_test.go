// internal/services/grant_service_db_test.go
package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengrants/grants-backend/internal/apperrors"
)

func TestGrantLockedAfterFirstApplication(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x400, 0)
	ws := f.createWorkspace(t, admin)
	grant := f.createGrant(t, admin, ws.ID, nil, 0)

	require.NoError(t, f.grants.UpdateGrant(admin, &UpdateGrantRequest{
		GrantID:     grant.ID,
		WorkspaceID: ws.ID,
		MetadataRef: "sha256:grant-v2",
	}))

	f.submitApplication(t, testAddr(0x400, 1), grant, 1)

	err := f.grants.UpdateGrant(admin, &UpdateGrantRequest{
		GrantID:     grant.ID,
		WorkspaceID: ws.ID,
		MetadataRef: "sha256:grant-v3",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindState, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "locked after first application")

	got := f.reloadGrant(t, grant.ID)
	assert.Equal(t, "sha256:grant-v2", got.MetadataRef)
}

func TestDepositAndDisburse(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x401, 0)
	applicant := testAddr(0x401, 1)
	ws := f.createWorkspace(t, admin)
	grant := f.createGrant(t, admin, ws.ID, nil, 0)
	app := f.submitApplication(t, applicant, grant, 1)

	require.NoError(t, f.grants.DepositFunds(admin, &DepositFundsRequest{
		GrantID: grant.ID,
		Amount:  1000,
	}))
	assert.Equal(t, int64(1000), f.reloadGrant(t, grant.ID).Balance)

	err := f.grants.DisburseReward(admin, &DisburseRewardRequest{
		GrantID:       grant.ID,
		WorkspaceID:   ws.ID,
		ApplicationID: app.ID,
		Amount:        1500,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindState, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "insufficient grant balance")

	require.NoError(t, f.grants.DisburseReward(admin, &DisburseRewardRequest{
		GrantID:       grant.ID,
		WorkspaceID:   ws.ID,
		ApplicationID: app.ID,
		Amount:        600,
	}))
	assert.Equal(t, int64(400), f.reloadGrant(t, grant.ID).Balance)

	require.Len(t, f.tokens.calls, 1)
	assert.Equal(t, applicant, f.tokens.calls[0].Destination)
	assert.Equal(t, int64(600), f.tokens.calls[0].Amount)
}

func TestDisburseRollsBackOnTransferFailure(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x402, 0)
	applicant := testAddr(0x402, 1)
	ws := f.createWorkspace(t, admin)
	grant := f.createGrant(t, admin, ws.ID, nil, 0)
	app := f.submitApplication(t, applicant, grant, 1)

	require.NoError(t, f.grants.DepositFunds(admin, &DepositFundsRequest{
		GrantID: grant.ID,
		Amount:  1000,
	}))

	f.tokens.fail = errors.New("rail down")
	err := f.grants.DisburseReward(admin, &DisburseRewardRequest{
		GrantID:       grant.ID,
		WorkspaceID:   ws.ID,
		ApplicationID: app.ID,
		Amount:        600,
	})
	require.Error(t, err)

	// Balance decrement rolled back with the failed transfer.
	assert.Equal(t, int64(1000), f.reloadGrant(t, grant.ID).Balance)
}

func TestGrantCreationConfiguresReviews(t *testing.T) {
	f := newLedgerFixture(t)
	admin := testAddr(0x403, 0)
	reviewers := []string{testAddr(0x403, 1), testAddr(0x403, 2)}
	ws := f.createWorkspace(t, admin)
	f.addReviewers(t, admin, ws.ID, reviewers)

	grant := f.createGrant(t, admin, ws.ID, reviewers, 1)
	assert.True(t, grant.AutoAssignEnabled)
	assert.Equal(t, "sha256:rubrics", grant.RubricsRef)
	assert.Equal(t, reviewers, []string(grant.ReviewerPool))

	// Creating under a workspace the caller does not administer fails.
	outsider := testAddr(0x403, 3)
	_, err := f.grants.CreateGrant(outsider, &CreateGrantRequest{
		WorkspaceID: ws.ID,
		MetadataRef: "sha256:grant",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))
}
