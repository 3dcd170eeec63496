// internal/services/suite_db_test.go
package services

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opengrants/grants-backend/internal/config"
	"github.com/opengrants/grants-backend/internal/database"
	"github.com/opengrants/grants-backend/internal/models"
	"github.com/opengrants/grants-backend/internal/utils"
)

func defaultPagination() utils.PaginationParams {
	return utils.PaginationParams{Page: 1, Limit: 100, Sort: "id", Order: "asc"}
}

// Database-backed suites run only when TEST_DATABASE_URL points at a
// disposable Postgres instance. The pure-logic tests in this package
// run regardless.

var (
	sharedDB     *gorm.DB
	sharedDBOnce sync.Once
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	sharedDBOnce.Do(func() {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err)
		require.NoError(t, database.RunMigrations(db))
		sharedDB = db
	})
	return sharedDB
}

// testAddr returns a deterministic, well-formed ledger address. Each
// test uses its own base to keep addresses disjoint across tests.
func testAddr(base, i int) string {
	return fmt.Sprintf("0x%036x%04x", base, i)
}

// fakeTransferrer records transfers instead of calling out.
type fakeTransferrer struct {
	mu    sync.Mutex
	calls []fakeTransfer
	fail  error
}

type fakeTransfer struct {
	Destination string
	Amount      int64
	Currency    string
}

func (f *fakeTransferrer) Transfer(destination string, amount int64, currency string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.calls = append(f.calls, fakeTransfer{destination, amount, currency})
	return fmt.Sprintf("tr_test_%d", len(f.calls)), nil
}

// ledgerFixture wires the full service graph over the test database
// with a fake token transferrer.
type ledgerFixture struct {
	db            *gorm.DB
	tokens        *fakeTransferrer
	notifications *NotificationService
	auth          *AuthService
	workspaces    *WorkspaceService
	reviews       *ReviewService
	grants        *GrantService
	applications  *ApplicationService
	migrations    *MigrationService
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	db := testDB(t)
	tokens := &fakeTransferrer{}
	notifications := NewNotificationService(db)
	auth := NewAuthService(db, &config.Config{})
	workspaces := NewWorkspaceService(db, notifications)
	reviews := NewReviewService(db, workspaces, notifications, tokens)
	grants := NewGrantService(db, workspaces, notifications, tokens, reviews)
	applications := NewApplicationService(db, workspaces, notifications, grants, reviews)
	migrations := NewMigrationService(db, notifications, workspaces, reviews, applications, auth)

	return &ledgerFixture{
		db:            db,
		tokens:        tokens,
		notifications: notifications,
		auth:          auth,
		workspaces:    workspaces,
		reviews:       reviews,
		grants:        grants,
		applications:  applications,
		migrations:    migrations,
	}
}

func (f *ledgerFixture) createWorkspace(t *testing.T, admin string) *models.Workspace {
	t.Helper()
	ws, err := f.workspaces.CreateWorkspace(admin, &CreateWorkspaceRequest{
		Title:       "Test Workspace",
		MetadataRef: "sha256:workspace",
	})
	require.NoError(t, err)
	return ws
}

func (f *ledgerFixture) addReviewers(t *testing.T, admin string, workspaceID uint64, reviewers []string) {
	t.Helper()
	req := &UpdateMembersRequest{}
	for _, r := range reviewers {
		req.Addresses = append(req.Addresses, r)
		req.Roles = append(req.Roles, string(models.MemberRoleReviewer))
		req.Actives = append(req.Actives, true)
		req.MetadataRefs = append(req.MetadataRefs, "")
	}
	require.NoError(t, f.workspaces.UpdateMembers(admin, workspaceID, req))
}

func (f *ledgerFixture) createGrant(t *testing.T, admin string, workspaceID uint64, pool []string, perApp uint32) *models.Grant {
	t.Helper()
	grant, err := f.grants.CreateGrant(admin, &CreateGrantRequest{
		WorkspaceID:       workspaceID,
		MetadataRef:       "sha256:grant",
		RubricsRef:        "sha256:rubrics",
		ReviewerPool:      pool,
		NumPerApplication: perApp,
	})
	require.NoError(t, err)
	return grant
}

func (f *ledgerFixture) submitApplication(t *testing.T, applicant string, grant *models.Grant, milestones uint32) *models.Application {
	t.Helper()
	app, err := f.applications.SubmitApplication(applicant, &SubmitApplicationRequest{
		GrantID:        grant.ID,
		WorkspaceID:    grant.WorkspaceID,
		MetadataRef:    "sha256:application",
		MilestoneCount: milestones,
	})
	require.NoError(t, err)
	return app
}

func (f *ledgerFixture) reloadGrant(t *testing.T, id uint64) *models.Grant {
	t.Helper()
	var grant models.Grant
	require.NoError(t, f.db.First(&grant, id).Error)
	return &grant
}
