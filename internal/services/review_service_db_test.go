// internal/services/review_service_db_test.go
package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/models"
)

type ReviewServiceTestSuite struct {
	suite.Suite
	f *ledgerFixture

	admin     string
	reviewers []string
	ws        *models.Workspace
}

// addrBase keeps addresses disjoint across the suite's tests.
var addrBase = 0x200

func (s *ReviewServiceTestSuite) SetupTest() {
	s.f = newLedgerFixture(s.T())

	addrBase++
	s.admin = testAddr(addrBase, 0)
	s.reviewers = nil
	for i := 1; i <= 5; i++ {
		s.reviewers = append(s.reviewers, testAddr(addrBase, i))
	}
	s.ws = s.f.createWorkspace(s.T(), s.admin)
	s.f.addReviewers(s.T(), s.admin, s.ws.ID, s.reviewers)
}

func (s *ReviewServiceTestSuite) applicant(i int) string {
	return testAddr(addrBase, 0x80+i)
}

// Backfill on enablement: one application already waiting, pool of 5,
// two reviewers per application.
func (s *ReviewServiceTestSuite) TestEnableBackfillsPendingApplication() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, nil, 0)
	app := s.f.submitApplication(s.T(), s.applicant(0), grant, 1)

	s.Require().NoError(s.f.reviews.EnableAutoAssignment(s.admin, &AutoAssignmentRequest{
		WorkspaceID:       s.ws.ID,
		GrantID:           grant.ID,
		ReviewerPool:      s.reviewers,
		NumPerApplication: 2,
	}))

	reviews, total, err := s.f.reviews.ListReviews(app.ID, defaultPagination())
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Equal(s.reviewers[0], reviews[0].Reviewer)
	s.Equal(s.reviewers[1], reviews[1].Reviewer)
	for _, r := range reviews {
		s.True(r.IsActive)
	}

	s.Equal(uint32(2), s.f.reloadGrant(s.T(), grant.ID).LastAssignedIndex)
}

// Seven submissions against a pool of 5 with two slots each: 14 slots,
// counters stay within 1 of each other and the cursor lands on 14 mod 5.
func (s *ReviewServiceTestSuite) TestDistributionStaysBalanced() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, s.reviewers, 2)

	for i := 0; i < 7; i++ {
		s.f.submitApplication(s.T(), s.applicant(i), grant, 1)
	}

	counts, err := s.f.reviews.AssignmentCounts(grant.ID)
	s.Require().NoError(err)
	s.Len(counts, 5)

	var sum, min, max uint64
	min = ^uint64(0)
	for _, c := range counts {
		sum += c
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	s.Equal(uint64(14), sum)
	s.LessOrEqual(max-min, uint64(1))

	s.Equal(uint32(4), s.f.reloadGrant(s.T(), grant.ID).LastAssignedIndex)
}

// A pool replacement may shrink below the per-application count; a pass
// then wraps the pool and a reviewer serves several slots of the same
// application. One review row per reviewer, counters per slot.
func (s *ReviewServiceTestSuite) TestPassWrapsWhenPoolShrinksBelowCount() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, s.reviewers, 2)

	small := s.reviewers[:3]
	s.Require().NoError(s.f.reviews.UpdateAutoAssignment(s.admin, &AutoAssignmentRequest{
		WorkspaceID:       s.ws.ID,
		GrantID:           grant.ID,
		ReviewerPool:      small,
		NumPerApplication: 4,
	}))

	app := s.f.submitApplication(s.T(), s.applicant(0), grant, 1)

	_, total, err := s.f.reviews.ListReviews(app.ID, defaultPagination())
	s.Require().NoError(err)
	s.Equal(int64(3), total)

	counts, err := s.f.reviews.AssignmentCounts(grant.ID)
	s.Require().NoError(err)
	s.Equal(uint64(2), counts[small[0]])
	s.Equal(uint64(1), counts[small[1]])
	s.Equal(uint64(1), counts[small[2]])

	s.Equal(uint32(1), s.f.reloadGrant(s.T(), grant.ID).LastAssignedIndex)
}

func (s *ReviewServiceTestSuite) TestEnableRejectsPoolSmallerThanCount() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, nil, 0)

	err := s.f.reviews.EnableAutoAssignment(s.admin, &AutoAssignmentRequest{
		WorkspaceID:       s.ws.ID,
		GrantID:           grant.ID,
		ReviewerPool:      s.reviewers[:3],
		NumPerApplication: 4,
	})
	s.Require().Error(err)
	s.Equal(apperrors.KindParameter, apperrors.KindOf(err))
}

// A rewrite of the same review updates the feedback reference but never
// moves the per-grant submitted counter a second time.
func (s *ReviewServiceTestSuite) TestResubmissionDoesNotDoubleCount() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, s.reviewers, 2)
	app := s.f.submitApplication(s.T(), s.applicant(0), grant, 1)

	reviewer := s.reviewers[0]
	submit := func(ref string) error {
		return s.f.reviews.SubmitReview(reviewer, &SubmitReviewRequest{
			ApplicationID: app.ID,
			WorkspaceID:   s.ws.ID,
			GrantID:       grant.ID,
			FeedbackRef:   ref,
		})
	}

	s.Require().NoError(submit("sha256:feedback-v1"))
	s.Equal(uint64(1), s.f.reloadGrant(s.T(), grant.ID).SubmittedReviewCount)

	s.Require().NoError(submit("sha256:feedback-v2"))
	s.Equal(uint64(1), s.f.reloadGrant(s.T(), grant.ID).SubmittedReviewCount)

	review, err := s.f.reviews.GetReview(reviewer, app.ID)
	s.Require().NoError(err)
	s.Equal("sha256:feedback-v2", review.FeedbackRef)
}

// Unassignment is blocked once feedback landed; a reviewer who has not
// submitted can still be unassigned in the same call pattern.
func (s *ReviewServiceTestSuite) TestUnassignBlockedAfterSubmission() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, s.reviewers, 2)
	app := s.f.submitApplication(s.T(), s.applicant(0), grant, 1)

	submitted := s.reviewers[0]
	s.Require().NoError(s.f.reviews.SubmitReview(submitted, &SubmitReviewRequest{
		ApplicationID: app.ID,
		WorkspaceID:   s.ws.ID,
		GrantID:       grant.ID,
		FeedbackRef:   "sha256:feedback",
	}))

	err := s.f.reviews.AssignReviewers(s.admin, &AssignReviewersRequest{
		WorkspaceID:   s.ws.ID,
		ApplicationID: app.ID,
		GrantID:       grant.ID,
		Reviewers:     []string{submitted},
		Actives:       []bool{false},
	})
	s.Require().Error(err)
	s.Equal(apperrors.KindState, apperrors.KindOf(err))
	s.Contains(err.Error(), "review already submitted")

	s.Require().NoError(s.f.reviews.AssignReviewers(s.admin, &AssignReviewersRequest{
		WorkspaceID:   s.ws.ID,
		ApplicationID: app.ID,
		GrantID:       grant.ID,
		Reviewers:     []string{s.reviewers[1]},
		Actives:       []bool{false},
	}))
	review, err := s.f.reviews.GetReview(s.reviewers[1], app.ID)
	s.Require().NoError(err)
	s.False(review.IsActive)
}

func (s *ReviewServiceTestSuite) TestRubricsLockedAfterFirstReview() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, s.reviewers, 1)
	app := s.f.submitApplication(s.T(), s.applicant(0), grant, 1)

	s.Require().NoError(s.f.reviews.SubmitReview(s.reviewers[0], &SubmitReviewRequest{
		ApplicationID: app.ID,
		WorkspaceID:   s.ws.ID,
		GrantID:       grant.ID,
		FeedbackRef:   "sha256:feedback",
	}))

	err := s.f.reviews.SetRubrics(s.admin, s.ws.ID, grant.ID, "sha256:rubrics-v2")
	s.Require().Error(err)
	s.Equal(apperrors.KindState, apperrors.KindOf(err))
	s.Contains(err.Error(), "reviews non-zero")
}

// Pool replacement resets the cursor, keeps historical counters and
// never touches existing reviews. A dry run validates and changes
// nothing.
func (s *ReviewServiceTestSuite) TestUpdateResetsCursorKeepsCounts() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, s.reviewers[:3], 2)
	app := s.f.submitApplication(s.T(), s.applicant(0), grant, 1)

	s.Equal(uint32(2), s.f.reloadGrant(s.T(), grant.ID).LastAssignedIndex)

	s.Require().NoError(s.f.reviews.UpdateAutoAssignment(s.admin, &AutoAssignmentRequest{
		WorkspaceID:       s.ws.ID,
		GrantID:           grant.ID,
		ReviewerPool:      s.reviewers[3:],
		NumPerApplication: 1,
		DryRun:            true,
	}))
	unchanged := s.f.reloadGrant(s.T(), grant.ID)
	s.Equal(uint32(2), unchanged.LastAssignedIndex)
	s.Equal([]string(unchanged.ReviewerPool), s.reviewers[:3])

	s.Require().NoError(s.f.reviews.UpdateAutoAssignment(s.admin, &AutoAssignmentRequest{
		WorkspaceID:       s.ws.ID,
		GrantID:           grant.ID,
		ReviewerPool:      s.reviewers[3:],
		NumPerApplication: 1,
	}))
	updated := s.f.reloadGrant(s.T(), grant.ID)
	s.Equal(uint32(0), updated.LastAssignedIndex)
	s.Equal([]string(updated.ReviewerPool), s.reviewers[3:])

	// Earlier assignments survive the replacement.
	_, total, err := s.f.reviews.ListReviews(app.ID, defaultPagination())
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	counts, err := s.f.reviews.AssignmentCounts(grant.ID)
	s.Require().NoError(err)
	s.Equal(uint64(1), counts[s.reviewers[0]])
	s.Equal(uint64(1), counts[s.reviewers[1]])
}

func (s *ReviewServiceTestSuite) TestFulfillPaymentTransfersAtomically() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, s.reviewers, 1)
	app := s.f.submitApplication(s.T(), s.applicant(0), grant, 1)

	reviewer := s.reviewers[0]
	s.Require().NoError(s.f.reviews.SubmitReview(reviewer, &SubmitReviewRequest{
		ApplicationID: app.ID,
		WorkspaceID:   s.ws.ID,
		GrantID:       grant.ID,
		FeedbackRef:   "sha256:feedback",
	}))
	review, err := s.f.reviews.GetReview(reviewer, app.ID)
	s.Require().NoError(err)

	payment := &ReviewPaymentRequest{
		WorkspaceID:    s.ws.ID,
		ApplicationIDs: []uint64{app.ID},
		Reviewer:       reviewer,
		ReviewIDs:      []uint64{review.ReviewID},
		Amount:         500,
		Currency:       "usd",
	}

	// A failing transfer rolls the whole payment back.
	s.f.tokens.fail = errors.New("rail down")
	err = s.f.reviews.FulfillPayment(s.admin, payment)
	s.Require().Error(err)
	review, err = s.f.reviews.GetReview(reviewer, app.ID)
	s.Require().NoError(err)
	s.False(review.PaymentDone)

	s.f.tokens.fail = nil
	s.Require().NoError(s.f.reviews.FulfillPayment(s.admin, payment))
	review, err = s.f.reviews.GetReview(reviewer, app.ID)
	s.Require().NoError(err)
	s.True(review.PaymentDone)

	s.Require().Len(s.f.tokens.calls, 1)
	s.Equal(reviewer, s.f.tokens.calls[0].Destination)
	s.Equal(int64(500), s.f.tokens.calls[0].Amount)

	var payout models.ReviewPayout
	s.Require().NoError(s.f.db.Where("workspace_id = ? AND reviewer = ?", s.ws.ID, reviewer).
		Order("id DESC").First(&payout).Error)
	s.NotEmpty(payout.TransferRef)
}

func (s *ReviewServiceTestSuite) TestFulfillPaymentStampsOnlyItsPayout() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, s.reviewers[:1], 1)
	app1 := s.f.submitApplication(s.T(), s.applicant(0), grant, 1)
	app2 := s.f.submitApplication(s.T(), s.applicant(1), grant, 1)

	reviewer := s.reviewers[0]
	for _, app := range []*models.Application{app1, app2} {
		s.Require().NoError(s.f.reviews.SubmitReview(reviewer, &SubmitReviewRequest{
			ApplicationID: app.ID,
			WorkspaceID:   s.ws.ID,
			GrantID:       grant.ID,
			FeedbackRef:   "sha256:feedback",
		}))
	}
	review1, err := s.f.reviews.GetReview(reviewer, app1.ID)
	s.Require().NoError(err)
	review2, err := s.f.reviews.GetReview(reviewer, app2.ID)
	s.Require().NoError(err)

	// First payment marked out-of-band, with no transfer reference.
	s.Require().NoError(s.f.reviews.MarkPaymentDone(s.admin, &ReviewPaymentRequest{
		WorkspaceID:    s.ws.ID,
		ApplicationIDs: []uint64{app1.ID},
		Reviewer:       reviewer,
		ReviewIDs:      []uint64{review1.ReviewID},
		Amount:         300,
		Currency:       "usd",
	}))

	s.Require().NoError(s.f.reviews.FulfillPayment(s.admin, &ReviewPaymentRequest{
		WorkspaceID:    s.ws.ID,
		ApplicationIDs: []uint64{app2.ID},
		Reviewer:       reviewer,
		ReviewIDs:      []uint64{review2.ReviewID},
		Amount:         500,
		Currency:       "usd",
	}))

	// Only the payout created by the fulfilling call gets the transfer
	// reference; the earlier unstamped row keeps its history as-is.
	var payouts []models.ReviewPayout
	s.Require().NoError(s.f.db.Where("workspace_id = ? AND reviewer = ?", s.ws.ID, reviewer).
		Order("id").Find(&payouts).Error)
	s.Require().Len(payouts, 2)
	s.Empty(payouts[0].TransferRef)
	s.NotEmpty(payouts[1].TransferRef)
	s.Equal(int64(500), payouts[1].Amount)
}

func (s *ReviewServiceTestSuite) TestSubmitRequiresAssignment() {
	grant := s.f.createGrant(s.T(), s.admin, s.ws.ID, s.reviewers[:2], 1)
	app := s.f.submitApplication(s.T(), s.applicant(0), grant, 1)

	// A workspace reviewer who was never assigned to this application.
	err := s.f.reviews.SubmitReview(s.reviewers[4], &SubmitReviewRequest{
		ApplicationID: app.ID,
		WorkspaceID:   s.ws.ID,
		GrantID:       grant.ID,
		FeedbackRef:   "sha256:feedback",
	})
	s.Require().Error(err)
	s.Equal(apperrors.KindAuthorization, apperrors.KindOf(err))
	s.Contains(err.Error(), "not assigned")
}

func TestReviewServiceSuite(t *testing.T) {
	suite.Run(t, new(ReviewServiceTestSuite))
}
