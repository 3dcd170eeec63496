// internal/i18n/keys.go
package i18n

// Translation keys used by handlers and middleware.
const (
	KeyAuthRequired        = "auth.required"
	KeyAuthInvalidToken    = "auth.invalid_token"
	KeyAuthTokenExpired    = "auth.token_expired"
	KeyOperatorRequired    = "auth.operator_required"
	KeyAuthRegisterSuccess = "auth.register_success"
	KeyAuthLoginSuccess    = "auth.login_success"

	KeyValidationInvalid = "validation.invalid"

	KeyWorkspaceCreated   = "workspace.created"
	KeyWorkspaceUpdated   = "workspace.updated"
	KeyMembersUpdated     = "workspace.members_updated"
	KeyGrantCreated       = "grant.created"
	KeyGrantUpdated       = "grant.updated"
	KeyApplicationCreated = "application.created"
	KeyApplicationUpdated = "application.updated"
	KeyMilestoneUpdated   = "milestone.updated"
	KeyReviewersAssigned  = "review.assigned"
	KeyReviewSubmitted    = "review.submitted"
	KeyRubricsSet         = "review.rubrics_set"
	KeyAutoAssignUpdated  = "review.auto_assign_updated"
	KeyPaymentMarked      = "review.payment_marked"
	KeyPaymentFulfilled   = "review.payment_fulfilled"
	KeyWalletMigrated     = "migration.completed"
	KeyMetadataUploaded   = "metadata.uploaded"
	KeyPauseUpdated       = "ledger.pause_updated"
)
