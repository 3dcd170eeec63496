// internal/services/token_service.go
package services

import (
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/transfer"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/config"
)

// TokenTransferrer is the external fungible-token boundary. A transfer
// either succeeds and returns an opaque reference, or fails and the
// surrounding ledger transaction aborts with it. Implementations are
// injected so tests can substitute a fake.
type TokenTransferrer interface {
	Transfer(destination string, amount int64, currency string) (string, error)
}

// TokenService moves funds through Stripe transfers.
type TokenService struct {
	config *config.Config
}

func NewTokenService(config *config.Config) *TokenService {
	stripe.Key = config.Payout.StripeSecretKey

	return &TokenService{config: config}
}

func (s *TokenService) Transfer(destination string, amount int64, currency string) (string, error) {
	if amount <= 0 {
		return "", apperrors.Parameter("transfer amount must be positive")
	}
	if currency == "" {
		currency = s.config.Payout.Currency
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(currency),
		Destination: stripe.String(destination),
	}

	tr, err := transfer.New(params)
	if err != nil {
		return "", apperrors.External("token transfer failed", err)
	}

	return tr.ID, nil
}
