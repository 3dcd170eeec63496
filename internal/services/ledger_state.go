// internal/services/ledger_state.go
package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/models"
)

// ensureNotPaused fails fast when the named ledger's pause flag is set.
// Every mutating entry point calls this before touching state.
func ensureNotPaused(tx *gorm.DB, ledger string) error {
	var state models.LedgerState
	if err := tx.Where("name = ?", ledger).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No row means the ledger was never paused.
			return nil
		}
		return apperrors.Internal(err)
	}

	if state.Paused {
		return apperrors.Newf(apperrors.KindState, "%s ledger is paused", ledger)
	}
	return nil
}

// SetLedgerPaused toggles the pause flag. Operator only; the operator
// check happens at the middleware layer, the caller address is recorded
// on the emitted event.
func SetLedgerPaused(tx *gorm.DB, notifications *NotificationService, caller, ledger string, paused bool) error {
	var state models.LedgerState
	if err := tx.Where("name = ?", ledger).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Newf(apperrors.KindParameter, "unknown ledger %q", ledger)
		}
		return apperrors.Internal(err)
	}

	if state.Paused == paused {
		return apperrors.Newf(apperrors.KindState, "%s ledger pause flag already %v", ledger, paused)
	}

	state.Paused = paused
	if err := tx.Save(&state).Error; err != nil {
		return apperrors.Internal(err)
	}

	return notifications.Emit(tx, EventParams{
		Name:    models.EventLedgerPauseToggled,
		Actor:   caller,
		Payload: models.JSONB{"ledger": ledger, "paused": paused},
	})
}
