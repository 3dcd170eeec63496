// internal/services/notification_service.go
package services

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opengrants/grants-backend/internal/models"
)

// NotificationService persists one structured event per mutating ledger
// call, inside the caller's transaction so an aborted operation leaves
// no event behind. Indexers reconstruct history from the events table.
type NotificationService struct {
	db *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db}
}

type EventParams struct {
	Name        string
	Actor       string
	WorkspaceID *uint64
	GrantID     *uint64
	Payload     models.JSONB
}

// Emit records the event within tx. The event row commits or rolls
// back together with the mutation it documents.
func (s *NotificationService) Emit(tx *gorm.DB, p EventParams) error {
	event := &models.Event{
		EventID:     uuid.New(),
		Name:        p.Name,
		Actor:       p.Actor,
		WorkspaceID: p.WorkspaceID,
		GrantID:     p.GrantID,
		Payload:     p.Payload,
	}

	if err := tx.Create(event).Error; err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"event":     p.Name,
		"actor":     p.Actor,
		"workspace": p.WorkspaceID,
		"grant":     p.GrantID,
	}).Info("Ledger event emitted")

	return nil
}

// ListEvents returns the persisted notification stream, newest first.
func (s *NotificationService) ListEvents(workspaceID *uint64, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := s.db.Model(&models.Event{}).Order("id DESC").Limit(limit)
	if workspaceID != nil {
		query = query.Where("workspace_id = ?", *workspaceID)
	}

	var events []models.Event
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func ptr(v uint64) *uint64 {
	return &v
}
