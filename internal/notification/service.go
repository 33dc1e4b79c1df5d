package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/models"
	"github.com/callsight/callsight-api/internal/repository"
)

type Event struct {
	TenantID string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyCallProcessed(ctx context.Context, tenantID, callRecordID string, durationSeconds int) error
	NotifyCallProcessingFailed(ctx context.Context, tenantID, callRecordID, reason string) error
	ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error)
}

type service struct {
	repo   repository.NotificationRepository
	logger zerolog.Logger
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger) Service {
	return &service{
		repo:   repo,
		logger: logger.With().Str("component", "notification_service").Logger(),
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	message := strings.TrimSpace(evt.Message)
	if title == "" {
		title = string(evt.Event)
	}
	params := repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  message,
		Metadata: evt.Metadata,
	}
	if tid := strings.TrimSpace(evt.TenantID); tid != "" {
		params.TenantID = &tid
	}

	notif, err := s.repo.Create(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	return notif, nil
}

func (s *service) NotifyCallProcessed(ctx context.Context, tenantID, callRecordID string, durationSeconds int) error {
	_, err := s.Publish(ctx, Event{
		TenantID: tenantID,
		Event:    models.NotificationEventCallProcessed,
		Severity: models.NotificationSeverityInfo,
		Title:    "Call processed",
		Message:  fmt.Sprintf("Call %s has been transcribed and analyzed.", callRecordID),
		Metadata: map[string]interface{}{
			"call_record_id":   callRecordID,
			"duration_seconds": durationSeconds,
		},
	})
	return err
}

func (s *service) NotifyCallProcessingFailed(ctx context.Context, tenantID, callRecordID, reason string) error {
	_, err := s.Publish(ctx, Event{
		TenantID: tenantID,
		Event:    models.NotificationEventCallProcessingFailed,
		Severity: models.NotificationSeverityError,
		Title:    "Call processing failed",
		Message:  fmt.Sprintf("Processing for call %s failed: %s", callRecordID, reason),
		Metadata: map[string]interface{}{
			"call_record_id": callRecordID,
			"reason":         reason,
		},
	})
	return err
}

func (s *service) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, tenantID, limit)
}

func (s *service) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, tenantID, notificationID)
}
