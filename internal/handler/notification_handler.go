package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/service"
)

type NotificationService interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context) ([]domain.Notification, error)
	Cancel(ctx context.Context, id string) error
}

type DispatchService interface {
	Dispatch(ctx context.Context, id string) (*service.DispatchSummary, error)
	SendImmediate(ctx context.Context, n *domain.Notification) (*service.DispatchSummary, error)
}

type NotificationHandler struct {
	service    NotificationService
	dispatcher DispatchService
}

func NewNotificationHandler(service NotificationService, dispatcher DispatchService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &NotificationHandler{service: service, dispatcher: dispatcher}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService, dispatcher DispatchService) error {
	h, err := NewNotificationHandler(service, dispatcher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)
	v1.Post("/notifications/:id/send", h.SendNotification)
	v1.Post("/notifications/send-immediate", h.SendImmediate)

	return nil
}

type targetRequest struct {
	Kind       string   `json:"kind"`
	Classes    []string `json:"classes,omitempty"`
	Levels     []string `json:"levels,omitempty"`
	StudentIDs []string `json:"studentIds,omitempty"`
}

type createNotificationRequest struct {
	Title       string        `json:"title"`
	Type        string        `json:"type"`
	Message     string        `json:"message"`
	Target      targetRequest `json:"target"`
	ScheduledAt *time.Time    `json:"scheduledAt,omitempty"`
}

type notificationResponse struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Type            string        `json:"type"`
	Message         string        `json:"message"`
	Status          string        `json:"status"`
	Target          targetRequest `json:"target"`
	ScheduledAt     *time.Time    `json:"scheduledAt,omitempty"`
	SentAt          *time.Time    `json:"sentAt,omitempty"`
	TotalRecipients int           `json:"totalRecipients"`
	SuccessCount    int           `json:"successCount"`
	FailureCount    int           `json:"failureCount"`
	CreatedAt       time.Time     `json:"createdAt,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt,omitempty"`
}

type dispatchSummaryResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Stats   dispatchStatsResponse `json:"stats"`
}

type dispatchStatsResponse struct {
	Total  int      `json:"total"`
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	LogIDs []string `json:"logIds"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification, err := requestToDomainNotification(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.Context(), &notification)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	notifications, err := h.service.List(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.NotificationStatusCancelled.String(),
	})
}

// SendNotification dispatches a draft right away instead of waiting for
// its scheduled time.
func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	summary, err := h.dispatcher.Dispatch(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDispatchSummaryResponse(summary))
}

// SendImmediate creates and dispatches a notification in one call.
func (h *NotificationHandler) SendImmediate(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification, err := requestToDomainNotification(req)
	if err != nil {
		return toHTTPError(err)
	}

	summary, err := h.dispatcher.SendImmediate(c.Context(), &notification)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDispatchSummaryResponse(summary))
}

func requestToDomainNotification(req createNotificationRequest) (domain.Notification, error) {
	notificationType, err := domain.ParseNotificationTypeFromString(req.Type)
	if err != nil {
		return domain.Notification{}, err
	}

	targetKind, err := domain.ParseTargetKindFromString(req.Target.Kind)
	if err != nil {
		return domain.Notification{}, err
	}

	return domain.Notification{
		Title:   strings.TrimSpace(req.Title),
		Type:    notificationType,
		Message: req.Message,
		Target: domain.TargetSelector{
			Kind:       targetKind,
			Classes:    req.Target.Classes,
			Levels:     req.Target.Levels,
			StudentIDs: req.Target.StudentIDs,
		},
		ScheduledAt: req.ScheduledAt,
	}, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:      n.ID,
		Title:   n.Title,
		Type:    n.Type.String(),
		Message: n.Message,
		Status:  n.Status.String(),
		Target: targetRequest{
			Kind:       n.Target.Kind.String(),
			Classes:    n.Target.Classes,
			Levels:     n.Target.Levels,
			StudentIDs: n.Target.StudentIDs,
		},
		ScheduledAt:     n.ScheduledAt,
		SentAt:          n.SentAt,
		TotalRecipients: n.TotalRecipients,
		SuccessCount:    n.SuccessCount,
		FailureCount:    n.FailureCount,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func toDispatchSummaryResponse(summary *service.DispatchSummary) dispatchSummaryResponse {
	if summary == nil {
		return dispatchSummaryResponse{}
	}

	return dispatchSummaryResponse{
		Success: summary.Success,
		Message: summary.Message,
		Stats: dispatchStatsResponse{
			Total:  summary.Stats.Total,
			Sent:   summary.Stats.Sent,
			Failed: summary.Stats.Failed,
			LogIDs: summary.Stats.LogIDs,
		},
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRetryNotAllowed):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
