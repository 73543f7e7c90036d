package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mirado/sms-dispatch/internal/observability"
	"github.com/mirado/sms-dispatch/internal/service"
)

type StatusEventHandler interface {
	HandleStatusEvent(ctx context.Context, source string, event service.StatusEvent) error
}

// WebhookHandler receives delivery reports pushed back by the SMS gateway.
// Requests must carry the same credential headers we present on outbound
// calls; anything else is rejected before the body is read.
type WebhookHandler struct {
	correlator StatusEventHandler
	secretID   string
	projectID  string
}

func NewWebhookHandler(correlator StatusEventHandler, secretID, projectID string) (*WebhookHandler, error) {
	if correlator == nil {
		return nil, fmt.Errorf("correlator is required")
	}
	if strings.TrimSpace(secretID) == "" || strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("webhook credentials are required")
	}

	return &WebhookHandler{
		correlator: correlator,
		secretID:   secretID,
		projectID:  projectID,
	}, nil
}

func RegisterWebhookRoutes(router fiber.Router, correlator StatusEventHandler, secretID, projectID string) error {
	h, err := NewWebhookHandler(correlator, secretID, projectID)
	if err != nil {
		return err
	}

	router.Post("/sms-webhook/status-update", h.StatusUpdate)
	return nil
}

type statusUpdateRequest struct {
	MessageID    string     `json:"messageId"`
	Status       string     `json:"status"`
	Phone        string     `json:"phone"`
	Content      string     `json:"content,omitempty"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	SmsLogID     string     `json:"smsLogId,omitempty"`
}

func (h *WebhookHandler) StatusUpdate(c *fiber.Ctx) error {
	if c.Get("x-secret-id") != h.secretID || c.Get("x-project-id") != h.projectID {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid gateway credentials")
	}

	var req statusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Status) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "status is required")
	}

	event := service.StatusEvent{
		SmsLogID:     req.SmsLogID,
		MessageID:    req.MessageID,
		Status:       req.Status,
		Phone:        req.Phone,
		Content:      req.Content,
		ErrorMessage: req.ErrorMessage,
		UpdatedAt:    req.UpdatedAt,
	}

	ctx := context.Context(c.Context())
	if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
		ctx = observability.WithCorrelationID(ctx, rid)
	}
	if err := h.correlator.HandleStatusEvent(ctx, "webhook", event); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}
