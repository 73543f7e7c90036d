package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/repository"
	"github.com/mirado/sms-dispatch/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type SmsLogService interface {
	GetByID(ctx context.Context, id string) (*domain.SmsLog, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.SmsLog, int64, error)
	StatusSummary(ctx context.Context, notificationID *string) ([]repository.StatusSummary, error)
	Retry(ctx context.Context, id string, force bool) (*domain.SmsLog, error)
	RetryAllFailed(ctx context.Context) (service.RetrySummary, error)
	Cancel(ctx context.Context, id string) (*domain.SmsLog, error)
	CancelAllPending(ctx context.Context) (int64, error)
	Ignore(ctx context.Context, id string) error
	IgnoreAllFailed(ctx context.Context) (int64, error)
}

type SmsLogHandler struct {
	service SmsLogService
}

func NewSmsLogHandler(service SmsLogService) (*SmsLogHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("sms log service is required")
	}
	return &SmsLogHandler{service: service}, nil
}

func RegisterSmsLogRoutes(router fiber.Router, service SmsLogService) error {
	h, err := NewSmsLogHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/sms-logs", h.ListSmsLogs)
	v1.Get("/sms-logs/stats", h.GetStats)
	v1.Post("/sms-logs/retry-all", h.RetryAllFailed)
	v1.Post("/sms-logs/cancel-all", h.CancelAllPending)
	v1.Post("/sms-logs/ignore-all", h.IgnoreAllFailed)
	v1.Get("/sms-logs/:id", h.GetSmsLog)
	v1.Post("/sms-logs/:id/retry", h.RetrySmsLog)
	v1.Post("/sms-logs/:id/cancel", h.CancelSmsLog)
	v1.Post("/sms-logs/:id/ignore", h.IgnoreSmsLog)

	return nil
}

type smsLogResponse struct {
	ID                string     `json:"id"`
	NotificationID    *string    `json:"notificationId,omitempty"`
	NotificationTitle string     `json:"notificationTitle"`
	NotificationType  string     `json:"notificationType"`
	ParentID          string     `json:"parentId"`
	StudentID         *string    `json:"studentId,omitempty"`
	PhoneNumber       string     `json:"phoneNumber"`
	Message           string     `json:"message"`
	Status            string     `json:"status"`
	ExternalID        *string    `json:"externalId,omitempty"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	RetryCount        int        `json:"retryCount"`
	Ignored           bool       `json:"ignored"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type listSmsLogsResponse struct {
	Data []smsLogResponse `json:"data"`
	Meta listMeta         `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type statusSummaryResponse struct {
	Counts []statusCountItem `json:"counts"`
}

type statusCountItem struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (h *SmsLogHandler) ListSmsLogs(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	logs, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]smsLogResponse, 0, len(logs))
	for i := range logs {
		responses = append(responses, toSmsLogResponse(&logs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listSmsLogsResponse{
		Data: responses,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *SmsLogHandler) GetStats(c *fiber.Ctx) error {
	var notificationID *string
	if raw := strings.TrimSpace(c.Query("notificationId")); raw != "" {
		notificationID = &raw
	}

	summaries, err := h.service.StatusSummary(c.Context(), notificationID)
	if err != nil {
		return toHTTPError(err)
	}

	counts := make([]statusCountItem, 0, len(summaries))
	for _, summary := range summaries {
		counts = append(counts, statusCountItem{
			Status: summary.Status.String(),
			Count:  summary.Count,
		})
	}

	return c.Status(fiber.StatusOK).JSON(statusSummaryResponse{Counts: counts})
}

func (h *SmsLogHandler) GetSmsLog(c *fiber.Ctx) error {
	entry, err := h.service.GetByID(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSmsLogResponse(entry))
}

// RetrySmsLog re-sends one failed message. ?force=true bypasses the retry
// limit.
func (h *SmsLogHandler) RetrySmsLog(c *fiber.Ctx) error {
	force := c.QueryBool("force", false)
	entry, err := h.service.Retry(c.Context(), strings.TrimSpace(c.Params("id")), force)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSmsLogResponse(entry))
}

func (h *SmsLogHandler) RetryAllFailed(c *fiber.Ctx) error {
	summary, err := h.service.RetryAllFailed(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"attempted": summary.Attempted,
		"retried":   summary.Retried,
		"skipped":   summary.Skipped,
	})
}

func (h *SmsLogHandler) CancelSmsLog(c *fiber.Ctx) error {
	entry, err := h.service.Cancel(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSmsLogResponse(entry))
}

func (h *SmsLogHandler) CancelAllPending(c *fiber.Ctx) error {
	count, err := h.service.CancelAllPending(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"cancelled": count})
}

func (h *SmsLogHandler) IgnoreSmsLog(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Ignore(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"smsLogId": id,
		"ignored":  true,
	})
}

func (h *SmsLogHandler) IgnoreAllFailed(c *fiber.Ctx) error {
	count, err := h.service.IgnoreAllFailed(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ignored": count})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseLogStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawID := strings.TrimSpace(c.Query("notificationId")); rawID != "" {
		params.NotificationID = &rawID
	}

	if rawPhone := strings.TrimSpace(c.Query("phone")); rawPhone != "" {
		phone := domain.NormalizePhone(rawPhone)
		params.Phone = &phone
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toSmsLogResponse(l *domain.SmsLog) smsLogResponse {
	if l == nil {
		return smsLogResponse{}
	}

	return smsLogResponse{
		ID:                l.ID,
		NotificationID:    l.NotificationID,
		NotificationTitle: l.NotificationTitle,
		NotificationType:  l.NotificationType,
		ParentID:          l.ParentID,
		StudentID:         l.StudentID,
		PhoneNumber:       l.PhoneNumber,
		Message:           l.Message,
		Status:            l.Status.String(),
		ExternalID:        l.ExternalID,
		ErrorMessage:      l.ErrorMessage,
		RetryCount:        l.RetryCount,
		Ignored:           l.Ignored,
		SentAt:            l.SentAt,
		DeliveredAt:       l.DeliveredAt,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}
