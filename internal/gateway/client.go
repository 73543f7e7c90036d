package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/observability"
	"github.com/mirado/sms-dispatch/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultGatewayTimeout = 15 * time.Second

	headerSecretID  = "x-secret-id"
	headerProjectID = "x-project-id"

	invalidNumberReason = "invalid number"
	rateLimitChannel    = "gateway"
)

type bulkRequest struct {
	Phones  []string `json:"phones"`
	Message string   `json:"message"`
}

type bulkResponseItem struct {
	ID      string `json:"_id"`
	Phone   string `json:"phone"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type bulkResponse struct {
	Message string             `json:"message,omitempty"`
	Data    []bulkResponseItem `json:"data,omitempty"`
}

// Client performs the bulk HTTP call against the external SMS gateway and
// normalizes its heterogeneous response into per-phone results. Once
// constructed it never returns an error to its caller: every failure mode
// collapses into a BatchResult with per-phone failure details.
type Client struct {
	client    *resty.Client
	endpoint  string
	secretID  string
	projectID string
	limiter   ratelimit.RateLimiter
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewClient(endpoint, secretID, projectID string, logger *zap.Logger) (*Client, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewClientWithResty(endpoint, secretID, projectID, client, logger)
}

func NewClientWithResty(endpoint, secretID, projectID string, client *resty.Client, logger *zap.Logger) (*Client, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gateway endpoint: %w", err)
	}
	if strings.TrimSpace(secretID) == "" || strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("gateway credentials are required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &Client{
		client:    client,
		endpoint:  trimmedEndpoint,
		secretID:  strings.TrimSpace(secretID),
		projectID: strings.TrimSpace(projectID),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SetRateLimiter bounds outbound gateway calls; nil disables limiting.
func (c *Client) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if c == nil {
		return
	}
	c.limiter = limiter
}

func (c *Client) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// SendBatch dispatches one message to many phones in a single gateway call.
// Phones failing local validation are excluded from the outbound request
// and reported failed without consuming a gateway call. A phone appearing
// more than once goes out a single time and every occurrence shares the
// gateway's result for it.
func (c *Client) SendBatch(ctx context.Context, phones []string, message string) BatchResult {
	results := make([]PhoneResult, len(phones))
	outbound := make([]string, 0, len(phones))
	outboundIdx := make(map[string][]int, len(phones))

	for i, phone := range phones {
		normalized := domain.NormalizePhone(phone)
		results[i] = PhoneResult{Phone: normalized}

		if err := domain.ValidatePhone(normalized); err != nil {
			results[i].Status = domain.LogStatusFailed
			results[i].Error = invalidNumberReason
			c.logger.Warn("excluding invalid phone from gateway call",
				zap.String("phone", normalized),
				zap.Error(err),
			)
			continue
		}

		if _, seen := outboundIdx[normalized]; !seen {
			outbound = append(outbound, normalized)
		}
		outboundIdx[normalized] = append(outboundIdx[normalized], i)
	}

	if len(outbound) == 0 {
		return BatchResult{
			OverallSuccess: false,
			Message:        "no valid phone numbers",
			PerPhone:       results,
		}
	}

	response, callErr := c.post(ctx, outbound, message)
	if callErr != nil {
		c.logger.Error("gateway call failed", zap.Int("phones", len(outbound)), zap.Error(callErr))
		c.failAll(results, outboundIdx, callErr.Error())
		return BatchResult{
			OverallSuccess: false,
			Message:        callErr.Error(),
			PerPhone:       results,
		}
	}

	anyAccepted := false
	for _, item := range response.Data {
		idxs, ok := outboundIdx[domain.NormalizePhone(item.Phone)]
		if !ok {
			c.logger.Warn("gateway reported a phone we did not send",
				zap.String("phone", item.Phone),
			)
			continue
		}

		status := domain.MapGatewayStatus(item.Status)
		for _, idx := range idxs {
			results[idx].Status = status
			results[idx].ExternalID = item.ID
			results[idx].Success = status != domain.LogStatusFailed
			if status == domain.LogStatusFailed {
				results[idx].Error = firstNonEmpty(item.Message, "gateway rejected message")
			}
		}
		if status != domain.LogStatusFailed {
			anyAccepted = true
		}
	}

	for phone, idxs := range outboundIdx {
		if results[idxs[0]].Status != "" {
			continue
		}
		for _, idx := range idxs {
			results[idx].Status = domain.LogStatusFailed
			results[idx].Error = "no result for phone in gateway response"
		}
		c.logger.Warn("gateway response missing phone", zap.String("phone", phone))
	}

	summary := "bulk SMS dispatched"
	if !anyAccepted {
		summary = "gateway accepted no messages"
	}

	return BatchResult{
		OverallSuccess: anyAccepted,
		Message:        summary,
		PerPhone:       results,
	}
}

// Send dispatches a single message. It is the Sender implementation used by
// the ledger service for retries.
func (c *Client) Send(ctx context.Context, phone string, message string) PhoneResult {
	batch := c.SendBatch(ctx, []string{phone}, message)
	if len(batch.PerPhone) == 0 {
		return PhoneResult{
			Phone:  domain.NormalizePhone(phone),
			Status: domain.LogStatusFailed,
			Error:  batch.Message,
		}
	}
	return batch.PerPhone[0]
}

func (c *Client) post(ctx context.Context, phones []string, message string) (*bulkResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitChannel); err != nil {
			return nil, fmt.Errorf("gateway rate limit wait failed: %v", err)
		}
	}

	start := c.now()
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(headerSecretID, c.secretID).
		SetHeader(headerProjectID, c.projectID).
		SetBody(bulkRequest{Phones: phones, Message: message}).
		Post(c.endpoint)
	if c.metrics != nil {
		c.metrics.ObserveGatewayCallDuration(c.now().Sub(start))
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.IncGatewayCall("unreachable")
		}
		return nil, fmt.Errorf("gateway unreachable: %v", err)
	}
	if response == nil {
		if c.metrics != nil {
			c.metrics.IncGatewayCall("empty")
		}
		return nil, fmt.Errorf("gateway returned empty response")
	}

	var parsed bulkResponse
	if unmarshalErr := json.Unmarshal(response.Body(), &parsed); unmarshalErr != nil && len(response.Body()) > 0 {
		c.logger.Warn("gateway response is not valid JSON", zap.Error(unmarshalErr))
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		if c.metrics != nil {
			c.metrics.IncGatewayCall("http_error")
		}
		return nil, fmt.Errorf("%s", firstNonEmpty(parsed.Message, fmt.Sprintf("gateway returned status %d", statusCode)))
	}

	if len(parsed.Data) == 0 {
		if c.metrics != nil {
			c.metrics.IncGatewayCall("no_breakdown")
		}
		return nil, fmt.Errorf("%s", firstNonEmpty(parsed.Message, "gateway returned no per-phone results"))
	}

	if c.metrics != nil {
		c.metrics.IncGatewayCall("ok")
	}
	return &parsed, nil
}

func (c *Client) failAll(results []PhoneResult, outboundIdx map[string][]int, reason string) {
	for _, idxs := range outboundIdx {
		for _, idx := range idxs {
			results[idx].Status = domain.LogStatusFailed
			results[idx].Success = false
			results[idx].Error = reason
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
