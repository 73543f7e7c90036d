package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/mirado/sms-dispatch/internal/service"
	"github.com/mirado/sms-dispatch/internal/transport"
	"go.uber.org/zap"
)

const (
	testSecretID  = "secret-1"
	testProjectID = "project-1"
)

type stubCorrelator struct {
	handleFn func(ctx context.Context, source string, event service.StatusEvent) error
}

func (s *stubCorrelator) HandleStatusEvent(ctx context.Context, source string, event service.StatusEvent) error {
	if s.handleFn != nil {
		return s.handleFn(ctx, source, event)
	}
	return nil
}

func newWebhookTestApp(t *testing.T, correlator StatusEventHandler) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterWebhookRoutes(app, correlator, testSecretID, testProjectID); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}

	return app
}

func performWebhookRequest(t *testing.T, app *fiber.App, body string, withCredentials bool) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/sms-webhook/status-update", bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if withCredentials {
		req.Header.Set("x-secret-id", testSecretID)
		req.Header.Set("x-project-id", testProjectID)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp, buf.Bytes()
}

func TestWebhookIntegration_StatusUpdate(t *testing.T) {
	t.Parallel()

	var received *service.StatusEvent
	correlator := &stubCorrelator{
		handleFn: func(_ context.Context, source string, event service.StatusEvent) error {
			if source != "webhook" {
				t.Fatalf("source = %q, want webhook", source)
			}
			received = &event
			return nil
		},
	}

	app := newWebhookTestApp(t, correlator)

	body := `{"messageId":"ext-7","status":"delivered","phone":"0321234567","content":"reunion demain","smsLogId":"l-1"}`
	resp, respBody := performWebhookRequest(t, app, body, true)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["received"] != true {
		t.Fatalf("body = %v, want received:true", parsed)
	}

	if received == nil {
		t.Fatal("correlator was not invoked")
	}
	if received.SmsLogID != "l-1" || received.MessageID != "ext-7" || received.Status != "delivered" {
		t.Fatalf("event = %+v", received)
	}
}

func TestWebhookIntegration_RejectsBadCredentials(t *testing.T) {
	t.Parallel()

	correlator := &stubCorrelator{
		handleFn: func(context.Context, string, service.StatusEvent) error {
			t.Fatal("correlator must not run for unauthenticated requests")
			return nil
		},
	}

	app := newWebhookTestApp(t, correlator)

	body := `{"messageId":"ext-7","status":"delivered","phone":"0321234567"}`
	resp, _ := performWebhookRequest(t, app, body, false)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without credential headers", resp.StatusCode)
	}
}

func TestWebhookIntegration_RejectsMalformedBody(t *testing.T) {
	t.Parallel()

	app := newWebhookTestApp(t, &stubCorrelator{})

	resp, _ := performWebhookRequest(t, app, `{not json`, true)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}

	resp, _ = performWebhookRequest(t, app, `{"messageId":"ext-7","phone":"0321234567"}`, true)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing status", resp.StatusCode)
	}
}

func TestWebhookIntegration_UnresolvedEventStillAccepted(t *testing.T) {
	t.Parallel()

	// The correlator absorbs events it cannot match; the gateway must not
	// see an error and keep retrying.
	correlator := &stubCorrelator{
		handleFn: func(context.Context, string, service.StatusEvent) error {
			return nil
		},
	}

	app := newWebhookTestApp(t, correlator)

	body := `{"messageId":"never-seen","status":"delivered","phone":"0340000000"}`
	resp, _ := performWebhookRequest(t, app, body, true)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for unresolved event", resp.StatusCode)
	}
}
