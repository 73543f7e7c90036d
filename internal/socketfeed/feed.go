package socketfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mirado/sms-dispatch/internal/service"
	"go.uber.org/zap"
)

const (
	eventStatusBroadcast = "sms-status-broadcast"

	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	readTimeout      = 90 * time.Second
	handshakeTimeout = 15 * time.Second
)

// frame is the envelope the gateway pushes over its socket.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type statusBroadcast struct {
	UpdatedSms struct {
		ID        string     `json:"_id"`
		Phone     string     `json:"phone"`
		Message   string     `json:"message"`
		Status    string     `json:"status"`
		IsDraft   bool       `json:"isDraft"`
		UpdatedAt *time.Time `json:"updatedAt"`
	} `json:"updatedSms"`
}

// StatusEventHandler consumes the status events decoded from the stream.
type StatusEventHandler interface {
	HandleStatusEvent(ctx context.Context, source string, event service.StatusEvent) error
}

// Feed maintains a websocket subscription to the gateway's status stream
// and forwards each broadcast to the correlator. The webhook remains the
// authoritative path; the feed only makes confirmations faster.
type Feed struct {
	url        string
	secretID   string
	projectID  string
	correlator StatusEventHandler
	logger     *zap.Logger
	dial       func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)
}

func NewFeed(url, secretID, projectID string, correlator StatusEventHandler, logger *zap.Logger) (*Feed, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("socket url is required")
	}
	if correlator == nil {
		return nil, fmt.Errorf("correlator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	dial := func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
		conn, _, err := dialer.DialContext(ctx, url, header)
		return conn, err
	}

	return &Feed{
		url:        url,
		secretID:   secretID,
		projectID:  projectID,
		correlator: correlator,
		logger:     logger,
		dial:       dial,
	}, nil
}

// Start connects and consumes broadcasts until context cancellation,
// reconnecting with capped exponential backoff on any failure.
func (f *Feed) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	wait := reconnectBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := f.connect(ctx)
		if err != nil {
			f.logger.Warn("socket feed connect failed",
				zap.Duration("retryIn", wait),
				zap.Error(err),
			)
		} else {
			wait = reconnectBackoff
			err = f.consume(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("socket feed disconnected",
				zap.Duration("retryIn", wait),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func (f *Feed) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("x-secret-id", f.secretID)
	header.Set("x-project-id", f.projectID)

	conn, err := f.dial(ctx, f.url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway socket: %w", err)
	}

	f.logger.Info("socket feed connected", zap.String("url", f.url))
	return conn, nil
}

func (f *Feed) consume(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		f.handleFrame(ctx, payload)
	}
}

func (f *Feed) handleFrame(ctx context.Context, payload []byte) {
	var fr frame
	if err := json.Unmarshal(payload, &fr); err != nil {
		f.logger.Warn("socket feed received malformed frame", zap.Error(err))
		return
	}
	if fr.Event != eventStatusBroadcast {
		return
	}

	var sb statusBroadcast
	if err := json.Unmarshal(fr.Data, &sb); err != nil {
		f.logger.Warn("socket feed received malformed status broadcast", zap.Error(err))
		return
	}

	event := service.StatusEvent{
		MessageID: sb.UpdatedSms.ID,
		Status:    sb.UpdatedSms.Status,
		Phone:     sb.UpdatedSms.Phone,
		Content:   sb.UpdatedSms.Message,
		UpdatedAt: sb.UpdatedSms.UpdatedAt,
	}
	if err := f.correlator.HandleStatusEvent(ctx, "socket", event); err != nil {
		f.logger.Error("socket feed failed to handle status event",
			zap.String("messageId", event.MessageID),
			zap.Error(err),
		)
	}
}
