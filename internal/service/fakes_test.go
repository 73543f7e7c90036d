package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mirado/sms-dispatch/internal/broadcast"
	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/gateway"
	"github.com/mirado/sms-dispatch/internal/repository"
)

type fakeSmsLogRepo struct {
	createFn                   func(ctx context.Context, l *domain.SmsLog) error
	createBatchFn              func(ctx context.Context, logs []*domain.SmsLog) error
	getByIDFn                  func(ctx context.Context, id string) (*domain.SmsLog, error)
	findByExternalIDFn         func(ctx context.Context, externalID string) (*domain.SmsLog, error)
	findRecentPendingByPhoneFn func(ctx context.Context, phone string, window time.Duration) (*domain.SmsLog, error)
	transitionFn               func(ctx context.Context, id string, to domain.LogStatus, detail repository.TransitionDetail) (*domain.SmsLog, error)
	setExternalIDFn            func(ctx context.Context, id string, externalID string) error
	retryFn                    func(ctx context.Context, id string, maxRetries int) (*domain.SmsLog, error)
	cancelFn                   func(ctx context.Context, id string) error
	cancelAllPendingFn         func(ctx context.Context) (int64, error)
	ignoreFn                   func(ctx context.Context, id string) error
	ignoreAllFailedFn          func(ctx context.Context) (int64, error)
	listFailedFn               func(ctx context.Context) ([]domain.SmsLog, error)
	listFn                     func(ctx context.Context, params repository.ListParams) ([]domain.SmsLog, int64, error)
	statusSummaryFn            func(ctx context.Context, notificationID *string) ([]repository.StatusSummary, error)
}

func (f *fakeSmsLogRepo) Create(ctx context.Context, l *domain.SmsLog) error {
	if f.createFn != nil {
		return f.createFn(ctx, l)
	}
	return nil
}

func (f *fakeSmsLogRepo) CreateBatch(ctx context.Context, logs []*domain.SmsLog) error {
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, logs)
	}
	return nil
}

func (f *fakeSmsLogRepo) GetByID(ctx context.Context, id string) (*domain.SmsLog, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSmsLogRepo) FindByExternalID(ctx context.Context, externalID string) (*domain.SmsLog, error) {
	if f.findByExternalIDFn != nil {
		return f.findByExternalIDFn(ctx, externalID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSmsLogRepo) FindRecentPendingByPhone(ctx context.Context, phone string, window time.Duration) (*domain.SmsLog, error) {
	if f.findRecentPendingByPhoneFn != nil {
		return f.findRecentPendingByPhoneFn(ctx, phone, window)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSmsLogRepo) Transition(ctx context.Context, id string, to domain.LogStatus, detail repository.TransitionDetail) (*domain.SmsLog, error) {
	if f.transitionFn != nil {
		return f.transitionFn(ctx, id, to, detail)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeSmsLogRepo) SetExternalID(ctx context.Context, id string, externalID string) error {
	if f.setExternalIDFn != nil {
		return f.setExternalIDFn(ctx, id, externalID)
	}
	return nil
}

func (f *fakeSmsLogRepo) Retry(ctx context.Context, id string, maxRetries int) (*domain.SmsLog, error) {
	if f.retryFn != nil {
		return f.retryFn(ctx, id, maxRetries)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeSmsLogRepo) Cancel(ctx context.Context, id string) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id)
	}
	return nil
}

func (f *fakeSmsLogRepo) CancelAllPending(ctx context.Context) (int64, error) {
	if f.cancelAllPendingFn != nil {
		return f.cancelAllPendingFn(ctx)
	}
	return 0, nil
}

func (f *fakeSmsLogRepo) Ignore(ctx context.Context, id string) error {
	if f.ignoreFn != nil {
		return f.ignoreFn(ctx, id)
	}
	return nil
}

func (f *fakeSmsLogRepo) IgnoreAllFailed(ctx context.Context) (int64, error) {
	if f.ignoreAllFailedFn != nil {
		return f.ignoreAllFailedFn(ctx)
	}
	return 0, nil
}

func (f *fakeSmsLogRepo) ListFailed(ctx context.Context) ([]domain.SmsLog, error) {
	if f.listFailedFn != nil {
		return f.listFailedFn(ctx)
	}
	return nil, nil
}

func (f *fakeSmsLogRepo) List(ctx context.Context, params repository.ListParams) ([]domain.SmsLog, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeSmsLogRepo) GetStatusSummary(ctx context.Context, notificationID *string) ([]repository.StatusSummary, error) {
	if f.statusSummaryFn != nil {
		return f.statusSummaryFn(ctx, notificationID)
	}
	return nil, nil
}

type fakeNotificationRepo struct {
	createFn          func(ctx context.Context, n *domain.Notification) error
	getByIDFn         func(ctx context.Context, id string) (*domain.Notification, error)
	listFn            func(ctx context.Context) ([]domain.Notification, error)
	getDueDraftsFn    func(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	claimForSendingFn func(ctx context.Context, id string) (*domain.Notification, error)
	finalizeSentFn    func(ctx context.Context, id string, counters repository.DispatchCounters, sentAt time.Time) error
	markFailedFn      func(ctx context.Context, id string) error
	cancelFn          func(ctx context.Context, id string) error
	deleteFn          func(ctx context.Context, id string) error
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) List(ctx context.Context) ([]domain.Notification, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) GetDueDrafts(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	if f.getDueDraftsFn != nil {
		return f.getDueDraftsFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) ClaimForSending(ctx context.Context, id string) (*domain.Notification, error) {
	if f.claimForSendingFn != nil {
		return f.claimForSendingFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) FinalizeSent(ctx context.Context, id string, counters repository.DispatchCounters, sentAt time.Time) error {
	if f.finalizeSentFn != nil {
		return f.finalizeSentFn(ctx, id, counters, sentAt)
	}
	return nil
}

func (f *fakeNotificationRepo) MarkFailed(ctx context.Context, id string) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id)
	}
	return nil
}

func (f *fakeNotificationRepo) Cancel(ctx context.Context, id string) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id)
	}
	return nil
}

func (f *fakeNotificationRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

type fakeDirectoryRepo struct {
	findActiveFn    func(ctx context.Context) ([]domain.Student, error)
	findByClassesFn func(ctx context.Context, classes []string) ([]domain.Student, error)
	findByLevelsFn  func(ctx context.Context, levels []string) ([]domain.Student, error)
	findByIDsFn     func(ctx context.Context, ids []string) ([]domain.Student, error)
}

func (f *fakeDirectoryRepo) FindActive(ctx context.Context) ([]domain.Student, error) {
	if f.findActiveFn != nil {
		return f.findActiveFn(ctx)
	}
	return nil, nil
}

func (f *fakeDirectoryRepo) FindByClasses(ctx context.Context, classes []string) ([]domain.Student, error) {
	if f.findByClassesFn != nil {
		return f.findByClassesFn(ctx, classes)
	}
	return nil, nil
}

func (f *fakeDirectoryRepo) FindByLevels(ctx context.Context, levels []string) ([]domain.Student, error) {
	if f.findByLevelsFn != nil {
		return f.findByLevelsFn(ctx, levels)
	}
	return nil, nil
}

func (f *fakeDirectoryRepo) FindByIDs(ctx context.Context, ids []string) ([]domain.Student, error) {
	if f.findByIDsFn != nil {
		return f.findByIDsFn(ctx, ids)
	}
	return nil, nil
}

type fakeSender struct {
	sendFn      func(ctx context.Context, phone, message string) gateway.PhoneResult
	sendBatchFn func(ctx context.Context, phones []string, message string) gateway.BatchResult
}

func (f *fakeSender) Send(ctx context.Context, phone, message string) gateway.PhoneResult {
	if f.sendFn != nil {
		return f.sendFn(ctx, phone, message)
	}
	return gateway.PhoneResult{Phone: domain.NormalizePhone(phone), Success: true, Status: domain.LogStatusSent}
}

func (f *fakeSender) SendBatch(ctx context.Context, phones []string, message string) gateway.BatchResult {
	if f.sendBatchFn != nil {
		return f.sendBatchFn(ctx, phones, message)
	}

	results := make([]gateway.PhoneResult, 0, len(phones))
	for _, phone := range phones {
		results = append(results, gateway.PhoneResult{
			Phone:   domain.NormalizePhone(phone),
			Success: true,
			Status:  domain.LogStatusSent,
		})
	}
	return gateway.BatchResult{OverallSuccess: true, PerPhone: results}
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	updates []broadcast.StatusUpdate
	byChan  map[string]int
}

func (b *recordingBroadcaster) Publish(_ context.Context, channel string, update broadcast.StatusUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byChan == nil {
		b.byChan = make(map[string]int)
	}
	b.updates = append(b.updates, update)
	b.byChan[channel]++
	return nil
}

func (b *recordingBroadcaster) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byChan[channel]
}

// memorySmsLogRepo is a minimal in-memory ledger honoring the transition
// guards, for tests that exercise full flows.
type memorySmsLogRepo struct {
	fakeSmsLogRepo
	mu      sync.Mutex
	entries map[string]*domain.SmsLog
}

func newMemorySmsLogRepo() *memorySmsLogRepo {
	return &memorySmsLogRepo{entries: make(map[string]*domain.SmsLog)}
}

func (m *memorySmsLogRepo) put(l *domain.SmsLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.entries[l.ID] = &cp
}

func (m *memorySmsLogRepo) CreateBatch(_ context.Context, logs []*domain.SmsLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range logs {
		cp := *l
		m.entries[l.ID] = &cp
	}
	return nil
}

func (m *memorySmsLogRepo) GetByID(_ context.Context, id string) (*domain.SmsLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *memorySmsLogRepo) FindByExternalID(_ context.Context, externalID string) (*domain.SmsLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries {
		if entry.ExternalID != nil && *entry.ExternalID == externalID {
			cp := *entry
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memorySmsLogRepo) FindRecentPendingByPhone(_ context.Context, phone string, _ time.Duration) (*domain.SmsLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *domain.SmsLog
	for _, entry := range m.entries {
		if entry.PhoneNumber != phone || entry.Status != domain.LogStatusPending {
			continue
		}
		if newest == nil || entry.CreatedAt.After(newest.CreatedAt) {
			newest = entry
		}
	}
	if newest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *memorySmsLogRepo) SetExternalID(_ context.Context, id string, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	entry.ExternalID = &externalID
	return nil
}

func (m *memorySmsLogRepo) Transition(_ context.Context, id string, to domain.LogStatus, detail repository.TransitionDetail) (*domain.SmsLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !domain.CanTransition(entry.Status, to) {
		return nil, domain.ErrStaleTransition
	}

	entry.Status = to
	if detail.ExternalID != nil {
		entry.ExternalID = detail.ExternalID
	}
	if detail.ErrorMessage != nil {
		entry.ErrorMessage = detail.ErrorMessage
	}
	at := detail.At
	if at.IsZero() {
		at = time.Now()
	}
	switch to {
	case domain.LogStatusSent:
		entry.SentAt = &at
	case domain.LogStatusDelivered:
		entry.DeliveredAt = &at
	}

	cp := *entry
	return &cp, nil
}

func (m *memorySmsLogRepo) Retry(_ context.Context, id string, maxRetries int) (*domain.SmsLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if entry.Status != domain.LogStatusFailed {
		return nil, domain.ErrRetryNotAllowed
	}
	if maxRetries > 0 && entry.RetryCount >= maxRetries {
		return nil, domain.ErrRetryNotAllowed
	}

	entry.Status = domain.LogStatusPending
	entry.RetryCount++
	entry.ErrorMessage = nil

	cp := *entry
	return &cp, nil
}

func (m *memorySmsLogRepo) ListFailed(_ context.Context) ([]domain.SmsLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SmsLog
	for _, entry := range m.entries {
		if entry.Status == domain.LogStatusFailed && !entry.Ignored {
			out = append(out, *entry)
		}
	}
	return out, nil
}
