package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mirado/sms-dispatch/internal/broadcast"
	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/gateway"
	"github.com/mirado/sms-dispatch/internal/repository"
)

type dispatcherFixture struct {
	notifications *fakeNotificationRepo
	logs          *memorySmsLogRepo
	directory     *fakeDirectoryRepo
	sender        *fakeSender
	recorder      *recordingBroadcaster
	dispatcher    *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	f := &dispatcherFixture{
		notifications: &fakeNotificationRepo{},
		logs:          newMemorySmsLogRepo(),
		directory:     &fakeDirectoryRepo{},
		sender:        &fakeSender{},
		recorder:      &recordingBroadcaster{},
	}

	resolver, err := NewResolver(f.directory, nil)
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	f.dispatcher, err = NewDispatcher(
		f.notifications,
		f.logs,
		resolver,
		f.sender,
		f.recorder,
		nil,
		time.Minute,
		2,
		0,
		nil,
	)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return f
}

func draftNotification(id, message string) *domain.Notification {
	return &domain.Notification{
		ID:      id,
		Title:   "Reunion des parents",
		Message: message,
		Type:    domain.NotificationTypeReunion,
		Target:  domain.TargetSelector{Kind: domain.TargetClass, Classes: []string{"CM2 A"}},
		Status:  domain.NotificationStatusSending,
	}
}

func TestDispatchSendsToResolvedRecipients(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	notification := draftNotification("n-1", "reunion demain a 8h")
	f.notifications.claimForSendingFn = func(_ context.Context, id string) (*domain.Notification, error) {
		if id != "n-1" {
			return nil, domain.ErrNotFound
		}
		return notification, nil
	}
	f.directory.findByClassesFn = func(_ context.Context, _ []string) ([]domain.Student, error) {
		return []domain.Student{
			directoryStudent("s1", "0321234567"),
			directoryStudent("s2", "0331234568"),
		}, nil
	}

	var (
		mu         sync.Mutex
		batchCalls int
		finalized  *repository.DispatchCounters
		deleted    bool
	)
	f.sender.sendBatchFn = func(_ context.Context, phones []string, message string) gateway.BatchResult {
		mu.Lock()
		batchCalls++
		mu.Unlock()

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
	f.notifications.finalizeSentFn = func(_ context.Context, _ string, counters repository.DispatchCounters, _ time.Time) error {
		finalized = &counters
		return nil
	}
	f.notifications.deleteFn = func(_ context.Context, _ string) error {
		if finalized == nil {
			t.Error("Delete called before FinalizeSent")
		}
		deleted = true
		return nil
	}

	summary, err := f.dispatcher.Dispatch(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if !summary.Success {
		t.Fatalf("summary = %+v, want success", summary)
	}
	if summary.Message != "2/2 messages accepted" {
		t.Fatalf("message = %q", summary.Message)
	}
	if summary.Stats.Total != 2 || summary.Stats.Sent != 2 || summary.Stats.Failed != 0 {
		t.Fatalf("stats = %+v", summary.Stats)
	}
	if len(summary.Stats.LogIDs) != 2 {
		t.Fatalf("log ids = %v, want 2", summary.Stats.LogIDs)
	}

	// Identical rendered message means a single bulk gateway call.
	if batchCalls != 1 {
		t.Fatalf("batch calls = %d, want 1", batchCalls)
	}
	if finalized == nil || finalized.TotalRecipients != 2 || finalized.SuccessCount != 2 {
		t.Fatalf("finalized counters = %+v", finalized)
	}
	if !deleted {
		t.Fatal("notification intent was not retired")
	}
	if f.recorder.count(broadcast.ChannelBulkStatusUpdate) != 2 {
		t.Fatalf("bulk broadcasts = %d, want 2", f.recorder.count(broadcast.ChannelBulkStatusUpdate))
	}

	for _, id := range summary.Stats.LogIDs {
		entry, err := f.logs.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("ledger entry %s missing: %v", id, err)
		}
		if entry.Status != domain.LogStatusSent {
			t.Fatalf("entry %s status = %s, want SENT", id, entry.Status)
		}
		if entry.NotificationID == nil || *entry.NotificationID != "n-1" {
			t.Fatalf("entry %s not linked to notification", id)
		}
	}
}

func TestDispatchRendersMessagePerRecipient(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	notification := draftNotification("n-1", "Cher {parentName}, reunion pour {studentFirstName}")
	f.notifications.claimForSendingFn = func(_ context.Context, _ string) (*domain.Notification, error) {
		return notification, nil
	}
	student := directoryStudent("s1", "0321234567")
	f.directory.findByClassesFn = func(_ context.Context, _ []string) ([]domain.Student, error) {
		return []domain.Student{student}, nil
	}

	summary, err := f.dispatcher.Dispatch(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	entry, err := f.logs.GetByID(context.Background(), summary.Stats.LogIDs[0])
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	want := "Cher Rasoa, reunion pour Hery"
	if entry.Message != want {
		t.Fatalf("rendered message = %q, want %q", entry.Message, want)
	}
}

func TestDispatchCountsMixedResults(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	notification := draftNotification("n-1", "reunion demain a 8h")
	f.notifications.claimForSendingFn = func(_ context.Context, _ string) (*domain.Notification, error) {
		return notification, nil
	}
	f.directory.findByClassesFn = func(_ context.Context, _ []string) ([]domain.Student, error) {
		return []domain.Student{
			directoryStudent("s1", "0321234567"),
			directoryStudent("s2", "0331234568"),
		}, nil
	}
	f.sender.sendBatchFn = func(_ context.Context, phones []string, _ string) gateway.BatchResult {
		results := []gateway.PhoneResult{
			{Phone: "0321234567", Success: true, Status: domain.LogStatusSent},
			{Phone: "0331234568", Success: false, Status: domain.LogStatusFailed, Error: "number unreachable"},
		}
		return gateway.BatchResult{OverallSuccess: false, PerPhone: results}
	}

	summary, err := f.dispatcher.Dispatch(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if summary.Success {
		t.Fatal("summary reported success with a failed message")
	}
	stats := summary.Stats
	if stats.Sent != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want one sent and one failed", stats)
	}
	if stats.Sent+stats.Failed != stats.Total {
		t.Fatalf("stats = %+v, sent+failed must equal total", stats)
	}

	failed, err := f.logs.FindRecentPendingByPhone(context.Background(), "0331234568", time.Hour)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed entry still pending: %v", failed)
	}
}

func TestDispatchCountsUnreachableRecipientsAsFailures(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	notification := draftNotification("n-1", "reunion demain a 8h")
	notification.Target = domain.TargetSelector{Kind: domain.TargetAll}
	f.notifications.claimForSendingFn = func(_ context.Context, _ string) (*domain.Notification, error) {
		return notification, nil
	}
	f.directory.findActiveFn = func(_ context.Context) ([]domain.Student, error) {
		return []domain.Student{
			directoryStudent("s1", "0321234567"),
			directoryStudent("s2", "0331234568"),
			directoryStudent("s3", "0341234569"),
			directoryStudent("s4", ""), // no parent phone
		}, nil
	}

	var finalized *repository.DispatchCounters
	f.notifications.finalizeSentFn = func(_ context.Context, _ string, counters repository.DispatchCounters, _ time.Time) error {
		finalized = &counters
		return nil
	}

	summary, err := f.dispatcher.Dispatch(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	stats := summary.Stats
	if stats.Total != 4 {
		t.Fatalf("total = %d, want 4 (unreachable student included)", stats.Total)
	}
	if stats.Sent != 3 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 3 sent and the unreachable one failed", stats)
	}
	if summary.Success {
		t.Fatal("summary reported success despite an unreachable recipient")
	}
	if summary.Message != "3/4 messages accepted" {
		t.Fatalf("message = %q", summary.Message)
	}
	if finalized == nil || finalized.TotalRecipients != 4 || finalized.SuccessCount != 3 || finalized.FailureCount != 1 {
		t.Fatalf("finalized counters = %+v, want {4 3 1}", finalized)
	}
	// No ledger entry is written for the unreachable student.
	if len(stats.LogIDs) != 3 {
		t.Fatalf("log ids = %d, want 3", len(stats.LogIDs))
	}
}

func TestDispatchSharedParentPhoneUpdatesEverySibling(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	notification := draftNotification("n-1", "reunion demain a 8h")
	f.notifications.claimForSendingFn = func(_ context.Context, _ string) (*domain.Notification, error) {
		return notification, nil
	}
	// Two siblings share one parent, hence one phone in a single group.
	f.directory.findByClassesFn = func(_ context.Context, _ []string) ([]domain.Student, error) {
		return []domain.Student{
			directoryStudent("s1", "0321234567"),
			directoryStudent("s2", "0321234567"),
		}, nil
	}

	var (
		mu         sync.Mutex
		sentPhones []string
	)
	f.sender.sendBatchFn = func(_ context.Context, phones []string, _ string) gateway.BatchResult {
		mu.Lock()
		sentPhones = append(sentPhones, phones...)
		mu.Unlock()

		results := make([]gateway.PhoneResult, 0, len(phones))
		for _, phone := range phones {
			results = append(results, gateway.PhoneResult{
				Phone:      domain.NormalizePhone(phone),
				Success:    true,
				Status:     domain.LogStatusSent,
				ExternalID: "ext-shared",
			})
		}
		return gateway.BatchResult{OverallSuccess: true, PerPhone: results}
	}

	summary, err := f.dispatcher.Dispatch(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(sentPhones) != 1 {
		t.Fatalf("outbound phones = %v, want the shared phone once", sentPhones)
	}
	stats := summary.Stats
	if stats.Total != 2 || stats.Sent != 2 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want both siblings sent", stats)
	}
	for _, id := range stats.LogIDs {
		entry, err := f.logs.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("ledger entry %s missing: %v", id, err)
		}
		if entry.Status != domain.LogStatusSent {
			t.Fatalf("entry %s status = %s, want SENT (no sibling stranded in PENDING)", id, entry.Status)
		}
	}
}

func TestDispatchConflictWhenAlreadyClaimed(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	f.notifications.claimForSendingFn = func(_ context.Context, _ string) (*domain.Notification, error) {
		return nil, nil // claimed by another worker
	}

	_, err := f.dispatcher.Dispatch(context.Background(), "n-1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Dispatch() error = %v, want ErrConflict", err)
	}
}

func TestDispatchRetiresIntentWithNoRecipients(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	notification := draftNotification("n-1", "reunion demain a 8h")
	f.notifications.claimForSendingFn = func(_ context.Context, _ string) (*domain.Notification, error) {
		return notification, nil
	}
	f.directory.findByClassesFn = func(_ context.Context, _ []string) ([]domain.Student, error) {
		return nil, nil
	}

	var deleted bool
	f.notifications.deleteFn = func(_ context.Context, _ string) error {
		deleted = true
		return nil
	}

	summary, err := f.dispatcher.Dispatch(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Message != "no recipients resolved" {
		t.Fatalf("message = %q", summary.Message)
	}
	if !deleted {
		t.Fatal("empty dispatch must still retire the intent")
	}
}

func TestDispatchMarksFailedOnResolveError(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	notification := draftNotification("n-1", "reunion demain a 8h")
	f.notifications.claimForSendingFn = func(_ context.Context, _ string) (*domain.Notification, error) {
		return notification, nil
	}
	f.directory.findByClassesFn = func(_ context.Context, _ []string) ([]domain.Student, error) {
		return nil, errors.New("directory unavailable")
	}

	var markedFailed bool
	f.notifications.markFailedFn = func(_ context.Context, id string) error {
		markedFailed = id == "n-1"
		return nil
	}

	_, err := f.dispatcher.Dispatch(context.Background(), "n-1")
	if err == nil {
		t.Fatal("Dispatch() succeeded despite resolve error")
	}
	if !markedFailed {
		t.Fatal("notification was not marked failed")
	}
}

func TestSendImmediateCreatesAndDispatches(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	f.directory.findByClassesFn = func(_ context.Context, _ []string) ([]domain.Student, error) {
		return []domain.Student{directoryStudent("s1", "0321234567")}, nil
	}

	var created *domain.Notification
	f.notifications.createFn = func(_ context.Context, n *domain.Notification) error {
		created = n
		return nil
	}

	future := time.Now().Add(time.Hour)
	payload := &domain.Notification{
		Title:       "Reunion des parents",
		Message:     "reunion demain a 8h",
		Type:        domain.NotificationTypeReunion,
		Target:      domain.TargetSelector{Kind: domain.TargetClass, Classes: []string{"CM2 A"}},
		ScheduledAt: &future,
	}

	summary, err := f.dispatcher.SendImmediate(context.Background(), payload)
	if err != nil {
		t.Fatalf("SendImmediate() error = %v", err)
	}

	if created == nil {
		t.Fatal("notification intent was not persisted")
	}
	if created.Status != domain.NotificationStatusSending {
		t.Fatalf("status = %s, want SENDING", created.Status)
	}
	if created.ScheduledAt != nil {
		t.Fatal("immediate send must drop the schedule")
	}
	if created.ID == "" {
		t.Fatal("notification id was not assigned")
	}
	if !summary.Success || summary.Stats.Sent != 1 {
		t.Fatalf("summary = %+v, want one sent", summary)
	}
}

func TestDispatcherScanDispatchesDueDrafts(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	notification := draftNotification("n-due", "reunion demain a 8h")
	f.notifications.getDueDraftsFn = func(_ context.Context, _ time.Time, _ int) ([]domain.Notification, error) {
		return []domain.Notification{*notification}, nil
	}

	var claimed bool
	f.notifications.claimForSendingFn = func(_ context.Context, id string) (*domain.Notification, error) {
		claimed = id == "n-due"
		return notification, nil
	}
	f.directory.findByClassesFn = func(_ context.Context, _ []string) ([]domain.Student, error) {
		return []domain.Student{directoryStudent("s1", "0321234567")}, nil
	}

	if err := f.dispatcher.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}
	if !claimed {
		t.Fatal("due draft was not claimed for sending")
	}
}
