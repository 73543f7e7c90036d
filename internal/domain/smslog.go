package domain

import (
	"fmt"
	"strings"
	"time"
)

// LogStatus represents the delivery state of a single SMS ledger entry.
type LogStatus string

const (
	LogStatusPending   LogStatus = "PENDING"
	LogStatusSent      LogStatus = "SENT"
	LogStatusDelivered LogStatus = "DELIVERED"
	LogStatusFailed    LogStatus = "FAILED"
)

func (s LogStatus) String() string { return string(s) }

func (s LogStatus) IsValid() bool {
	switch s {
	case LogStatusPending, LogStatusSent, LogStatusDelivered, LogStatusFailed:
		return true
	}
	return false
}

func ParseLogStatusFromString(s string) (LogStatus, error) {
	st := LogStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid log status %q", ErrValidation, s)
	}
	return st, nil
}

// logTransitions is the delivery state graph. Retry is not a transition:
// it re-enters PENDING through Retry on the repository, which also bumps
// the retry counter. PENDING→DELIVERED covers confirmations that arrive
// after the intermediate sent report was missed.
var logTransitions = map[LogStatus][]LogStatus{
	LogStatusPending: {LogStatusSent, LogStatusFailed, LogStatusDelivered},
	LogStatusSent:    {LogStatusDelivered, LogStatusFailed},
}

// CanTransition reports whether a ledger entry may move from one status to
// another. Same-status requests are stale, not errors.
func CanTransition(from, to LogStatus) bool {
	for _, next := range logTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns the statuses from which a target status is
// reachable. The repository uses it to build guarded updates that enforce
// the graph atomically.
func TransitionSources(to LogStatus) []LogStatus {
	sources := make([]LogStatus, 0, 2)
	for from, nexts := range logTransitions {
		for _, next := range nexts {
			if next == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// IsTerminal reports whether no further transition is accepted from the
// status except an explicit retry from FAILED.
func (s LogStatus) IsTerminal() bool {
	return len(logTransitions[s]) == 0
}

// SmsLog is one durable record of a single SMS send attempt to one
// recipient. It outlives the notification intent that produced it.
type SmsLog struct {
	ID                string
	NotificationID    *string
	NotificationTitle string
	NotificationType  string
	ParentID          string
	StudentID         *string
	PhoneNumber       string
	Message           string
	Status            LogStatus
	ExternalID        *string
	ErrorMessage      *string
	RetryCount        int
	Ignored           bool
	SentAt            *time.Time
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (l *SmsLog) Validate() error {
	if strings.TrimSpace(l.ParentID) == "" {
		return fmt.Errorf("%w: parent id is required", ErrValidation)
	}
	if strings.TrimSpace(l.PhoneNumber) == "" {
		return fmt.Errorf("%w: phone number is required", ErrValidation)
	}
	if strings.TrimSpace(l.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !l.Status.IsValid() {
		return fmt.Errorf("%w: invalid log status %q", ErrValidation, l.Status)
	}
	return nil
}
