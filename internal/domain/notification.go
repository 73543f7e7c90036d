package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationStatus represents the lifecycle state of a notification intent.
type NotificationStatus string

const (
	NotificationStatusDraft     NotificationStatus = "DRAFT"
	NotificationStatusSending   NotificationStatus = "SENDING"
	NotificationStatusSent      NotificationStatus = "SENT"
	NotificationStatusFailed    NotificationStatus = "FAILED"
	NotificationStatusCancelled NotificationStatus = "CANCELLED"
)

func (s NotificationStatus) String() string { return string(s) }

func (s NotificationStatus) IsValid() bool {
	switch s {
	case NotificationStatusDraft, NotificationStatusSending, NotificationStatusSent,
		NotificationStatusFailed, NotificationStatusCancelled:
		return true
	}
	return false
}

// NotificationType classifies what a notification is about.
type NotificationType string

const (
	NotificationTypeEcolage NotificationType = "ECOLAGE"
	NotificationTypeReunion NotificationType = "REUNION"
	NotificationTypeMaladie NotificationType = "MALADIE"
	NotificationTypeCustom  NotificationType = "CUSTOM"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationTypeEcolage, NotificationTypeReunion, NotificationTypeMaladie, NotificationTypeCustom:
		return true
	}
	return false
}

func ParseNotificationTypeFromString(s string) (NotificationType, error) {
	t := NotificationType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return t, nil
}

// TargetKind is the discriminator of a TargetSelector.
type TargetKind string

const (
	TargetClass      TargetKind = "CLASSE"
	TargetLevel      TargetKind = "NIVEAU"
	TargetIndividual TargetKind = "INDIVIDUEL"
	TargetAll        TargetKind = "TOUS"
)

func (k TargetKind) String() string { return string(k) }

func (k TargetKind) IsValid() bool {
	switch k {
	case TargetClass, TargetLevel, TargetIndividual, TargetAll:
		return true
	}
	return false
}

func ParseTargetKindFromString(s string) (TargetKind, error) {
	k := TargetKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid target kind %q", ErrValidation, s)
	}
	return k, nil
}

// TargetSelector describes who a notification is for. The payload fields
// are interpreted according to Kind: class names for CLASSE, level names
// for NIVEAU, student ids for INDIVIDUEL, nothing for TOUS.
type TargetSelector struct {
	Kind       TargetKind
	Classes    []string
	Levels     []string
	StudentIDs []string
}

func (t TargetSelector) Validate() error {
	if !t.Kind.IsValid() {
		return fmt.Errorf("%w: invalid target kind %q", ErrValidation, t.Kind)
	}
	switch t.Kind {
	case TargetClass:
		if len(t.Classes) == 0 {
			return fmt.Errorf("%w: target classes are required for %s", ErrValidation, TargetClass)
		}
	case TargetLevel:
		if len(t.Levels) == 0 {
			return fmt.Errorf("%w: target levels are required for %s", ErrValidation, TargetLevel)
		}
	case TargetIndividual:
		if len(t.StudentIDs) == 0 {
			return fmt.Errorf("%w: target students are required for %s", ErrValidation, TargetIndividual)
		}
	}
	return nil
}

// Notification is the ephemeral scheduling record: what to send and to whom.
// It is consumed and deleted once dispatched; the sms log is the permanent
// record.
type Notification struct {
	ID              string
	Type            NotificationType
	Title           string
	Message         string
	Target          TargetSelector
	ScheduledAt     *time.Time
	SentAt          *time.Time
	Status          NotificationStatus
	TotalRecipients int
	SuccessCount    int
	FailureCount    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, n.Type)
	}
	return n.Target.Validate()
}

// Recipient is one resolved destination for a notification: the parent who
// receives the SMS and the student the message is about.
type Recipient struct {
	ParentID  string
	StudentID string
	Phone     string
	Fields    TemplateFields
}

// TemplateFields carries the per-recipient values substituted into a
// message template.
type TemplateFields struct {
	ParentName       string
	ParentPhone      string
	StudentFirstName string
	StudentLastName  string
	Matricule        string
	Classe           string
	Niveau           string
	Status           string
}
