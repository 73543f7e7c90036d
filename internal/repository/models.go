package repository

import (
	"strings"
	"time"

	"github.com/mirado/sms-dispatch/internal/domain"
)

// SmsLogModel is the persistence model for the sms_logs table. One row per
// recipient per send attempt; rows survive deletion of their notification.
type SmsLogModel struct {
	ID                string           `gorm:"type:uuid;primaryKey"`
	NotificationID    *string          `gorm:"type:uuid"`
	NotificationTitle string           `gorm:"type:varchar(255);not null"`
	NotificationType  string           `gorm:"type:varchar(20);not null"`
	ParentID          string           `gorm:"type:uuid;not null"`
	StudentID         *string          `gorm:"type:uuid"`
	PhoneNumber       string           `gorm:"type:varchar(20);not null"`
	Message           string           `gorm:"type:text;not null"`
	Status            domain.LogStatus `gorm:"type:varchar(20);not null"`
	ExternalID        *string          `gorm:"type:varchar(255)"`
	ErrorMessage      *string          `gorm:"type:text"`
	RetryCount        int              `gorm:"not null;default:0"`
	Ignored           bool             `gorm:"not null;default:false"`
	SentAt            *time.Time       `gorm:"type:timestamptz"`
	DeliveredAt       *time.Time       `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (SmsLogModel) TableName() string {
	return "sms_logs"
}

// NotificationModel is the persistence model for notification intents. Rows
// are short lived: an intent is deleted once its counters are folded back
// into the ledger after dispatch.
type NotificationModel struct {
	ID             string                    `gorm:"type:uuid;primaryKey"`
	Title          string                    `gorm:"type:varchar(255);not null"`
	Type           domain.NotificationType   `gorm:"type:varchar(20);not null"`
	Message        string                    `gorm:"type:text;not null"`
	Status         domain.NotificationStatus `gorm:"type:varchar(20);not null"`
	TargetKind     domain.TargetKind         `gorm:"type:varchar(20);not null"`
	TargetClasses  *string                   `gorm:"type:text"`
	TargetLevels   *string                   `gorm:"type:text"`
	TargetStudents *string                   `gorm:"type:text"`
	ScheduledAt     *time.Time               `gorm:"type:timestamptz"`
	SentAt          *time.Time               `gorm:"type:timestamptz"`
	TotalRecipients int                      `gorm:"not null;default:0"`
	SuccessCount    int                      `gorm:"not null;default:0"`
	FailureCount    int                      `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// StudentModel and ParentModel map the school directory tables. The
// dispatcher only ever reads them.
type StudentModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	FirstName string  `gorm:"type:varchar(100);not null"`
	LastName  string  `gorm:"type:varchar(100);not null"`
	Matricule string  `gorm:"type:varchar(50);not null"`
	Classe    string  `gorm:"type:varchar(50);not null"`
	Niveau    string  `gorm:"type:varchar(50);not null"`
	Status    string  `gorm:"type:varchar(50)"`
	Active    bool    `gorm:"not null;default:true"`
	ParentID  *string `gorm:"type:uuid"`

	Parent *ParentModel `gorm:"foreignKey:ParentID"`
}

func (StudentModel) TableName() string {
	return "students"
}

type ParentModel struct {
	ID    string `gorm:"type:uuid;primaryKey"`
	Name  string `gorm:"type:varchar(255);not null"`
	Phone string `gorm:"type:varchar(20);not null"`
}

func (ParentModel) TableName() string {
	return "parents"
}

func smsLogModelFromDomain(l *domain.SmsLog) *SmsLogModel {
	if l == nil {
		return nil
	}

	return &SmsLogModel{
		ID:                l.ID,
		NotificationID:    l.NotificationID,
		NotificationTitle: l.NotificationTitle,
		NotificationType:  l.NotificationType,
		ParentID:          l.ParentID,
		StudentID:         l.StudentID,
		PhoneNumber:       l.PhoneNumber,
		Message:           l.Message,
		Status:            l.Status,
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

func smsLogModelToDomain(m *SmsLogModel) *domain.SmsLog {
	if m == nil {
		return nil
	}

	return &domain.SmsLog{
		ID:                m.ID,
		NotificationID:    m.NotificationID,
		NotificationTitle: m.NotificationTitle,
		NotificationType:  m.NotificationType,
		ParentID:          m.ParentID,
		StudentID:         m.StudentID,
		PhoneNumber:       m.PhoneNumber,
		Message:           m.Message,
		Status:            m.Status,
		ExternalID:        m.ExternalID,
		ErrorMessage:      m.ErrorMessage,
		RetryCount:        m.RetryCount,
		Ignored:           m.Ignored,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:              n.ID,
		Title:           n.Title,
		Type:            n.Type,
		Message:         n.Message,
		Status:          n.Status,
		TargetKind:      n.Target.Kind,
		TargetClasses:   joinList(n.Target.Classes),
		TargetLevels:    joinList(n.Target.Levels),
		TargetStudents:  joinList(n.Target.StudentIDs),
		ScheduledAt:     n.ScheduledAt,
		SentAt:          n.SentAt,
		TotalRecipients: n.TotalRecipients,
		SuccessCount:    n.SuccessCount,
		FailureCount:    n.FailureCount,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:      m.ID,
		Title:   m.Title,
		Type:    m.Type,
		Message: m.Message,
		Status:  m.Status,
		Target: domain.TargetSelector{
			Kind:       m.TargetKind,
			Classes:    splitList(m.TargetClasses),
			Levels:     splitList(m.TargetLevels),
			StudentIDs: splitList(m.TargetStudents),
		},
		ScheduledAt:     m.ScheduledAt,
		SentAt:          m.SentAt,
		TotalRecipients: m.TotalRecipients,
		SuccessCount:    m.SuccessCount,
		FailureCount:    m.FailureCount,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// Target payload lists are stored as comma-joined text. Class and level
// names never contain commas and student ids are uuids, so no escaping is
// needed.
func joinList(values []string) *string {
	if len(values) == 0 {
		return nil
	}
	joined := strings.Join(values, ",")
	return &joined
}

func splitList(value *string) []string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	return strings.Split(*value, ",")
}

func studentModelToDomain(m *StudentModel) *domain.Student {
	if m == nil {
		return nil
	}

	student := &domain.Student{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Matricule: m.Matricule,
		Classe:    m.Classe,
		Niveau:    m.Niveau,
		Status:    m.Status,
		Active:    m.Active,
	}
	if m.Parent != nil {
		student.Parent = &domain.Parent{
			ID:    m.Parent.ID,
			Name:  m.Parent.Name,
			Phone: m.Parent.Phone,
		}
	}
	return student
}
