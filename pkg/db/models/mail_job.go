package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/bassline-events/mailroom-backend/pkg/db/types"
	"github.com/bassline-events/mailroom-backend/pkg/enums"
)

// MailJob represents one outbound email attempt record in the delivery queue.
//
// A job is owned exclusively by the dispatcher worker recorded in ClaimedBy
// while Status is "sending"; no other writer may mutate it in that window.
type MailJob struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Recipient   string    `gorm:"column:recipient;type:text;not null"`
	SenderEmail string    `gorm:"column:sender_email;type:text;not null"`
	SenderName  string    `gorm:"column:sender_name;type:text"`
	Subject     string    `gorm:"column:subject;type:text;not null"`
	BodyHTML    string    `gorm:"column:body_html;type:text"`
	BodyText    string    `gorm:"column:body_text;type:text"`

	Category string           `gorm:"column:category;type:text;not null;default:'notification'"`
	Status   enums.MailStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Priority int              `gorm:"column:priority;not null;default:100"`

	ScheduledAt time.Time  `gorm:"column:scheduled_at;not null"`
	SentAt      *time.Time `gorm:"column:sent_at"`
	FailedAt    *time.Time `gorm:"column:failed_at"`

	RetryCount int     `gorm:"column:retry_count;not null;default:0"`
	MaxRetries int     `gorm:"column:max_retries;not null;default:5"`
	LastError  *string `gorm:"column:last_error"`

	ClaimedBy *string    `gorm:"column:claimed_by"`
	ClaimedAt *time.Time `gorm:"column:claimed_at"`

	Metadata dbtypes.JSONMap `gorm:"column:metadata;type:jsonb;not null;default:'{}'"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
