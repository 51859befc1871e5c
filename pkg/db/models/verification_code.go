package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationCode is a one-time numeric code bound to an address and a purpose.
// Once UsedAt is set the code is permanently spent.
type VerificationCode struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string     `gorm:"column:email;type:text;not null"`
	Code      string     `gorm:"column:code;type:text;not null"`
	Purpose   string     `gorm:"column:purpose;type:text;not null"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null"`
	UsedAt    *time.Time `gorm:"column:used_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}
