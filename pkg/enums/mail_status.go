package enums

import "fmt"

// MailStatus describes the delivery state of a queued message.
type MailStatus string

const (
	MailStatusPending  MailStatus = "pending"
	MailStatusSending  MailStatus = "sending"
	MailStatusSent     MailStatus = "sent"
	MailStatusFailed   MailStatus = "failed"
	MailStatusRetrying MailStatus = "retrying"
)

var validMailStatuses = []MailStatus{
	MailStatusPending,
	MailStatusSending,
	MailStatusSent,
	MailStatusFailed,
	MailStatusRetrying,
}

// MailStatuses returns every canonical status value.
func MailStatuses() []MailStatus {
	return append([]MailStatus(nil), validMailStatuses...)
}

// IsValid reports whether the value matches the canonical mail status enum.
func (s MailStatus) IsValid() bool {
	for _, candidate := range validMailStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s MailStatus) IsTerminal() bool {
	return s == MailStatusSent || s == MailStatusFailed
}

// ParseMailStatus converts the raw string to MailStatus.
func ParseMailStatus(value string) (MailStatus, error) {
	for _, candidate := range validMailStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid mail status %q", value)
}
