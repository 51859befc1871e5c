package controllers

import (
	"net/http"
	"time"

	"github.com/bassline-events/mailroom-backend/api/responses"
	"github.com/bassline-events/mailroom-backend/api/validators"
	"github.com/bassline-events/mailroom-backend/internal/mailqueue"
	"github.com/bassline-events/mailroom-backend/pkg/config"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

type enqueueMailRequest struct {
	Recipient   string            `json:"recipient" validate:"required,email"`
	SenderEmail string            `json:"sender_email" validate:"omitempty,email"`
	SenderName  string            `json:"sender_name" validate:"omitempty,max=120"`
	Subject     string            `json:"subject" validate:"required,max=300"`
	BodyHTML    string            `json:"body_html"`
	BodyText    string            `json:"body_text"`
	Category    string            `json:"category" validate:"omitempty,max=50"`
	Priority    int               `json:"priority" validate:"omitempty,min=1,max=1000"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
	MaxRetries  *int              `json:"max_retries" validate:"omitempty,min=0,max=20"`
	Metadata    map[string]string `json:"metadata" validate:"omitempty,max=20"`
}

// EnqueueMail accepts an outbound message and persists it for dispatch. The
// sender defaults to the platform address when the caller leaves it blank.
func EnqueueMail(svc mailqueue.Service, cfg *config.Config, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "mail queue unavailable"))
			return
		}

		var body enqueueMailRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := mailqueue.EnqueueParams{
			Recipient:   body.Recipient,
			SenderEmail: body.SenderEmail,
			SenderName:  body.SenderName,
			Subject:     body.Subject,
			BodyHTML:    body.BodyHTML,
			BodyText:    body.BodyText,
			Category:    body.Category,
			Priority:    body.Priority,
			ScheduledAt: body.ScheduledAt,
			MaxRetries:  body.MaxRetries,
			Metadata:    body.Metadata,
		}
		if params.SenderEmail == "" {
			params.SenderEmail = cfg.SMTP.FromEmail
			params.SenderName = cfg.SMTP.FromName
		}

		id, err := svc.Enqueue(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"id": id.String()})
	}
}
