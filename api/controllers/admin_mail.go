package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bassline-events/mailroom-backend/api/responses"
	"github.com/bassline-events/mailroom-backend/api/validators"
	"github.com/bassline-events/mailroom-backend/internal/mailqueue"
	"github.com/bassline-events/mailroom-backend/pkg/enums"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
	"github.com/bassline-events/mailroom-backend/pkg/pagination"
)

// AdminListMail returns the operator view of the queue, newest first.
func AdminListMail(svc mailqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "mail queue unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := mailqueue.ListParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			Search: validators.SanitizeString(r.URL.Query().Get("search"), 200),
		}

		if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
			if !enums.MailStatus(status).IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown status filter"))
				return
			}
			params.Status = status
		}
		if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
			params.Category = category
		}

		for _, bound := range []struct {
			key  string
			dest **time.Time
		}{{"from", &params.From}, {"to", &params.To}} {
			raw := strings.TrimSpace(r.URL.Query().Get(bound.key))
			if raw == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, bound.key+" must be RFC3339"))
				return
			}
			*bound.dest = &ts
		}

		list, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminMailStats returns aggregate queue counts for the dashboard.
func AdminMailStats(stats mailqueue.StatsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if stats == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stats service unavailable"))
			return
		}

		snapshot, err := stats.Snapshot(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// AdminRequeueMail puts one failed job back in line with a fresh attempt.
func AdminRequeueMail(svc mailqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "mail queue unavailable"))
			return
		}

		jobID, err := parseJobID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Requeue(r.Context(), jobID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "requeued"})
	}
}

// AdminRequeueFailed bulk-requeues every failed job that still has retry
// budget left.
func AdminRequeueFailed(svc mailqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "mail queue unavailable"))
			return
		}

		count, err := svc.RequeueAllFailed(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"requeued": count})
	}
}

// AdminDeleteMail removes one job unless a worker currently holds it.
func AdminDeleteMail(svc mailqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "mail queue unavailable"))
			return
		}

		jobID, err := parseJobID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), jobID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

// AdminDeleteMailByStatus bulk-deletes every job in the given terminal or
// queued status. Sending jobs are refused at the service layer.
func AdminDeleteMailByStatus(svc mailqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "mail queue unavailable"))
			return
		}

		status := strings.TrimSpace(r.URL.Query().Get("status"))
		if status == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "status query parameter is required"))
			return
		}

		count, err := svc.DeleteByStatus(r.Context(), enums.MailStatus(status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"deleted": count})
	}
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "job id is required")
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id")
	}
	return jobID, nil
}
