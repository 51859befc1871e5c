package controllers

import (
	"net"
	"net/http"
	"strings"

	"github.com/bassline-events/mailroom-backend/api/responses"
	"github.com/bassline-events/mailroom-backend/api/validators"
	"github.com/bassline-events/mailroom-backend/internal/captcha"
	"github.com/bassline-events/mailroom-backend/internal/verification"
	"github.com/bassline-events/mailroom-backend/pkg/config"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

type verificationRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Purpose      string `json:"purpose" validate:"required,oneof=registration support"`
	CaptchaToken string `json:"captcha_token"`
}

type verificationConfirm struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose" validate:"required,oneof=registration support"`
	Code    string `json:"code" validate:"required,numeric,max=12"`
}

// RequestVerification gates the request behind captcha, then issues a code.
// The response is the same whether or not a mail was actually queued so the
// endpoint cannot be used to probe rate-limit state beyond its own headers.
func RequestVerification(gate captcha.Verifier, svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gate == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		var body verificationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ip := clientIP(r)
		if err := gate.Verify(r.Context(), body.CaptchaToken, ip); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SendCode(r.Context(), body.Email, body.Purpose, ip); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

// ConfirmVerification checks a submitted code against the most recent active
// one for the email and purpose. The expected code length follows the issuing
// configuration, so a wrong-length submission is rejected before any lookup.
func ConfirmVerification(svc verification.Service, cfg config.VerificationConfig, logg *logger.Logger) http.HandlerFunc {
	codeLength := cfg.CodeLength
	if codeLength <= 0 {
		codeLength = 6
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		var body verificationConfirm
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if len(body.Code) != codeLength {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "code has the wrong length").
				WithDetails(map[string]any{"expected_length": codeLength}))
			return
		}

		verified, err := svc.VerifyCode(r.Context(), body.Email, body.Purpose, body.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"verified": verified})
	}
}

// clientIP prefers the left-most X-Forwarded-For hop; the API runs behind a
// load balancer in every deployed environment.
func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
