package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bassline-events/mailroom-backend/pkg/config"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

// Verifier checks a captcha proof with an external challenge service.
type Verifier interface {
	Verify(ctx context.Context, proof, remoteIP string) error
}

type httpVerifier struct {
	cfg    config.CaptchaConfig
	client *http.Client
	logg   *logger.Logger
}

// NewVerifier builds a verifier for the configured challenge endpoint. When no
// secret is configured the verifier accepts everything, which keeps dev
// environments runnable without a captcha account.
func NewVerifier(cfg config.CaptchaConfig, logg *logger.Logger) Verifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpVerifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logg:   logg,
	}
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *httpVerifier) Verify(ctx context.Context, proof, remoteIP string) error {
	if !v.cfg.Enabled() {
		return nil
	}
	if strings.TrimSpace(proof) == "" {
		return pkgerrors.New(pkgerrors.CodeCaptcha, "captcha proof is required")
	}

	operation := func() error {
		return v.verifyOnce(ctx, proof, remoteIP)
	}

	policy := backoff.WithContext(v.retryPolicy(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}
	return nil
}

// verifyOnce performs a single round trip. Challenge rejections come back as
// permanent errors so the retry loop stops immediately; transport failures
// stay retryable.
func (v *httpVerifier) verifyOnce(ctx context.Context, proof, remoteIP string) error {
	form := url.Values{}
	form.Set("secret", v.cfg.Secret)
	form.Set("response", proof)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return backoff.Permanent(pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build captcha request"))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "captcha service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("captcha service returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(pkgerrors.New(pkgerrors.CodeCaptcha, fmt.Sprintf("captcha service rejected request with %d", resp.StatusCode)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read captcha response")
	}

	var parsed verifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode captcha response")
	}
	if !parsed.Success {
		return backoff.Permanent(pkgerrors.New(pkgerrors.CodeCaptcha, "captcha verification failed").
			WithDetails(map[string]any{"codes": parsed.ErrorCodes}))
	}
	return nil
}

func (v *httpVerifier) retryPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = v.cfg.MaxElapsedTime
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = 15 * time.Second
	}
	return policy
}
