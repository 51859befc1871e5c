package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bassline-events/mailroom-backend/internal/mailqueue"
	"github.com/bassline-events/mailroom-backend/internal/ratelimit"
	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/db/models"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

// Recognized purposes for issued codes.
const (
	PurposeRegistration = "registration"
	PurposeSupport      = "support"
)

// Service issues and checks one-time codes.
type Service interface {
	SendCode(ctx context.Context, email, purpose, originKey string) error
	VerifyCode(ctx context.Context, email, purpose, code string) (bool, error)
}

type service struct {
	repo    Repository
	limiter *ratelimit.Limiter
	queue   mailqueue.Service
	cfg     config.VerificationConfig
	smtp    config.SMTPConfig
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires verification dependencies.
func NewService(
	repo Repository,
	limiter *ratelimit.Limiter,
	queue mailqueue.Service,
	cfg config.VerificationConfig,
	smtp config.SMTPConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "verification repository required")
	}
	if limiter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "rate limiter required")
	}
	if queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mail queue required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:    repo,
		limiter: limiter,
		queue:   queue,
		cfg:     cfg,
		smtp:    smtp,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// SendCode runs the limiter, issues a fresh code, and enqueues the delivery
// job at the most urgent priority. Codes for the same (email, purpose) may
// coexist; verification always matches the newest valid one.
func (s *service) SendCode(ctx context.Context, email, purpose, originKey string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	purpose = strings.TrimSpace(purpose)
	if email == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if purpose == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "purpose is required")
	}

	now := s.now()
	decision, err := s.limiter.Check(ctx, email, originKey, now)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return ratelimit.RejectionError(decision)
	}

	code, err := s.generateCode()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate code")
	}

	ttl := s.cfg.CodeTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	record := &models.VerificationCode{
		ID:        uuid.New(),
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist verification code")
	}

	_, err = s.queue.Enqueue(ctx, mailqueue.EnqueueParams{
		Recipient:   email,
		SenderEmail: s.smtp.FromEmail,
		SenderName:  s.smtp.FromName,
		Subject:     "Your verification code",
		BodyText: fmt.Sprintf(
			"Your verification code is %s. It expires in %d minutes. If you did not request this, you can ignore this message.",
			code, int(ttl.Minutes()),
		),
		Category: mailqueue.CategoryVerification,
		Priority: mailqueue.PriorityUrgent,
		Metadata: map[string]string{"verification_code_id": record.ID.String()},
	})
	if err != nil {
		return err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"purpose": purpose})
	s.logg.Info(ctx, "verification code issued")
	return nil
}

// VerifyCode matches the submitted code against the most recent valid one and
// spends it. A spent or expired code never verifies again.
func (s *service) VerifyCode(ctx context.Context, email, purpose, code string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	purpose = strings.TrimSpace(purpose)
	code = strings.TrimSpace(code)
	if email == "" || purpose == "" || code == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "email, purpose and code are required")
	}

	now := s.now()
	record, err := s.repo.FindActive(ctx, email, purpose, now)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, pkgerrors.New(pkgerrors.CodeInvalidCode, "no matching code")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load verification code")
	}

	if record.Code != code {
		return false, pkgerrors.New(pkgerrors.CodeInvalidCode, "no matching code")
	}

	updated, err := s.repo.MarkUsed(ctx, record.ID, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "spend verification code")
	}
	if !updated {
		// lost a race with a concurrent verify of the same code
		return false, pkgerrors.New(pkgerrors.CodeInvalidCode, "no matching code")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"purpose": purpose})
	s.logg.Info(ctx, "verification code confirmed")
	return true, nil
}

// generateCode draws a fixed-length numeric code from crypto/rand.
func (s *service) generateCode() (string, error) {
	length := s.cfg.CodeLength
	if length <= 0 {
		length = 6
	}
	max := big.NewInt(1)
	for i := 0; i < length; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
