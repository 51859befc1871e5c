package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/bassline-events/mailroom-backend/internal/mailqueue"
	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/db/models"
	"github.com/bassline-events/mailroom-backend/pkg/enums"
)

type testMailQueueService struct {
	enqueueFn      func(ctx context.Context, params mailqueue.EnqueueParams) (uuid.UUID, error)
	listFn         func(ctx context.Context, params mailqueue.ListParams) (*mailqueue.ListResult, error)
	requeueFn      func(ctx context.Context, id uuid.UUID) error
	requeueAllFn   func(ctx context.Context) (int64, error)
	deleteFn       func(ctx context.Context, id uuid.UUID) error
	deleteStatusFn func(ctx context.Context, status enums.MailStatus) (int64, error)
}

func (s *testMailQueueService) Enqueue(ctx context.Context, params mailqueue.EnqueueParams) (uuid.UUID, error) {
	if s.enqueueFn != nil {
		return s.enqueueFn(ctx, params)
	}
	return uuid.New(), nil
}

func (s *testMailQueueService) Get(context.Context, uuid.UUID) (*models.MailJob, error) {
	return nil, nil
}

func (s *testMailQueueService) Claim(context.Context, string, int) ([]models.MailJob, error) {
	return nil, nil
}

func (s *testMailQueueService) Complete(context.Context, uuid.UUID) error { return nil }

func (s *testMailQueueService) Fail(context.Context, uuid.UUID, error) error { return nil }

func (s *testMailQueueService) Requeue(ctx context.Context, id uuid.UUID) error {
	if s.requeueFn != nil {
		return s.requeueFn(ctx, id)
	}
	return nil
}

func (s *testMailQueueService) RequeueAllFailed(ctx context.Context) (int64, error) {
	if s.requeueAllFn != nil {
		return s.requeueAllFn(ctx)
	}
	return 0, nil
}

func (s *testMailQueueService) Delete(ctx context.Context, id uuid.UUID) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return nil
}

func (s *testMailQueueService) DeleteByStatus(ctx context.Context, status enums.MailStatus) (int64, error) {
	if s.deleteStatusFn != nil {
		return s.deleteStatusFn(ctx, status)
	}
	return 0, nil
}

func (s *testMailQueueService) List(ctx context.Context, params mailqueue.ListParams) (*mailqueue.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &mailqueue.ListResult{}, nil
}

func mailTestConfig() *config.Config {
	return &config.Config{
		SMTP: config.SMTPConfig{
			FromEmail: "no-reply@bassline.events",
			FromName:  "Bassline Events",
		},
	}
}

func TestEnqueueMailSuccess(t *testing.T) {
	id := uuid.New()
	var got mailqueue.EnqueueParams
	svc := &testMailQueueService{enqueueFn: func(_ context.Context, params mailqueue.EnqueueParams) (uuid.UUID, error) {
		got = params
		return id, nil
	}}

	body := `{"recipient":"fan@example.com","subject":"Lineup update","body_text":"Doors at 8."}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mail", strings.NewReader(body))
	resp := httptest.NewRecorder()

	EnqueueMail(svc, mailTestConfig(), testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.Recipient != "fan@example.com" {
		t.Fatalf("unexpected recipient %q", got.Recipient)
	}
	if got.SenderEmail != "no-reply@bassline.events" || got.SenderName != "Bassline Events" {
		t.Fatalf("expected platform sender default, got %q %q", got.SenderEmail, got.SenderName)
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["id"] != id.String() {
		t.Fatalf("expected job id in response, got %v", envelope.Data)
	}
}

func TestEnqueueMailKeepsExplicitSender(t *testing.T) {
	var got mailqueue.EnqueueParams
	svc := &testMailQueueService{enqueueFn: func(_ context.Context, params mailqueue.EnqueueParams) (uuid.UUID, error) {
		got = params
		return uuid.New(), nil
	}}

	body := `{"recipient":"fan@example.com","sender_email":"crew@bassline.events","sender_name":"Crew","subject":"s","body_text":"b"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mail", strings.NewReader(body))
	resp := httptest.NewRecorder()

	EnqueueMail(svc, mailTestConfig(), testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if got.SenderEmail != "crew@bassline.events" || got.SenderName != "Crew" {
		t.Fatalf("explicit sender overwritten: %q %q", got.SenderEmail, got.SenderName)
	}
}

func TestEnqueueMailAcceptsFreeFormCategory(t *testing.T) {
	var got mailqueue.EnqueueParams
	svc := &testMailQueueService{enqueueFn: func(_ context.Context, params mailqueue.EnqueueParams) (uuid.UUID, error) {
		got = params
		return uuid.New(), nil
	}}

	body := `{"recipient":"fan@example.com","subject":"s","body_text":"b","category":"payment_receipt"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mail", strings.NewReader(body))
	resp := httptest.NewRecorder()

	EnqueueMail(svc, mailTestConfig(), testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.Category != "payment_receipt" {
		t.Fatalf("unexpected category %q", got.Category)
	}
}

func TestEnqueueMailRejectsBadBody(t *testing.T) {
	cases := map[string]string{
		"missing recipient":  `{"subject":"s","body_text":"b"}`,
		"bad recipient":      `{"recipient":"nope","subject":"s","body_text":"b"}`,
		"missing subject":    `{"recipient":"fan@example.com","body_text":"b"}`,
		"oversized category": `{"recipient":"fan@example.com","subject":"s","body_text":"b","category":"` + strings.Repeat("x", 51) + `"}`,
		"negative retries":   `{"recipient":"fan@example.com","subject":"s","body_text":"b","max_retries":-1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			called := false
			svc := &testMailQueueService{enqueueFn: func(context.Context, mailqueue.EnqueueParams) (uuid.UUID, error) {
				called = true
				return uuid.New(), nil
			}}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/mail", strings.NewReader(body))
			resp := httptest.NewRecorder()
			EnqueueMail(svc, mailTestConfig(), testLogger())(resp, req)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.Code)
			}
			if called {
				t.Fatal("enqueue must not run for invalid bodies")
			}
		})
	}
}
