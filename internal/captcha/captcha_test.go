package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassline-events/mailroom-backend/pkg/config"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

func testVerifier(t *testing.T, serverURL string) Verifier {
	t.Helper()
	return NewVerifier(config.CaptchaConfig{
		VerifyURL:      serverURL,
		Secret:         "test-secret",
		Timeout:        time.Second,
		MaxElapsedTime: 2 * time.Second,
	}, logger.New(logger.Options{Level: zerolog.ErrorLevel}))
}

func TestVerifySuccess(t *testing.T) {
	var gotProof, gotSecret string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotProof = r.Form.Get("response")
		gotSecret = r.Form.Get("secret")
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	verifier := testVerifier(t, server.URL)
	require.NoError(t, verifier.Verify(context.Background(), "proof-token", "1.2.3.4"))
	assert.Equal(t, "proof-token", gotProof)
	assert.Equal(t, "test-secret", gotSecret)
}

func TestVerifyRejection(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"success": false, "error-codes": ["invalid-input-response"]}`))
	}))
	defer server.Close()

	verifier := testVerifier(t, server.URL)
	err := verifier.Verify(context.Background(), "bad-proof", "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeCaptcha, pkgerrors.As(err).Code())
	assert.Equal(t, int32(1), calls.Load(), "rejections must not be retried")
}

func TestVerifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	verifier := testVerifier(t, server.URL)
	require.NoError(t, verifier.Verify(context.Background(), "proof-token", ""))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestVerifyMissingProof(t *testing.T) {
	verifier := testVerifier(t, "http://127.0.0.1:0")
	err := verifier.Verify(context.Background(), "   ", "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeCaptcha, pkgerrors.As(err).Code())
}

func TestVerifyDisabledWithoutSecret(t *testing.T) {
	verifier := NewVerifier(config.CaptchaConfig{}, logger.New(logger.Options{Level: zerolog.ErrorLevel}))
	require.NoError(t, verifier.Verify(context.Background(), "", ""))
}
