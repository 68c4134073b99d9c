package callback

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runhook/internal/signature"
)

func TestSendSignsPayload(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"runId":"r1","status":"completed"}`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := io.ReadAll(r.Body)
		ts, err := strconv.ParseInt(r.Header.Get(signature.HeaderTimestamp), 10, 64)
		if err != nil || !signature.Verify(got, secret, ts, r.Header.Get(signature.HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSender(time.Second)
	status, err := sender.Send(context.Background(), server.URL, secret, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestSendNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	status, err := NewSender(time.Second).Send(context.Background(), server.URL, []byte("s"), []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, status)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestSendTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	start := time.Now()
	status, err := NewSender(50*time.Millisecond).Send(context.Background(), server.URL, []byte("s"), []byte(`{}`))
	require.Error(t, err)
	assert.Zero(t, status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	status, err := NewSender(time.Second).Send(context.Background(), url, []byte("s"), []byte(`{}`))
	require.Error(t, err)
	assert.Zero(t, status)
}
