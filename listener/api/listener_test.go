package api

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApiListener_RejectsPublicAddress(t *testing.T) {
	_, err := NewApiListener(ApiListenerConfig{Address: "0.0.0.0:10999"}, http.NotFoundHandler())
	assert.Error(t, err)
}

func TestApiListener_ServeAndStop(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		_, _ = io.WriteString(w, "ok")
	})
	l, err := NewApiListener(ApiListenerConfig{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, h)
	require.NoError(t, err)
	assert.Equal(t, "api", l.Type())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	select {
	case <-l.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not bind")
	}
	base := "http://" + l.Addr()

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	// Recoverer turns a handler panic into a 500.
	resp, err = http.Get(base + "/panic")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.NoError(t, l.Stop())
}
