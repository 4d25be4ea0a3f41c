package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func waitFor(t *testing.T, url string) *http.Response {
	t.Helper()
	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get(url) //nolint:noctx
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return resp
}

func TestServerServesAndShutsDown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "mirror")
	})
	addr := freeAddr(t)
	metricsAddr := freeAddr(t)
	srv, err := New(Config{Addr: addr, MetricsAddr: metricsAddr}, handler, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	resp := waitFor(t, "http://"+addr+"/anything")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.Equal(t, "mirror", string(body))

	metrics := waitFor(t, "http://"+metricsAddr+"/metrics")
	require.NoError(t, metrics.Body.Close())
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv, err := New(Config{Addr: ln.Addr().String()}, http.NotFoundHandler(), nil)
	require.NoError(t, err)
	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Addr: ":0"}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{}, http.NotFoundHandler(), nil)
	require.Error(t, err)
}
