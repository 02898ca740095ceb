package listener

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/polyserve/internal/httpcontract"
)

func TestServerRunStopsOnContextCancel(t *testing.T) {
	log := zerolog.Nop()
	s := New(2, &log)

	require.NoError(t, s.BindHTTP(HTTPBinding{
		Addr: "127.0.0.1:0",
		Handler: func(w httpcontract.ResponseWriter, req *httpcontract.Request) {
			w.SetStatus(200)
			require.NoError(t, w.Complete())
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case <-done:
		// Run returning at all (with or without a context-cancellation
		// error from the reactor pool) confirms every listener and loop
		// was torn down together.
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestServerShutdownClosesListeners(t *testing.T) {
	log := zerolog.Nop()
	s := New(1, &log)

	require.NoError(t, s.BindHTTP(HTTPBinding{
		Addr:    "127.0.0.1:0",
		Handler: func(w httpcontract.ResponseWriter, req *httpcontract.Request) {},
	}))

	s.Shutdown()
	// Shutdown must be idempotent.
	s.Shutdown()
}
