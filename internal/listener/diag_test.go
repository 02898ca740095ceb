package listener

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindDiagServesHealthzOnItsOwnPort(t *testing.T) {
	log := zerolog.Nop()
	s := New(1, &log)

	require.NoError(t, s.BindDiag(DiagBinding{Addr: "127.0.0.1:0", EnableDiagServices: true}))
	require.Len(t, s.listeners, 1)

	dl := s.listeners[0].(*diagListener)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		dl.Serve(ctx)
		close(done)
	}()

	resp, err := http.Get("http://" + dl.Addr().String() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	<-done
}
