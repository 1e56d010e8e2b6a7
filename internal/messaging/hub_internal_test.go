package messaging

import (
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_RegisterRacingLastUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	for i := 0; i < 500; i++ {
		leaving, joining := new(websocket.Conn), new(websocket.Conn)
		hub.register("req-1", "cust-1", leaving)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.unregister("req-1", leaving)
		}()
		go func() {
			defer wg.Done()
			hub.register("req-1", "cust-1", joining)
		}()
		wg.Wait()

		require.Equal(t, 1, hub.Clients("req-1"), "iteration %d: joining client lost its room", i)
		hub.mu.Lock()
		_, ok := hub.rooms["req-1"].clients[joining]
		hub.mu.Unlock()
		require.True(t, ok)

		hub.unregister("req-1", joining)
		require.Zero(t, hub.Clients("req-1"))
	}
}
