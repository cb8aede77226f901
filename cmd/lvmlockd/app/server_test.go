package app

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/sailfishos-mirror/lvm2-sub002/lockd/backend"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/daemon"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/wire"
)

func newTestDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	return daemon.New(logr.Discard(), daemon.NewUnregisteredMetrics(), func(string) (backend.Backend, error) {
		return &backend.MemoryBackend{}, nil
	})
}

// roundTrip writes req down one end of a net.Pipe served by serveConn and
// reads back the decoded response.
func roundTrip(t *testing.T, d *daemon.Daemon, req wire.Request) wire.Response {
	t.Helper()
	server, client := net.Pipe()
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		serveConn(ctx, logr.Discard(), d, server)
		close(done)
	}()

	_, err := client.Write(wire.Encode(req))
	require.NoError(t, err)
	resp, err := wire.ReadResponse(ctx, bufio.NewReader(client))
	require.NoError(t, err)
	client.Close()
	<-done
	return resp
}

func TestServeConnStartThenLockOverSocket(t *testing.T) {
	d := newTestDaemon(t)

	startResp := roundTrip(t, d, wire.Request{
		Op: wire.OpStart, Resource: wire.ResourceVG, VGName: "vg0", VGUUID: "uuid-0",
		Flags: wire.FlagEnable, Extra: map[string]string{"lock_type": "none"},
	})
	require.Equal(t, int32(0), startResp.Result)

	lockResp := roundTrip(t, d, wire.Request{
		Op: wire.OpLock, Resource: wire.ResourceVG, VGName: "vg0", Mode: wire.ModeExclusive,
	})
	require.Equal(t, int32(0), lockResp.Result)
}

func TestServeConnGLRequestRoutesToOwner(t *testing.T) {
	d := newTestDaemon(t)

	resp := roundTrip(t, d, wire.Request{
		Op: wire.OpStart, Resource: wire.ResourceVG, VGName: "vg0", VGUUID: "uuid-0",
		Flags: wire.FlagEnable, Extra: map[string]string{"lock_type": "none"},
	})
	require.Equal(t, int32(0), resp.Result)

	glResp := roundTrip(t, d, wire.Request{Op: wire.OpLock, Resource: wire.ResourceGL, Mode: wire.ModeShared})
	require.Equal(t, int32(0), glResp.Result)
}

func TestServeConnDisconnectReleasesLock(t *testing.T) {
	d := newTestDaemon(t)

	startResp := roundTrip(t, d, wire.Request{
		Op: wire.OpStart, Resource: wire.ResourceVG, VGName: "vg0", VGUUID: "uuid-0",
		Flags: wire.FlagEnable, Extra: map[string]string{"lock_type": "none"},
	})
	require.Equal(t, int32(0), startResp.Result)

	server, clientConn := net.Pipe()
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		serveConn(ctx, logr.Discard(), d, server)
		close(done)
	}()

	_, err := clientConn.Write(wire.Encode(wire.Request{
		Op: wire.OpLock, Resource: wire.ResourceVG, VGName: "vg0", Mode: wire.ModeExclusive,
	}))
	require.NoError(t, err)
	resp, err := wire.ReadResponse(ctx, bufio.NewReader(clientConn))
	require.NoError(t, err)
	require.Equal(t, int32(0), resp.Result)

	// Drop the connection without an orderly unlock or OpQuit.
	clientConn.Close()
	<-done

	// A second client should now be able to take the lock this one never
	// released explicitly: serveConn's disconnect cleanup must have freed it.
	second := roundTrip(t, d, wire.Request{
		Op: wire.OpLock, Resource: wire.ResourceVG, VGName: "vg0", Mode: wire.ModeExclusive,
	})
	require.Equal(t, int32(0), second.Result)
}

func TestServeConnUnknownLockspaceReturnsError(t *testing.T) {
	d := newTestDaemon(t)

	resp := roundTrip(t, d, wire.Request{Op: wire.OpLock, Resource: wire.ResourceVG, VGName: "nosuch", Mode: wire.ModeShared})
	require.NotEqual(t, int32(0), resp.Result)
}
