package netlib

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

// startTestServer starts a server on an ephemeral loopback port and stops it on cleanup.
func startTestServer(t *testing.T, opt ...Option) *Server {
	t.Helper()

	server := NewServer("127.0.0.1:0", opt...)
	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if server.Active() {
			_ = server.Stop()
		}
	})
	return server
}

// dialTestServer opens a raw TCP connection to server.
func dialTestServer(t *testing.T, server *Server) *net.TCPConn {
	t.Helper()

	conn, err := net.DialTCP("tcp", nil, server.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor returns the next event of type T, discarding events of other types.
func waitFor[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()

	deadline := time.After(testTimeout)
	for {
		select {
		case ev := <-events:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timeout waiting for %T", zero)
			return zero
		}
	}
}

// expectNone fails if an event of type T arrives within a short grace period.
func expectNone[T Event](t *testing.T, events <-chan Event) {
	t.Helper()

	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-events:
			if _, ok := ev.(T); ok {
				t.Errorf("unexpected %T: %+v", ev, ev)
				return
			}
		case <-deadline:
			return
		}
	}
}

func readTestFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
	data, err := DecodeFrame(conn)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	return data
}

func TestServer_StartStop(t *testing.T) {
	server := NewServer("127.0.0.1:0")

	if server.Active() {
		t.Error("server should not be active before Start")
	}
	if server.Addr() != nil {
		t.Error("Addr should be nil before Start")
	}

	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !server.Active() {
		t.Error("server should be active after Start")
	}
	if server.Addr() == nil {
		t.Error("Addr returned nil")
	}

	if err := server.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start: expected ErrInvalidState, got %v", err)
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if server.Active() {
		t.Error("server should not be active after Stop")
	}

	if err := server.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Stop: expected ErrInvalidState, got %v", err)
	}
	if server.Active() {
		t.Error("failed Stop changed the server state")
	}
}

func TestServer_StartAddressInUse(t *testing.T) {
	first := startTestServer(t)

	second := NewServer(first.Addr().String())
	err := second.Start()
	if err == nil {
		second.Stop()
		t.Fatal("expected error for occupied port")
	}
	if errors.Is(err, ErrInvalidState) {
		t.Errorf("bind failure should not be ErrInvalidState: %v", err)
	}
	if second.Active() {
		t.Error("server should not be active after a failed Start")
	}
}

func TestServer_Restart(t *testing.T) {
	server := startTestServer(t)

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	dialTestServer(t, server)
	waitFor[ClientConnected](t, server.Events())
}

func TestServer_Stop_ListenerClosed(t *testing.T) {
	server := startTestServer(t)
	addr := server.Addr().String()

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		conn.Close()
		t.Error("expected dial to a stopped server to fail")
	}
}

func TestServer_ClientConnected(t *testing.T) {
	server := startTestServer(t)
	client := dialTestServer(t, server)

	ev := waitFor[ClientConnected](t, server.Events())
	if ev.Conn == nil {
		t.Fatal("ClientConnected carried a nil connection")
	}
	if !ev.Conn.Active() {
		t.Error("announced connection should be active")
	}
	if ev.Conn.RemotePort() != client.LocalAddr().(*net.TCPAddr).Port {
		t.Errorf("RemotePort = %d, want %d", ev.Conn.RemotePort(), client.LocalAddr().(*net.TCPAddr).Port)
	}

	conns := server.Connections()
	if len(conns) != 1 || conns[0] != ev.Conn {
		t.Errorf("registry = %v, want [%v]", conns, ev.Conn)
	}
}

func TestServer_RegistryAcceptanceOrder(t *testing.T) {
	server := startTestServer(t)

	var announced []*Connection
	for i := 0; i < 5; i++ {
		dialTestServer(t, server)
		announced = append(announced, waitFor[ClientConnected](t, server.Events()).Conn)
	}

	conns := server.Connections()
	if len(conns) != len(announced) {
		t.Fatalf("registry has %d connections, want %d", len(conns), len(announced))
	}
	for i := range conns {
		if conns[i] != announced[i] {
			t.Errorf("registry[%d] = %v, want %v", i, conns[i], announced[i])
		}
	}
}

func TestServer_ClientRequestReceived(t *testing.T) {
	server := startTestServer(t)
	client := dialTestServer(t, server)

	connected := waitFor[ClientConnected](t, server.Events())

	if _, err := client.Write(Encode([]byte("request"))); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ev := waitFor[ClientRequestReceived](t, server.Events())
	if string(ev.Data) != "request" {
		t.Errorf("Data = %q, want request", ev.Data)
	}
	if ev.Conn != connected.Conn {
		t.Error("request tagged with a different connection than the one announced")
	}
}

func TestServer_DisconnectPropagation(t *testing.T) {
	server := startTestServer(t)
	client := dialTestServer(t, server)

	connected := waitFor[ClientConnected](t, server.Events())

	client.Close()

	ev := waitFor[ClientDisconnected](t, server.Events())
	if ev.Conn != connected.Conn {
		t.Error("disconnect reported for the wrong connection")
	}
	if ev.Reason != ReasonClosedByPeer {
		t.Errorf("Reason = %q, want %q", ev.Reason, ReasonClosedByPeer)
	}
	if ev.Conn.Active() {
		t.Error("disconnected connection should be closed")
	}
	if n := len(server.Connections()); n != 0 {
		t.Errorf("registry still holds %d connections", n)
	}

	expectNone[ClientDisconnected](t, server.Events())
}

func TestServer_StopClosesConnections(t *testing.T) {
	server := startTestServer(t)

	clients := make([]*net.TCPConn, 3)
	for i := range clients {
		clients[i] = dialTestServer(t, server)
		waitFor[ClientConnected](t, server.Events())
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if n := len(server.Connections()); n != 0 {
		t.Errorf("registry still holds %d connections after Stop", n)
	}

	for i, client := range clients {
		_ = client.SetReadDeadline(time.Now().Add(testTimeout))
		buf := make([]byte, 1)
		if _, err := client.Read(buf); err == nil {
			t.Errorf("client %d: expected the server side to be closed", i)
		}
	}

	for range clients {
		ev := waitFor[ClientDisconnected](t, server.Events())
		if ev.Reason != ReasonClosedLocally {
			t.Errorf("Reason = %q, want %q", ev.Reason, ReasonClosedLocally)
		}
	}
}

func TestServer_SendToClient(t *testing.T) {
	server := startTestServer(t)

	clients := make([]*net.TCPConn, 3)
	for i := range clients {
		clients[i] = dialTestServer(t, server)
		waitFor[ClientConnected](t, server.Events())
	}

	if n := server.SendToClient([]byte("broadcast")); n != len(clients) {
		t.Errorf("delivered to %d clients, want %d", n, len(clients))
	}

	for i, client := range clients {
		if got := readTestFrame(t, client); string(got) != "broadcast" {
			t.Errorf("client %d got %q", i, got)
		}
	}
}

func TestServer_SendMessage(t *testing.T) {
	server := startTestServer(t)
	client := dialTestServer(t, server)
	waitFor[ClientConnected](t, server.Events())

	if n := server.SendMessage(Response{Type: ResponseSend, Data: []byte("hi")}); n != 1 {
		t.Fatalf("delivered to %d clients, want 1", n)
	}

	var resp Response
	if err := resp.UnmarshalBinary(readTestFrame(t, client)); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if resp.Type != ResponseSend || string(resp.Data) != "hi" {
		t.Errorf("got %+v", resp)
	}
}

func TestServer_SendToClient_NoConnections(t *testing.T) {
	server := startTestServer(t)

	if n := server.SendToClient([]byte("nobody")); n != 0 {
		t.Errorf("delivered to %d clients, want 0", n)
	}
}

func TestServer_BroadcastIsolation(t *testing.T) {
	server := startTestServer(t, BroadcastConcurrencyOption(1))

	clients := make([]*net.TCPConn, 3)
	for i := range clients {
		clients[i] = dialTestServer(t, server)
		waitFor[ClientConnected](t, server.Events())
	}

	conns := server.Connections()
	if len(conns) != 3 {
		t.Fatalf("registry has %d connections, want 3", len(conns))
	}
	severed := conns[1]

	// Sever the socket underneath the second connection without going through Close.
	if err := severed.rawConn.Close(); err != nil {
		t.Fatalf("sever failed: %v", err)
	}

	if n := server.SendToClient([]byte{0x42}); n != 2 {
		t.Errorf("delivered to %d clients, want 2", n)
	}

	for _, i := range []int{0, 2} {
		if got := readTestFrame(t, clients[i]); len(got) != 1 || got[0] != 0x42 {
			t.Errorf("client %d got %x, want 42", i, got)
		}
	}

	ev := waitFor[ClientDisconnected](t, server.Events())
	if ev.Conn != severed {
		t.Errorf("disconnect reported for %v, want %v", ev.Conn, severed)
	}
	if severed.Active() {
		t.Error("severed connection should be closed")
	}
	expectNone[ClientDisconnected](t, server.Events())

	if conns := server.Connections(); len(conns) != 2 {
		t.Errorf("registry has %d connections after pruning, want 2", len(conns))
	}
}

func TestServer_BroadcastStalledPeers(t *testing.T) {
	const concurrency = 2
	server := startTestServer(t, BroadcastConcurrencyOption(concurrency), WriteTimeoutOption(time.Second))

	// More peers that never read than there are broadcast slots, accepted first.
	stalled := make([]*net.TCPConn, concurrency+2)
	for i := range stalled {
		stalled[i] = dialTestServer(t, server)
		_ = stalled[i].SetReadBuffer(4096)
		waitFor[ClientConnected](t, server.Events())
	}
	healthy := dialTestServer(t, server)
	waitFor[ClientConnected](t, server.Events())

	// Large enough to fill the kernel buffers of a peer that does not read.
	payload := bytes.Repeat([]byte{0x5A}, 15<<20)

	received := make(chan []byte, 1)
	go func() {
		_ = healthy.SetReadDeadline(time.Now().Add(30 * time.Second))
		data, _ := DecodeFrame(healthy)
		received <- data
	}()

	delivered := make(chan int, 1)
	go func() { delivered <- server.SendToClient(payload) }()

	select {
	case n := <-delivered:
		if n != 1 {
			t.Errorf("delivered to %d clients, want 1", n)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("SendToClient blocked on peers that stopped reading")
	}

	select {
	case data := <-received:
		if !bytes.Equal(data, payload) {
			t.Errorf("healthy peer got %d bytes, want %d", len(data), len(payload))
		}
	case <-time.After(30 * time.Second):
		t.Fatal("healthy peer received nothing")
	}

	for range stalled {
		waitFor[ClientDisconnected](t, server.Events())
	}
	if conns := server.Connections(); len(conns) != 1 {
		t.Errorf("registry has %d connections, want only the healthy one", len(conns))
	}
}

func TestServer_ListenerFailure(t *testing.T) {
	server := startTestServer(t)
	client := dialTestServer(t, server)
	waitFor[ClientConnected](t, server.Events())

	// Closing the listener behind the server's back looks like an accept failure.
	server.mu.Lock()
	ln := server.listener
	server.mu.Unlock()
	ln.Close()

	ev := waitFor[ConnectionLost](t, server.Events())
	if ev.Reason != ReasonListenerFailed {
		t.Errorf("Reason = %q, want %q", ev.Reason, ReasonListenerFailed)
	}
	if ev.Conn != nil {
		t.Error("listener failure should not carry a connection")
	}

	deadline := time.Now().Add(testTimeout)
	for server.Active() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if server.Active() {
		t.Fatal("server should be inactive after its listener failed")
	}

	_ = client.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Error("expected accepted connections to be closed")
	}

	if err := server.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Stop after failure: expected ErrInvalidState, got %v", err)
	}
}

func TestServer_ConcurrentAcceptAndBroadcast(t *testing.T) {
	server := startTestServer(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			server.SendToClient([]byte("tick"))
		}
	}()

	for i := 0; i < 10; i++ {
		dialTestServer(t, server)
	}
	for i := 0; i < 10; i++ {
		waitFor[ClientConnected](t, server.Events())
	}

	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("broadcast loop did not finish")
	}
}
