package lightlink

import (
	"context"
	"net"
	"testing"
	"time"
)

// echoServer accepts one connection and echoes back whatever it reads,
// standing in for the LUMIPLUS controller in tests.
func echoServer(t *testing.T, mutate func([]byte) []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		out := buf[:n]
		if mutate != nil {
			out = mutate(out)
		}
		conn.Write(out)
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestSendSucceedsOnMatchingEcho(t *testing.T) {
	addr := echoServer(t, nil)
	c := &Client{Addr: addr, Timeout: time.Second, Retry: 0}

	ok, err := c.Send(context.Background(), CommandRed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected success on matching echo")
	}
}

func TestSendFailsOnMismatchedEcho(t *testing.T) {
	addr := echoServer(t, func(b []byte) []byte { return []byte("000000") })
	c := &Client{Addr: addr, Timeout: time.Second, Retry: 0}

	ok, err := c.Send(context.Background(), CommandGreen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure on mismatched echo")
	}
}

func TestSendUnknownCommand(t *testing.T) {
	c := New()
	_, err := c.Send(context.Background(), Command(999))
	if err == nil {
		t.Fatalf("expected error for unknown command")
	}
}

func TestTimingCommandForDuration(t *testing.T) {
	cmd, ok := TimingCommandForDuration(15 * 60)
	if !ok || cmd != CommandTiming1 {
		t.Fatalf("expected CommandTiming1 for 900s, got %v ok=%v", cmd, ok)
	}
	if _, ok := TimingCommandForDuration(42); ok {
		t.Fatalf("expected no built-in timing command for 42s")
	}
}
