package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/siloerr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeRuntime stands in for actor.Runtime: Deliver immediately "dispatches"
// by invoking the registered reply notifier with a canned result.
type fakeRuntime struct {
	notify  func(ctx context.Context, req *envelope.Envelope, result []byte, dispatchErr error)
	nextErr error
	echo    bool
}

func (f *fakeRuntime) SetReplyNotifier(fn func(context.Context, *envelope.Envelope, []byte, error)) {
	f.notify = fn
}

func (f *fakeRuntime) Deliver(ctx context.Context, env *envelope.Envelope) error {
	result := env.Payload
	if f.echo {
		result = append([]byte("echo:"), env.Payload...)
	}
	go f.notify(ctx, env, result, f.nextErr)
	return nil
}

type staticResolver map[string]string

func (r staticResolver) Address(siloID string) (string, bool) {
	addr, ok := r[siloID]
	return addr, ok
}

func TestSendLocalBypassRoundTrip(t *testing.T) {
	rt := &fakeRuntime{echo: true}
	tr := New("silo-a", rt, staticResolver{}, testLogger())

	env := envelope.New("widget", "1", "Ping", []byte("hi"))
	reply, err := tr.Send(context.Background(), "silo-a", env)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(reply.Payload) != "echo:hi" {
		t.Fatalf("expected echoed payload, got %q", reply.Payload)
	}
	if reply.Flag != envelope.FlagReply {
		t.Fatalf("expected FlagReply, got %v", reply.Flag)
	}
}

func TestSendLocalBypassPropagatesDispatchError(t *testing.T) {
	rt := &fakeRuntime{nextErr: siloerr.New(siloerr.NotFound, "no such method")}
	tr := New("silo-a", rt, staticResolver{}, testLogger())

	env := envelope.New("widget", "1", "Missing", nil)
	_, err := tr.Send(context.Background(), "silo-a", env)
	se, ok := siloerr.As(err)
	if !ok || se.Kind != siloerr.NotFound {
		t.Fatalf("expected NotFound siloerr, got %v", err)
	}
}

// hangingRuntime never invokes the reply notifier, simulating a turn that
// never completes.
type hangingRuntime struct{}

func (hangingRuntime) SetReplyNotifier(func(context.Context, *envelope.Envelope, []byte, error)) {}
func (hangingRuntime) Deliver(context.Context, *envelope.Envelope) error                         { return nil }

func TestSendLocalBypassTimesOutWithoutReply(t *testing.T) {
	tr := New("silo-a", hangingRuntime{}, staticResolver{}, testLogger())
	tr.replyTimeout = 30 * time.Millisecond

	env := envelope.New("widget", "1", "Ping", nil)
	_, err := tr.Send(context.Background(), "silo-a", env)
	se, ok := siloerr.As(err)
	if !ok || se.Kind != siloerr.Timeout {
		t.Fatalf("expected Timeout siloerr, got %v", err)
	}
}

// TestRemoteSendRoundTripsOverGRPC exercises the full codec + ServiceDesc +
// gobreaker path using an in-memory bufconn listener instead of a real
// socket.
func TestRemoteSendRoundTripsOverGRPC(t *testing.T) {
	const bufSize = 1 << 20
	lis := bufconn.Listen(bufSize)
	t.Cleanup(func() { lis.Close() })

	serverRuntime := &fakeRuntime{echo: true}
	serverTransport := New("silo-b", serverRuntime, staticResolver{}, testLogger())
	grpcServer := NewServer(serverTransport)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }

	clientRuntime := &fakeRuntime{}
	clientTransport := New("silo-a", clientRuntime, staticResolver{"silo-b": "bufnet"}, testLogger())
	clientTransport.pool.dialOpts = append(clientTransport.pool.dialOpts, grpc.WithContextDialer(dialer))

	env := envelope.New("widget", "1", "Ping", []byte("hi"))
	reply, err := clientTransport.Send(context.Background(), "silo-b", env)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(reply.Payload) != "echo:hi" {
		t.Fatalf("expected echoed payload over the wire, got %q", reply.Payload)
	}
}

func TestFrameRoundTripPreservesErrorDetails(t *testing.T) {
	env := envelope.New("widget", "1", "Ping", []byte("payload"))
	want := siloerr.ConcurrencyErr(3, 5)

	data, err := encodeFrame(envelopeToFrame(env, want))
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	f, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}

	got := frameError(f)
	se, ok := siloerr.As(got)
	if !ok || se.Kind != siloerr.Concurrency || se.Expected == nil || *se.Expected != 3 || se.Actual == nil || *se.Actual != 5 {
		t.Fatalf("expected round-tripped Concurrency(3,5), got %v", got)
	}

	roundTripped := frameToEnvelope(f)
	if roundTripped.ActorType != "widget" || roundTripped.ActorID != "1" || string(roundTripped.Payload) != "payload" {
		t.Fatalf("envelope fields not preserved: %+v", roundTripped)
	}
}
