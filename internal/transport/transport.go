package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware/v2"
	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/siloerr"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// LocalRuntime is the actor.Runtime surface transport depends on: deliver an
// envelope to the local mailbox, and learn about turn completion so a
// pending Send call can be resolved.
type LocalRuntime interface {
	Deliver(ctx context.Context, env *envelope.Envelope) error
	SetReplyNotifier(fn func(ctx context.Context, req *envelope.Envelope, result []byte, dispatchErr error))
}

// AddressResolver maps a silo_id to a dialable endpoint (spec §3's
// SiloDescriptor.Endpoint, surfaced here so transport does not import the
// whole cluster package just to read one field).
type AddressResolver interface {
	Address(siloID string) (string, bool)
}

type pendingReply struct {
	result []byte
	err    error
}

// Transport implements spec §4.12's send(target_silo, envelope) -> envelope,
// short-circuiting to the local mailbox when target_silo == localSilo (spec:
// "the transport MUST short-circuit to direct mailbox post") and otherwise
// dialing a pooled gRPC connection to the target.
type Transport struct {
	localSilo string
	runtime   LocalRuntime
	logger    *slog.Logger

	replyTimeout time.Duration

	mu      sync.Mutex
	pending map[uint64]chan pendingReply

	pool *pool
}

func New(localSilo string, runtime LocalRuntime, resolver AddressResolver, logger *slog.Logger) *Transport {
	t := &Transport{
		localSilo:    localSilo,
		runtime:      runtime,
		logger:       logger.With("component", "transport"),
		replyTimeout: 30 * time.Second,
		pending:      make(map[uint64]chan pendingReply),
		pool:         newPool(resolver, logger),
	}
	runtime.SetReplyNotifier(t.onTurnComplete)
	return t
}

func (t *Transport) onTurnComplete(_ context.Context, req *envelope.Envelope, result []byte, dispatchErr error) {
	t.mu.Lock()
	ch, ok := t.pending[req.MessageID]
	if ok {
		delete(t.pending, req.MessageID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- pendingReply{result: result, err: dispatchErr}:
	default:
	}
}

// Close tears down every pooled remote connection (spec §7 graceful
// shutdown).
func (t *Transport) Close() error {
	return t.pool.Close()
}

// Send is the one transport-level operation: local bypass when targetSilo is
// this process, a gRPC round trip otherwise.
func (t *Transport) Send(ctx context.Context, targetSilo string, env *envelope.Envelope) (*envelope.Envelope, error) {
	if targetSilo == t.localSilo {
		return t.sendLocal(ctx, env)
	}
	return t.sendRemote(ctx, targetSilo, env)
}

func (t *Transport) sendLocal(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	ch := make(chan pendingReply, 1)
	t.mu.Lock()
	t.pending[env.MessageID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, env.MessageID)
		t.mu.Unlock()
	}()

	if err := t.runtime.Deliver(ctx, env); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.replyTimeout)
	defer cancel()

	select {
	case r := <-ch:
		if r.err != nil {
			return env.ErrorReply(nil), r.err
		}
		return env.Reply(r.result), nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, siloerr.New(siloerr.Cancelled, "transport: send cancelled waiting for local reply")
		}
		return nil, siloerr.New(siloerr.Timeout, "transport: local send timed out waiting for turn completion")
	}
}

func (t *Transport) sendRemote(ctx context.Context, targetSilo string, env *envelope.Envelope) (*envelope.Envelope, error) {
	conn, breaker, err := t.pool.get(targetSilo)
	if err != nil {
		return nil, err
	}

	data, err := encodeFrame(envelopeToFrame(env, nil))
	if err != nil {
		return nil, err
	}

	client := newTransportClient(conn)
	result, err := breaker.Execute(func() (any, error) {
		return client.Send(ctx, &rawMessage{data: data})
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, siloerr.Newf(siloerr.ClusterUnavailable, "transport: circuit open for silo %s: %v", targetSilo, err)
		}
		return nil, siloerr.Newf(siloerr.ClusterUnavailable, "transport: send to %s: %v", targetSilo, err)
	}

	rm := result.(*rawMessage)
	f, err := decodeFrame(rm.data)
	if err != nil {
		return nil, err
	}
	replyEnv := frameToEnvelope(f)
	if dErr := frameError(f); dErr != nil {
		return replyEnv, dErr
	}
	return replyEnv, nil
}

// serverImpl is the gRPC-facing side of the same Transport: when a remote
// peer's Send() arrives here, it is this silo that must own the target
// actor, so it is handled exactly like a local Send.
type serverImpl struct {
	t *Transport
}

func (s *serverImpl) Send(ctx context.Context, in *rawMessage) (*rawMessage, error) {
	f, err := decodeFrame(in.data)
	if err != nil {
		return nil, err
	}
	env := frameToEnvelope(f)

	replyEnv, sendErr := s.t.sendLocal(ctx, env)

	var outFrame *frame
	if sendErr != nil {
		outFrame = envelopeToFrame(env, sendErr)
	} else {
		outFrame = envelopeToFrame(replyEnv, nil)
	}
	data, encErr := encodeFrame(outFrame)
	if encErr != nil {
		return nil, encErr
	}
	return &rawMessage{data: data}, nil
}

// NewServer builds the gRPC server other silos dial into, instrumented with
// OpenTelemetry stats and a structured-logging interceptor chain (spec's
// ambient observability stack, carried into C12 same as every other
// component).
func NewServer(t *Transport) *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcmiddleware.ChainUnaryServer(loggingUnaryServerInterceptor(t.logger))),
	)
	registerTransportServer(srv, &serverImpl{t: t})
	return srv
}

func loggingUnaryServerInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc handled", "method", info.FullMethod, "duration", time.Since(start), "err", err)
		return resp, err
	}
}
