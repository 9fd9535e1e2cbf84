// Package transport implements spec §4.12, C12: send(target_silo, envelope)
// -> envelope, short-circuiting to a direct mailbox post when target_silo is
// the local silo and otherwise crossing the wire over gRPC.
//
// No protobuf schema ships in this repo (there is no protoc/buf invocation
// available to generate one), so the wire envelope is gob-encoded and carried
// over gRPC using a hand-registered raw codec instead of generated
// *.pb.go messages — the same grpc.Codec extension point the generated code
// itself is built on (see codec.go, grpc_service.go).
package transport

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/siloerr"
)

// frame is the wire shape of one Envelope plus an optional carried error
// (spec §6: "the core never throws a bare error across [the transport]
// boundary — every failure path returns one of these [siloerr.Error]").
type frame struct {
	MessageID         uint64
	CorrelationID     string
	TimestampUnixNano int64
	ActorType         string
	ActorID           string
	MethodName        string
	Payload           []byte
	Flag              uint8

	HasErr     bool
	ErrKind    uint8
	ErrMessage string
	NewSilo    string
	HasExpected bool
	Expected    uint64
	HasActual   bool
	Actual      uint64
}

func encodeFrame(f *frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return nil, fmt.Errorf("transport: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeFrame(data []byte) (*frame, error) {
	var f frame
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		return nil, fmt.Errorf("transport: decode frame: %w", err)
	}
	return &f, nil
}

// envelopeToFrame carries env's fields verbatim; err, if non-nil, is folded
// in as the carried siloerr.Error so a single round trip returns both.
func envelopeToFrame(env *envelope.Envelope, err error) *frame {
	f := &frame{
		MessageID:         env.MessageID,
		CorrelationID:     env.CorrelationID,
		TimestampUnixNano: env.Timestamp.UnixNano(),
		ActorType:         env.ActorType,
		ActorID:           env.ActorID,
		MethodName:        env.MethodName,
		Payload:           env.Payload,
		Flag:              uint8(env.Flag),
	}
	if err == nil {
		return f
	}
	f.HasErr = true
	if se, ok := siloerr.As(err); ok {
		f.ErrKind = uint8(se.Kind)
		f.ErrMessage = se.Message
		f.NewSilo = se.NewSilo
		if se.Expected != nil {
			f.HasExpected = true
			f.Expected = *se.Expected
		}
		if se.Actual != nil {
			f.HasActual = true
			f.Actual = *se.Actual
		}
	} else {
		f.ErrKind = uint8(siloerr.User)
		f.ErrMessage = err.Error()
	}
	return f
}

func frameToEnvelope(f *frame) *envelope.Envelope {
	return &envelope.Envelope{
		MessageID:     f.MessageID,
		CorrelationID: f.CorrelationID,
		Timestamp:     time.Unix(0, f.TimestampUnixNano),
		ActorType:     f.ActorType,
		ActorID:       f.ActorID,
		MethodName:    f.MethodName,
		Payload:       f.Payload,
		Flag:          envelope.Flag(f.Flag),
	}
}

// frameError reconstructs the carried error, or nil if the frame carries
// none.
func frameError(f *frame) error {
	if !f.HasErr {
		return nil
	}
	se := &siloerr.Error{Kind: siloerr.Kind(f.ErrKind), Message: f.ErrMessage, NewSilo: f.NewSilo}
	if f.HasExpected {
		e := f.Expected
		se.Expected = &e
	}
	if f.HasActual {
		a := f.Actual
		se.Actual = &a
	}
	return se
}
