package transport

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawCodecName is the gRPC content-subtype this package negotiates instead of
// the default "proto" subtype; both client and server register rawCodec
// under this name at init, so no generated message type ever needs to exist.
const rawCodecName = "silorpc"

// rawMessage is the only type rawCodec ever (de)serializes: an opaque,
// already gob-encoded frame. The codec itself does no marshaling beyond a
// byte copy; wire.go owns the actual frame encoding.
type rawMessage struct {
	data []byte
}

type rawCodec struct{}

func (rawCodec) Name() string { return rawCodecName }

func (rawCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("transport: rawCodec.Marshal: unsupported type %T", v)
	}
	return m.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("transport: rawCodec.Unmarshal: unsupported type %T", v)
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}
