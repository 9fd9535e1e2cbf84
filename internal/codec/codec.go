// Package codec defines the Codec collaborator of spec §6: encode(object) ->
// bytes, decode(bytes, type) -> object, deterministic for equal inputs. The
// core only ever holds opaque payload bytes; concrete wire-format codecs
// (protobuf, msgpack, ...) are generated out-of-band per spec's Non-goals
// ("concrete storage/codec/dispatcher-stub generation" is explicitly out of
// scope) — JSONCodec below is a reference implementation for tests and for
// callers with no generated codec of their own, not the intended production
// codec for any given actor type.
package codec

import "encoding/json"

// Codec encodes and decodes actor method payloads. Implementations must be
// deterministic: encoding the same value twice produces identical bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec is deterministic because encoding/json sorts map keys and never
// randomizes struct field order.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
