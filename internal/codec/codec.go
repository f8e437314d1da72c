package codec

import "io"

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is implemented by wire formats that both encode and decode,
// such as the CBOR codec used for the SurrealDB RPC protocol.
type Codec interface {
	Marshaler
	Unmarshaler
}
