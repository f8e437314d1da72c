package models

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/embedpop/embedpop/internal/codec"
)

// SurrealDB custom CBOR tags.
const (
	TagNone           uint64 = 6
	TagTable          uint64 = 7
	TagRecordID       uint64 = 8
	TagCustomDatetime uint64 = 12
)

// Table is a SurrealDB table name, CBOR tag 7.
type Table string

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	tags := cbor.NewTagSet()
	customTags := map[uint64]any{
		TagTable:    Table(""),
		TagRecordID: RecordID{},
	}
	for tag, customType := range customTags {
		err := tags.Add(
			cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired},
			reflect.TypeOf(customType),
			tag,
		)
		if err != nil {
			panic(err)
		}
	}

	var err error
	encMode, err = cbor.EncOptions{
		Time:    cbor.TimeRFC3339,
		TimeTag: cbor.EncTagRequired,
	}.EncModeWithTags(tags)
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
		TimeTagToAny:   cbor.TimeTagToTime,
	}.DecModeWithTags(tags)
	if err != nil {
		panic(err)
	}
}

// CborCodec is the wire codec of the SurrealDB RPC protocol.
// Maps decode as map[string]any, integers as int64 and record ids as RecordID.
type CborCodec struct{}

var _ codec.Codec = CborCodec{}

func (CborCodec) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (CborCodec) NewEncoder(w io.Writer) codec.Encoder {
	return encMode.NewEncoder(w)
}

func (CborCodec) Unmarshal(data []byte, dst any) error {
	return decMode.Unmarshal(data, dst)
}

func (CborCodec) NewDecoder(r io.Reader) codec.Decoder {
	return decMode.NewDecoder(r)
}
