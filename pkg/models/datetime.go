package models

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const oneSecondToNanoSecond = int64(time.Second)

// CustomDateTime is a time.Time that travels as SurrealDB's compact datetime,
// CBOR tag 12 over [seconds, nanoseconds].
type CustomDateTime struct {
	time.Time
}

func (d CustomDateTime) MarshalCBOR() ([]byte, error) {
	if d.IsZero() {
		return cbor.Marshal(cbor.Tag{Number: TagNone})
	}

	totalNS := d.UnixNano()

	return cbor.Marshal(cbor.Tag{
		Number:  TagCustomDatetime,
		Content: [2]int64{totalNS / oneSecondToNanoSecond, totalNS % oneSecondToNanoSecond},
	})
}

func (d *CustomDateTime) UnmarshalCBOR(data []byte) error {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}

	if tag.Number == TagNone {
		*d = CustomDateTime{}
		return nil
	}

	if tag.Number != TagCustomDatetime {
		return fmt.Errorf("unexpected tag number: got %d, want %d", tag.Number, TagCustomDatetime)
	}

	var temp [2]int64
	if err := cbor.Unmarshal(tag.Content, &temp); err != nil {
		return err
	}

	*d = CustomDateTime{time.Unix(temp[0], temp[1]).UTC()}
	return nil
}

func (d CustomDateTime) IsZero() bool {
	return d.Time.IsZero()
}

func (d CustomDateTime) String() string {
	return d.UTC().Format(time.RFC3339Nano)
}

// DateTimeFromTag converts the content of a decoded tag 12 into a time.
func DateTimeFromTag(content any) (time.Time, error) {
	parts, ok := content.([]any)
	if !ok || len(parts) == 0 || len(parts) > 2 {
		return time.Time{}, fmt.Errorf("invalid datetime content %v", content)
	}
	var secs, nanos int64
	for i, p := range parts {
		n, ok := toInt64(p)
		if !ok {
			return time.Time{}, fmt.Errorf("invalid datetime component %v", p)
		}
		if i == 0 {
			secs = n
		} else {
			nanos = n
		}
	}
	return time.Unix(secs, nanos).UTC(), nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true //nolint:gosec // seconds fit
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
