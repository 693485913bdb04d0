// Package codec is the CBOR encoding used for bus payloads and netbus frames.
package codec

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/ghalamif/thermoflow/internal/domain"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Unix seconds would truncate capture timestamps.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

type (
	Encoder = cbor.Encoder
	Decoder = cbor.Decoder
)

// NewEncoder returns a stream encoder writing self-delimiting CBOR items to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading CBOR items from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// EncodeSample serializes a sample for the telemetry topic.
func EncodeSample(s domain.Sample) ([]byte, error) {
	b, err := Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode sample: %w", err)
	}
	return b, nil
}

// DecodeSample parses a telemetry topic payload.
func DecodeSample(payload []byte) (domain.Sample, error) {
	var s domain.Sample
	if err := Unmarshal(payload, &s); err != nil {
		return domain.Sample{}, fmt.Errorf("decode sample: %w", err)
	}
	if s.SourceID == "" {
		return domain.Sample{}, fmt.Errorf("decode sample: missing sourceId")
	}
	return s, nil
}
