package decoder

import (
	"bytes"
	"context"
	"fmt"

	"github.com/linkedin/goavro/v2"
)

// ContainerDecoder reads Avro object container payloads, which carry their
// own schema in the header.
type ContainerDecoder struct{}

func NewContainerDecoder() *ContainerDecoder {
	return &ContainerDecoder{}
}

func (d *ContainerDecoder) Decode(_ context.Context, payload []byte) (*DecodedBatch, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	ocfr, err := goavro.NewOCFReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid container header: %v", ErrDecode, err)
	}

	schema, err := NewSchema(ocfr.Codec())
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0)
	for ocfr.Scan() {
		datum, err := ocfr.Read()
		if err != nil {
			return nil, fmt.Errorf("%w: reading container record: %v", ErrDecode, err)
		}
		rec, ok := datum.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: container schema %s is not a record", ErrDecode, schema.Name())
		}
		records = append(records, rec)
	}
	if err := ocfr.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading container block: %v", ErrDecode, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: payload contained no records", ErrDecode)
	}

	return &DecodedBatch{Schema: schema, Records: records}, nil
}

// EncodeContainer writes records as a single-block Avro object container.
func EncodeContainer(schema *Schema, records []Record) ([]byte, error) {
	var buf bytes.Buffer
	ocfw, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     &buf,
		Codec: schema.Codec(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create container writer: %w", err)
	}

	if len(records) == 0 {
		return buf.Bytes(), nil
	}

	data := make([]interface{}, len(records))
	for i, rec := range records {
		data[i] = rec
	}
	if err := ocfw.Append(data); err != nil {
		return nil, fmt.Errorf("failed to append container records: %w", err)
	}

	return buf.Bytes(), nil
}
