package decoder

import (
	"context"
	"encoding/binary"
	"fmt"
)

// SchemaSource resolves a registry schema id to its schema.
type SchemaSource interface {
	Schema(ctx context.Context, id int) (*Schema, error)
}

type RegistryDecoder struct {
	source SchemaSource
}

func NewRegistryDecoder(source SchemaSource) *RegistryDecoder {
	return &RegistryDecoder{source: source}
}

// Decode reads exactly one record from a registry-framed payload.
func (d *RegistryDecoder) Decode(ctx context.Context, payload []byte) (*DecodedBatch, error) {
	if len(payload) < registryHeaderLen || payload[0] != MagicByte {
		return nil, fmt.Errorf("%w: missing registry header", ErrDecode)
	}

	id := int(binary.BigEndian.Uint32(payload[1:registryHeaderLen]))

	schema, err := d.source.Schema(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving schema id %d: %v", ErrDecode, id, err)
	}

	datum, rest, err := schema.Codec().NativeFromBinary(payload[registryHeaderLen:])
	if err != nil {
		return nil, fmt.Errorf("%w: schema id %d: %v", ErrDecode, id, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after record", ErrDecode, len(rest))
	}

	rec, ok := datum.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: schema id %d is not a record", ErrDecode, id)
	}

	return &DecodedBatch{Schema: schema, Records: []Record{rec}}, nil
}
