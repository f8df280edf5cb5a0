package decoder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"rivulet/pkg/metrics"
)

var ErrDecode = errors.New("payload decode failed")

// MagicByte leads every registry-framed payload, followed by a big-endian
// uint32 schema id.
const (
	MagicByte         byte = 0x00
	registryHeaderLen      = 5
)

// Record is the goavro native form of one Avro record.
type Record = map[string]interface{}

// DecodedBatch is schema-homogeneous: every record shares Schema.
type DecodedBatch struct {
	Schema  *Schema
	Records []Record
}

func (b *DecodedBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

func (b *DecodedBatch) IsEmpty() bool {
	return b.Len() == 0
}

type Format int

const (
	FormatContainer Format = iota
	FormatRegistry
)

func (f Format) String() string {
	switch f {
	case FormatRegistry:
		return "registry"
	default:
		return "container"
	}
}

// Select inspects at most the first byte and the length; it never reads
// further into the payload.
func Select(payload []byte) Format {
	if len(payload) >= registryHeaderLen && payload[0] == MagicByte {
		return FormatRegistry
	}
	return FormatContainer
}

type Decoder interface {
	Decode(ctx context.Context, payload []byte) (*DecodedBatch, error)
}

// Composite routes each payload to the container or registry decoder by
// Select. A nil SchemaSource leaves the registry path unconfigured.
type Composite struct {
	container *ContainerDecoder
	registry  *RegistryDecoder
}

func NewComposite(source SchemaSource) *Composite {
	c := &Composite{container: NewContainerDecoder()}
	if source != nil {
		c.registry = NewRegistryDecoder(source)
	}
	return c
}

func (c *Composite) Decode(ctx context.Context, payload []byte) (*DecodedBatch, error) {
	format := Select(payload)

	var (
		batch *DecodedBatch
		err   error
	)
	switch format {
	case FormatRegistry:
		if c.registry == nil {
			err = fmt.Errorf("%w: schema registry not configured", ErrDecode)
			break
		}
		batch, err = c.registry.Decode(ctx, payload)
	default:
		batch, err = c.container.Decode(ctx, payload)
	}

	if err != nil {
		metrics.IncDecodeError(format.String())
		return nil, err
	}
	return batch, nil
}

// FrameRegistry prefixes an Avro binary body with the registry header.
func FrameRegistry(schemaID uint32, body []byte) []byte {
	framed := make([]byte, registryHeaderLen, registryHeaderLen+len(body))
	framed[0] = MagicByte
	binary.BigEndian.PutUint32(framed[1:registryHeaderLen], schemaID)
	return append(framed, body...)
}
