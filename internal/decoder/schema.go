package decoder

import (
	"encoding/json"
	"fmt"

	"github.com/linkedin/goavro/v2"
)

// Schema is the handle a DecodedBatch carries. Two handles are the same
// schema when their canonical forms match, regardless of which payload
// produced them.
type Schema struct {
	codec     *goavro.Codec
	name      string
	canonical string
}

func NewSchema(codec *goavro.Codec) (*Schema, error) {
	if codec == nil {
		return nil, fmt.Errorf("%w: nil codec", ErrDecode)
	}

	canonical := codec.CanonicalSchema()

	var head struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(canonical), &head); err != nil {
		// primitive schemas canonicalize to a bare JSON string
		head.Type = canonical
	}

	name := head.Name
	if name == "" {
		name = head.Type
	}

	return &Schema{
		codec:     codec,
		name:      name,
		canonical: canonical,
	}, nil
}

func ParseSchema(spec string) (*Schema, error) {
	codec, err := goavro.NewCodec(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse avro schema: %w", err)
	}
	return NewSchema(codec)
}

// Name is the fully qualified record name, e.g. com.example.events.Event.
func (s *Schema) Name() string {
	return s.name
}

func (s *Schema) Codec() *goavro.Codec {
	return s.codec
}

// JSON returns the schema as originally declared.
func (s *Schema) JSON() string {
	return s.codec.Schema()
}

func (s *Schema) Canonical() string {
	return s.canonical
}

func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.canonical == other.canonical
}
