package ingest

import (
	"context"
	"fmt"

	"rivulet/internal/decoder"
	"rivulet/pkg/models"
)

// Serializer turns an event into the log payload the sink decodes.
type Serializer interface {
	Serialize(e models.Event) ([]byte, error)
	Format() decoder.Format
}

// ContainerSerializer writes each event as a one-record Avro object
// container carrying its own schema.
type ContainerSerializer struct {
	schema *decoder.Schema
}

func NewContainerSerializer() (*ContainerSerializer, error) {
	schema, err := decoder.ParseSchema(models.EventSchema)
	if err != nil {
		return nil, err
	}
	return &ContainerSerializer{schema: schema}, nil
}

func (s *ContainerSerializer) Serialize(e models.Event) ([]byte, error) {
	return decoder.EncodeContainer(s.schema, []decoder.Record{e.Native()})
}

func (s *ContainerSerializer) Format() decoder.Format {
	return decoder.FormatContainer
}

type Registrar interface {
	Register(ctx context.Context, subject, schema string) (int, error)
}

// RegistrySerializer frames the Avro binary body with the registry header.
// The event schema is registered once at construction.
type RegistrySerializer struct {
	schemaID uint32
	schema   *decoder.Schema
}

func NewRegistrySerializer(ctx context.Context, registrar Registrar, subject string) (*RegistrySerializer, error) {
	schema, err := decoder.ParseSchema(models.EventSchema)
	if err != nil {
		return nil, err
	}

	id, err := registrar.Register(ctx, subject, models.EventSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to register event schema: %w", err)
	}
	if id < 0 {
		return nil, fmt.Errorf("registry returned invalid schema id %d", id)
	}

	return &RegistrySerializer{schemaID: uint32(id), schema: schema}, nil
}

func (s *RegistrySerializer) Serialize(e models.Event) ([]byte, error) {
	body, err := s.schema.Codec().BinaryFromNative(nil, e.Native())
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return decoder.FrameRegistry(s.schemaID, body), nil
}

func (s *RegistrySerializer) Format() decoder.Format {
	return decoder.FormatRegistry
}
