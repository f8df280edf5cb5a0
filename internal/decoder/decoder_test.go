package decoder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "record",
  "name": "Item",
  "namespace": "com.example.test",
  "fields": [
    {"name": "id", "type": "int"},
    {"name": "payload", "type": "string"}
  ]
}`

type fakeSource struct {
	schemas map[int]*Schema
	calls   int
}

func (f *fakeSource) Schema(_ context.Context, id int) (*Schema, error) {
	f.calls++
	s, ok := f.schemas[id]
	if !ok {
		return nil, errors.New("schema not found")
	}
	return s, nil
}

func mustSchema(t *testing.T, spec string) *Schema {
	t.Helper()
	s, err := ParseSchema(spec)
	require.NoError(t, err)
	return s
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    Format
	}{
		{name: "registry frame", payload: []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x02}, want: FormatRegistry},
		{name: "registry header only", payload: []byte{0x00, 0x00, 0x00, 0x00, 0x01}, want: FormatRegistry},
		{name: "too short", payload: []byte{0x00, 0x00, 0x00, 0x01}, want: FormatContainer},
		{name: "nonzero lead", payload: []byte{'O', 'b', 'j', 0x01, 0x00}, want: FormatContainer},
		{name: "empty", payload: nil, want: FormatContainer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.payload))
		})
	}
}

func TestContainerDecoder_RoundTrip(t *testing.T) {
	schema := mustSchema(t, testSchema)
	payload, err := EncodeContainer(schema, []Record{
		{"id": int32(1), "payload": "a"},
		{"id": int32(2), "payload": "b"},
	})
	require.NoError(t, err)

	batch, err := NewComposite(nil).Decode(context.Background(), payload)
	require.NoError(t, err)

	require.Equal(t, 2, batch.Len())
	assert.Equal(t, "com.example.test.Item", batch.Schema.Name())
	assert.True(t, batch.Schema.Equal(schema))
	assert.Equal(t, int32(1), batch.Records[0]["id"])
	assert.Equal(t, "a", batch.Records[0]["payload"])
	assert.Equal(t, int32(2), batch.Records[1]["id"])
	assert.Equal(t, "b", batch.Records[1]["payload"])
}

func TestContainerDecoder_Failures(t *testing.T) {
	schema := mustSchema(t, testSchema)
	empty, err := EncodeContainer(schema, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty payload", payload: nil},
		{name: "garbage", payload: []byte("not an avro container")},
		{name: "zero records", payload: empty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewContainerDecoder().Decode(context.Background(), tt.payload)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestRegistryDecoder(t *testing.T) {
	schema := mustSchema(t, testSchema)
	source := &fakeSource{schemas: map[int]*Schema{7: schema}}

	body, err := schema.Codec().BinaryFromNative(nil, map[string]interface{}{"id": int32(9), "payload": "z"})
	require.NoError(t, err)

	batch, err := NewComposite(source).Decode(context.Background(), FrameRegistry(7, body))
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, "z", batch.Records[0]["payload"])
	assert.Equal(t, 1, source.calls)

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := NewRegistryDecoder(source).Decode(context.Background(), append(FrameRegistry(7, body), 0x01))
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("unknown schema id", func(t *testing.T) {
		_, err := NewRegistryDecoder(source).Decode(context.Background(), FrameRegistry(8, body))
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("registry not configured", func(t *testing.T) {
		_, err := NewComposite(nil).Decode(context.Background(), FrameRegistry(7, body))
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func TestDecodeFailureDoesNotPoisonNextPayload(t *testing.T) {
	schema := mustSchema(t, testSchema)
	good, err := EncodeContainer(schema, []Record{{"id": int32(1), "payload": "a"}})
	require.NoError(t, err)

	d := NewComposite(nil)
	_, err = d.Decode(context.Background(), []byte("junk"))
	require.Error(t, err)

	batch, err := d.Decode(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Len())
}

func TestSchema_Equal(t *testing.T) {
	a := mustSchema(t, testSchema)
	b := mustSchema(t, `{"type":"record","name":"Item","namespace":"com.example.test","fields":[{"name":"id","type":"int"},{"name":"payload","type":"string"}]}`)
	c := mustSchema(t, `{"type":"record","name":"Other","fields":[{"name":"id","type":"int"}]}`)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	assert.Equal(t, "Other", c.Name())
}
