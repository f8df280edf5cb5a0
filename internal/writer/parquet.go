package writer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/xitongsys/parquet-go/parquet"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"rivulet/internal/decoder"
)

const planCacheSize = 64

type columnKind int

const (
	kindString columnKind = iota
	kindInt32
	kindInt64
	kindFloat
	kindDouble
	kindBoolean
	kindBytes
	kindJSON
	kindRecord
)

// column is one Avro field mapped onto a Parquet column or group.
type column struct {
	name     string
	kind     columnKind
	logical  string
	optional bool
	union    bool
	children []*column
}

type plan struct {
	schemaJSON string
	columns    []*column
}

// ParquetConverter writes decoded batches as snappy-compressed Parquet.
// Column layouts are derived once per distinct schema.
type ParquetConverter struct {
	plans       *lru.Cache
	parallelism int64
}

func NewParquetConverter() (*ParquetConverter, error) {
	cache, err := lru.New(planCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}
	return &ParquetConverter{plans: cache, parallelism: 4}, nil
}

func (c *ParquetConverter) Write(batch *decoder.DecodedBatch, w io.Writer) error {
	p, err := c.planFor(batch.Schema)
	if err != nil {
		return err
	}

	pw, err := pqwriter.NewJSONWriterFromWriter(p.schemaJSON, w, c.parallelism)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, rec := range batch.Records {
		row, err := json.Marshal(p.row(rec))
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		if err := pw.Write(string(row)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}

func (c *ParquetConverter) planFor(schema *decoder.Schema) (*plan, error) {
	if cached, ok := c.plans.Get(schema.Canonical()); ok {
		return cached.(*plan), nil
	}

	p, err := buildPlan(schema.JSON())
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", schema.Name(), err)
	}
	c.plans.Add(schema.Canonical(), p)
	return p, nil
}

func buildPlan(avroSchema string) (*plan, error) {
	var root interface{}
	if err := json.Unmarshal([]byte(avroSchema), &root); err != nil {
		return nil, fmt.Errorf("invalid avro schema json: %w", err)
	}

	b := &planBuilder{named: make(map[string]interface{})}
	top, ok := root.(map[string]interface{})
	if !ok || top["type"] != "record" {
		return nil, fmt.Errorf("top-level avro schema must be a record")
	}
	b.register(top, "")

	columns, err := b.fields(top, namespaceOf(top, ""))
	if err != nil {
		return nil, err
	}

	item := map[string]interface{}{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": schemaItems(columns),
	}
	out, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	return &plan{schemaJSON: string(out), columns: columns}, nil
}

type planBuilder struct {
	named map[string]interface{}
}

func namespaceOf(def map[string]interface{}, enclosing string) string {
	if ns, ok := def["namespace"].(string); ok && ns != "" {
		return ns
	}
	return enclosing
}

func fullName(name, namespace string) string {
	if strings.Contains(name, ".") || namespace == "" {
		return name
	}
	return namespace + "." + name
}

func (b *planBuilder) register(def map[string]interface{}, enclosing string) {
	name, _ := def["name"].(string)
	if name == "" {
		return
	}
	full := fullName(name, namespaceOf(def, enclosing))
	b.named[full] = def
	b.named[name] = def
}

func (b *planBuilder) fields(record map[string]interface{}, namespace string) ([]*column, error) {
	raw, _ := record["fields"].([]interface{})
	columns := make([]*column, 0, len(raw))
	for _, f := range raw {
		field, ok := f.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("malformed record field")
		}
		name, _ := field["name"].(string)
		col, err := b.column(name, field["type"], namespace)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func (b *planBuilder) column(name string, typ interface{}, namespace string) (*column, error) {
	switch t := typ.(type) {
	case []interface{}:
		return b.unionColumn(name, t, namespace)
	case string:
		if def, ok := b.named[fullName(t, namespace)]; ok {
			return b.column(name, def, namespace)
		}
		if def, ok := b.named[t]; ok {
			return b.column(name, def, namespace)
		}
		return primitiveColumn(name, t, "")
	case map[string]interface{}:
		kind, _ := t["type"].(string)
		logical, _ := t["logicalType"].(string)
		switch kind {
		case "record":
			b.register(t, namespace)
			children, err := b.fields(t, namespaceOf(t, namespace))
			if err != nil {
				return nil, err
			}
			return &column{name: name, kind: kindRecord, children: children}, nil
		case "enum":
			b.register(t, namespace)
			return &column{name: name, kind: kindString}, nil
		case "fixed":
			b.register(t, namespace)
			return &column{name: name, kind: kindBytes, logical: logical}, nil
		case "array", "map":
			return &column{name: name, kind: kindJSON}, nil
		default:
			return primitiveColumn(name, kind, logical)
		}
	default:
		return nil, fmt.Errorf("unsupported avro type %v", typ)
	}
}

// unionColumn maps ["null", T] to an optional T and anything wider to a
// JSON string.
func (b *planBuilder) unionColumn(name string, branches []interface{}, namespace string) (*column, error) {
	var nonNull []interface{}
	hasNull := false
	for _, br := range branches {
		if br == "null" {
			hasNull = true
			continue
		}
		nonNull = append(nonNull, br)
	}

	if hasNull && len(nonNull) == 1 {
		col, err := b.column(name, nonNull[0], namespace)
		if err != nil {
			return nil, err
		}
		col.optional = true
		col.union = true
		return col, nil
	}
	return &column{name: name, kind: kindJSON, optional: hasNull, union: true}, nil
}

func primitiveColumn(name, avroType, logical string) (*column, error) {
	col := &column{name: name, logical: logical}
	switch avroType {
	case "string":
		col.kind = kindString
	case "int":
		col.kind = kindInt32
	case "long":
		col.kind = kindInt64
	case "float":
		col.kind = kindFloat
	case "double":
		col.kind = kindDouble
	case "boolean":
		col.kind = kindBoolean
	case "bytes":
		col.kind = kindBytes
	case "null":
		col.kind = kindString
		col.optional = true
	default:
		return nil, fmt.Errorf("unknown avro type %q", avroType)
	}
	return col, nil
}

func (c *column) tag() string {
	parts := []string{"name=" + c.name}
	switch c.kind {
	case kindString, kindJSON, kindBytes:
		parts = append(parts, "type=BYTE_ARRAY", "convertedtype=UTF8")
	case kindInt32:
		parts = append(parts, "type=INT32")
		if c.logical == "date" {
			parts = append(parts, "convertedtype=DATE")
		}
	case kindInt64:
		parts = append(parts, "type=INT64")
		switch c.logical {
		case "timestamp-millis":
			parts = append(parts, "convertedtype=TIMESTAMP_MILLIS")
		case "timestamp-micros":
			parts = append(parts, "convertedtype=TIMESTAMP_MICROS")
		}
	case kindFloat:
		parts = append(parts, "type=FLOAT")
	case kindDouble:
		parts = append(parts, "type=DOUBLE")
	case kindBoolean:
		parts = append(parts, "type=BOOLEAN")
	}

	if c.optional {
		parts = append(parts, "repetitiontype=OPTIONAL")
	} else {
		parts = append(parts, "repetitiontype=REQUIRED")
	}
	return strings.Join(parts, ", ")
}

func schemaItems(columns []*column) []interface{} {
	items := make([]interface{}, 0, len(columns))
	for _, col := range columns {
		item := map[string]interface{}{"Tag": col.tag()}
		if col.kind == kindRecord {
			item["Fields"] = schemaItems(col.children)
		}
		items = append(items, item)
	}
	return items
}

func (p *plan) row(rec decoder.Record) map[string]interface{} {
	return rowOf(p.columns, rec)
}

func rowOf(columns []*column, rec map[string]interface{}) map[string]interface{} {
	row := make(map[string]interface{}, len(columns))
	for _, col := range columns {
		row[col.name] = col.value(rec[col.name])
	}
	return row
}

func (c *column) value(v interface{}) interface{} {
	if v == nil {
		return nil
	}

	// goavro wraps every non-null union value as {branch: value}
	if c.union && c.kind != kindJSON {
		if wrapped, ok := v.(map[string]interface{}); ok && len(wrapped) == 1 {
			for _, inner := range wrapped {
				v = inner
			}
		}
		if v == nil {
			return nil
		}
	}

	switch c.kind {
	case kindRecord:
		nested, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		return rowOf(c.children, nested)
	case kindBytes:
		switch b := v.(type) {
		case []byte:
			return base64.StdEncoding.EncodeToString(b)
		default:
			return fmt.Sprint(b)
		}
	case kindJSON:
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(out)
	case kindInt32:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Unix() / int64(24*time.Hour/time.Second)
		}
		if d, ok := v.(time.Duration); ok {
			return d.Milliseconds()
		}
		return v
	case kindInt64:
		switch t := v.(type) {
		case time.Time:
			if c.logical == "timestamp-micros" {
				return t.UnixMicro()
			}
			return t.UnixMilli()
		case time.Duration:
			return t.Microseconds()
		}
		return v
	default:
		return v
	}
}
