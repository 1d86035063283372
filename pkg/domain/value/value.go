package value

import (
	"github.com/google/uuid"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
)

// Status is the tagged-variant lifecycle state of a value
// (spec.md §3).
type Status string

const (
	StatusSet     Status = "set"
	StatusNotSet  Status = "not_set"
	StatusDefault Status = "default"
	StatusNone    Status = "none"
)

// Value is an immutable, content-addressed value (spec.md §3). It is
// only ever constructed by Registry.RegisterValue; once created, its
// payload and hash are frozen.
type Value struct {
	ID         uuid.UUID      `cbor:"id"`
	Schema     Schema         `cbor:"schema"`
	SchemaHash encoding.Hash  `cbor:"schema_hash"`
	Hash       encoding.Hash  `cbor:"value_hash"`
	Size       int64          `cbor:"size"`
	TypeConfig map[string]any `cbor:"type_config,omitempty"`
	Origin     Origin         `cbor:"origin"`
	Metadata   map[string]any `cbor:"metadata,omitempty"`
	Status     Status         `cbor:"status"`

	// payload is kept only in memory; persistence goes through the
	// data type's Encode/Decode via the bound archive/store, not
	// through this struct directly.
	payload any
}

func (v *Value) Payload() any { return v.payload }

func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == nil && other == nil
	}
	return v.ID == other.ID && v.Hash == other.Hash && v.Schema.Equal(other.Schema)
}

// WireRecord is the persisted shape of spec.md §6: "Wire format for
// persisted values".
type WireRecord struct {
	Schema        Schema        `cbor:"schema"`
	DataTypeConfig map[string]any `cbor:"data_type_config,omitempty"`
	PayloadBytes  []byte        `cbor:"payload_bytes"`
	Size          int64         `cbor:"size"`
	ValueHash     encoding.Hash `cbor:"value_hash"`
	Origin        Origin        `cbor:"origin"`
}

func (v *Value) ToWireRecord(payloadBytes []byte) WireRecord {
	return WireRecord{
		Schema:         v.Schema,
		DataTypeConfig: v.TypeConfig,
		PayloadBytes:   payloadBytes,
		Size:           v.Size,
		ValueHash:      v.Hash,
		Origin:         v.Origin,
	}
}
