package value

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	xerrors "github.com/kiara-project/kiara-go/pkg/errors"
)

var (
	ErrUnknownValue   = errors.New("unknown value")
	ErrSchemaMismatch = errors.New("payload does not satisfy schema")
)

// Registry is the in-memory, content-addressed graph of live values
// (spec.md §4.C). It deduplicates by value hash and guarantees a
// value's id is stable for the lifetime of the process.
//
// Guarded by a read-many/write-rare lock (spec.md §5): lookups take
// the read path, RegisterValue takes the write path only long enough
// to insert (encoding/hashing happen outside the lock).
type Registry struct {
	types *datatype.Registry

	mu        sync.RWMutex
	byID      map[uuid.UUID]*Value
	byHash    map[encoding.Hash]*Value
}

func NewRegistry(types *datatype.Registry) *Registry {
	return &Registry{
		types:  types,
		byID:   map[uuid.UUID]*Value{},
		byHash: map[encoding.Hash]*Value{},
	}
}

// RegisterValue computes the schema hash, canonically encodes the
// payload via the declared type's encoder, computes the value hash,
// and either returns the pre-existing value for that hash or inserts
// a new one (spec.md §4.C, property 2: value deduplication).
func (r *Registry) RegisterValue(schema Schema, payload any, origin Origin) (*Value, error) {
	dt, err := r.types.MustGet(schema.Type)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}

	if payload != nil {
		if err := dt.Validate(payload); err != nil {
			return nil, xerrors.Wrap(fmt.Errorf("%w: %s", ErrSchemaMismatch, err.Error()))
		}
	}

	schemaHash, err := schema.Hash()
	if err != nil {
		return nil, xerrors.Wrap(err)
	}

	var payloadBytes []byte
	if payload != nil {
		payloadBytes, err = dt.Encode(payload)
		if err != nil {
			return nil, xerrors.Wrap(err)
		}
	}

	valueHash := encoding.HashOf(append(append([]byte{}, []byte(schemaHash)...), payloadBytes...))

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byHash[valueHash]; ok {
		return existing, nil
	}

	status := StatusSet
	if payload == nil {
		status = StatusNotSet
	}

	var metadata map[string]any
	if payload != nil {
		metadata = extractMetadata(dt, payload)
	}

	v := &Value{
		ID:         uuid.New(),
		Schema:     schema,
		SchemaHash: schemaHash,
		Hash:       valueHash,
		Size:       int64(len(payloadBytes)),
		TypeConfig: schema.TypeConfig,
		Origin:     origin,
		Metadata:   metadata,
		Status:     status,
		payload:    payload,
	}
	r.byID[v.ID] = v
	r.byHash[valueHash] = v
	return v, nil
}

// RegisterFromWire rehydrates a value.WireRecord loaded from an
// archive back into a live *Value, decoding its payload through the
// declared data type. Re-encoding a decoded payload is deterministic,
// so the recomputed hash is expected to match wire.ValueHash; a
// mismatch means the archive record itself is corrupt.
func (r *Registry) RegisterFromWire(wire WireRecord) (*Value, error) {
	dt, err := r.types.MustGet(wire.Schema.Type)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	payload, err := dt.Decode(wire.PayloadBytes)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	v, err := r.RegisterValue(wire.Schema, payload, wire.Origin)
	if err != nil {
		return nil, err
	}
	if v.Hash != wire.ValueHash {
		return nil, fmt.Errorf("%w: rehydrated hash %s does not match wire hash %s", ErrUnknownValue, v.Hash, wire.ValueHash)
	}
	return v, nil
}

// extractMetadata runs every property extractor dt declares against
// payload, giving component B's Extractors() hook a real caller: every
// value produced through RegisterValue carries its type's recorded
// metadata (e.g. a table value's num_rows) without each module having
// to know about metadata at all. A single extractor failing is not
// fatal to registration; it just leaves that key absent.
func extractMetadata(dt datatype.DataType, payload any) map[string]any {
	extractors := dt.Extractors()
	if len(extractors) == 0 {
		return nil
	}
	out := make(map[string]any, len(extractors))
	for name, extract := range extractors {
		if extracted, err := extract(payload); err == nil {
			out[name] = extracted
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (r *Registry) Get(id uuid.UUID) (*Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValue, id)
	}
	return v, nil
}

func (r *Registry) GetByHash(h encoding.Hash) (*Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byHash[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValue, h)
	}
	return v, nil
}

// AliasResolver is satisfied by an alias archive/store so Resolve can
// dereference "alias:NAME" references without value importing archive.
type AliasResolver interface {
	LookupAlias(name string) (uuid.UUID, bool, error)
}

// Resolve accepts a literal value-id, an "alias:NAME" reference
// resolved through aliases, or falls through to ErrUnknownValue.
// Inline literals typed by schema are the caller's responsibility to
// register first and pass the resulting id.
func (r *Registry) Resolve(ref string, aliases AliasResolver) (*Value, error) {
	if rest, ok := strings.CutPrefix(ref, "alias:"); ok {
		if aliases == nil {
			return nil, fmt.Errorf("%w: no alias resolver bound", ErrUnknownValue)
		}
		id, ok, err := aliases.LookupAlias(rest)
		if err != nil {
			return nil, xerrors.Wrap(err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: alias %q", ErrUnknownValue, rest)
		}
		return r.Get(id)
	}

	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is neither a value id nor an alias reference", ErrUnknownValue, ref)
	}
	return r.Get(id)
}
