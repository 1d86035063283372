package datatype

import (
	"fmt"
	"sort"

	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
)

// NoneType is the unit type: its only valid payload is nil.
type NoneType struct{}

func (NoneType) Name() string    { return "none" }
func (NoneType) Version() string { return "1" }
func (NoneType) Accepts(p any) bool {
	return p == nil
}
func (t NoneType) Validate(p any) error {
	if p != nil {
		return NewErrTypeValidation("none", "expected nil payload")
	}
	return nil
}
func (NoneType) Encode(p any) ([]byte, error) { return encoding.CanonicalEncode(nil) }
func (NoneType) Decode(b []byte) (any, error) { return nil, nil }
func (NoneType) EqualPayload(a, b any) bool   { return a == nil && b == nil }
func (NoneType) Extractors() map[string]PropertyExtractor {
	return nil
}
func (NoneType) Subtypes() []string { return nil }

// AnyType accepts any canonically-encodable payload. It is the
// dispatch-compatible supertype most container types declare
// themselves a Subtype of.
type AnyType struct{}

func (AnyType) Name() string       { return "any" }
func (AnyType) Version() string    { return "1" }
func (AnyType) Accepts(p any) bool { return true }
func (AnyType) Validate(p any) error {
	return nil
}
func (AnyType) Encode(p any) ([]byte, error) { return encoding.CanonicalEncode(p) }
func (AnyType) Decode(b []byte) (any, error) {
	var v any
	if err := encoding.CanonicalDecode(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
func (AnyType) EqualPayload(a, b any) bool {
	ea, _ := encoding.CanonicalEncode(a)
	eb, _ := encoding.CanonicalEncode(b)
	return string(ea) == string(eb)
}
func (AnyType) Extractors() map[string]PropertyExtractor { return nil }
func (AnyType) Subtypes() []string                        { return nil }

// BytesType holds an opaque binary blob with a well-defined canonical
// encoding (unlike OpaqueType, which has none).
type BytesType struct{}

func (BytesType) Name() string    { return "bytes" }
func (BytesType) Version() string { return "1" }
func (BytesType) Accepts(p any) bool {
	_, ok := p.([]byte)
	return ok
}
func (t BytesType) Validate(p any) error {
	if !t.Accepts(p) {
		return NewErrTypeValidation("bytes", "expected []byte")
	}
	return nil
}
func (t BytesType) Encode(p any) ([]byte, error) {
	b, ok := p.([]byte)
	if !ok {
		return nil, NewErrTypeValidation("bytes", "expected []byte")
	}
	return encoding.CanonicalEncode(b)
}
func (BytesType) Decode(b []byte) (any, error) {
	var out []byte
	if err := encoding.CanonicalDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (BytesType) EqualPayload(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if !aok || !bok {
		return false
	}
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}
func (BytesType) Extractors() map[string]PropertyExtractor {
	return map[string]PropertyExtractor{
		"size": func(payload any) (any, error) {
			b, ok := payload.([]byte)
			if !ok {
				return nil, NewErrTypeValidation("bytes", "expected []byte")
			}
			return len(b), nil
		},
	}
}
func (BytesType) Subtypes() []string { return []string{"any"} }

// StringType holds text.
type StringType struct{}

func (StringType) Name() string    { return "string" }
func (StringType) Version() string { return "1" }
func (StringType) Accepts(p any) bool {
	_, ok := p.(string)
	return ok
}
func (t StringType) Validate(p any) error {
	if !t.Accepts(p) {
		return NewErrTypeValidation("string", "expected string")
	}
	return nil
}
func (t StringType) Encode(p any) ([]byte, error) {
	s, ok := p.(string)
	if !ok {
		return nil, NewErrTypeValidation("string", "expected string")
	}
	return encoding.CanonicalEncode(s)
}
func (StringType) Decode(b []byte) (any, error) {
	var out string
	if err := encoding.CanonicalDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (StringType) EqualPayload(a, b any) bool {
	sa, aok := a.(string)
	sb, bok := b.(string)
	return aok && bok && sa == sb
}
func (StringType) Extractors() map[string]PropertyExtractor {
	return map[string]PropertyExtractor{
		"length": func(payload any) (any, error) {
			s, ok := payload.(string)
			if !ok {
				return nil, NewErrTypeValidation("string", "expected string")
			}
			return len(s), nil
		},
	}
}
func (StringType) Subtypes() []string { return []string{"any"} }

// BooleanType holds a bool.
type BooleanType struct{}

func (BooleanType) Name() string    { return "boolean" }
func (BooleanType) Version() string { return "1" }
func (BooleanType) Accepts(p any) bool {
	_, ok := p.(bool)
	return ok
}
func (t BooleanType) Validate(p any) error {
	if !t.Accepts(p) {
		return NewErrTypeValidation("boolean", "expected bool")
	}
	return nil
}
func (t BooleanType) Encode(p any) ([]byte, error) {
	v, ok := p.(bool)
	if !ok {
		return nil, NewErrTypeValidation("boolean", "expected bool")
	}
	return encoding.CanonicalEncode(v)
}
func (BooleanType) Decode(b []byte) (any, error) {
	var out bool
	if err := encoding.CanonicalDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (BooleanType) EqualPayload(a, b any) bool {
	ba, aok := a.(bool)
	bb, bok := b.(bool)
	return aok && bok && ba == bb
}
func (BooleanType) Extractors() map[string]PropertyExtractor { return nil }
func (BooleanType) Subtypes() []string                        { return []string{"any"} }

// DictType holds a string-keyed map. Its per-instance configuration may
// declare the inner value type for dispatch/validation purposes.
type DictType struct{}

func (DictType) Name() string    { return "dict" }
func (DictType) Version() string { return "1" }
func (DictType) Accepts(p any) bool {
	_, ok := p.(map[string]any)
	return ok
}
func (t DictType) Validate(p any) error {
	if !t.Accepts(p) {
		return NewErrTypeValidation("dict", "expected map[string]any")
	}
	return nil
}
func (t DictType) Encode(p any) ([]byte, error) {
	m, ok := p.(map[string]any)
	if !ok {
		return nil, NewErrTypeValidation("dict", "expected map[string]any")
	}
	return encoding.CanonicalEncode(m)
}
func (DictType) Decode(b []byte) (any, error) {
	var out map[string]any
	if err := encoding.CanonicalDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (DictType) EqualPayload(a, b any) bool {
	ea, _ := encoding.CanonicalEncode(a)
	eb, _ := encoding.CanonicalEncode(b)
	return string(ea) == string(eb)
}
func (DictType) Extractors() map[string]PropertyExtractor {
	return map[string]PropertyExtractor{
		"keys": func(payload any) (any, error) {
			m, ok := payload.(map[string]any)
			if !ok {
				return nil, NewErrTypeValidation("dict", "expected map[string]any")
			}
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return keys, nil
		},
	}
}
func (DictType) Subtypes() []string { return []string{"any"} }

// FileEntry is the payload shape of FileType: a single file reference
// plus descriptive metadata, never the bytes themselves (those stay
// at Path).
type FileEntry struct {
	Path     string `cbor:"path"`
	FileName string `cbor:"file_name"`
	Size     int64  `cbor:"size"`
	MimeType string `cbor:"mime_type,omitempty"`
}

// FileType holds a reference to a single file on an archive-managed path.
type FileType struct{}

func (FileType) Name() string    { return "file" }
func (FileType) Version() string { return "1" }
func (FileType) Accepts(p any) bool {
	_, ok := p.(FileEntry)
	return ok
}
func (t FileType) Validate(p any) error {
	f, ok := p.(FileEntry)
	if !ok {
		return NewErrTypeValidation("file", "expected FileEntry")
	}
	if f.Path == "" {
		return NewErrTypeValidation("file.path", "must not be empty")
	}
	return nil
}
func (t FileType) Encode(p any) ([]byte, error) {
	f, ok := p.(FileEntry)
	if !ok {
		return nil, NewErrTypeValidation("file", "expected FileEntry")
	}
	return encoding.CanonicalEncode(f)
}
func (FileType) Decode(b []byte) (any, error) {
	var out FileEntry
	if err := encoding.CanonicalDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (FileType) EqualPayload(a, b any) bool {
	fa, aok := a.(FileEntry)
	fb, bok := b.(FileEntry)
	return aok && bok && fa == fb
}
func (FileType) Extractors() map[string]PropertyExtractor {
	return map[string]PropertyExtractor{
		"file_name": func(payload any) (any, error) {
			f, ok := payload.(FileEntry)
			if !ok {
				return nil, NewErrTypeValidation("file", "expected FileEntry")
			}
			return f.FileName, nil
		},
		"size": func(payload any) (any, error) {
			f, ok := payload.(FileEntry)
			if !ok {
				return nil, NewErrTypeValidation("file", "expected FileEntry")
			}
			return f.Size, nil
		},
	}
}
func (FileType) Subtypes() []string { return []string{"any"} }

// FileBundleType holds a set of FileEntry values, e.g. a directory
// import. It dispatch-satisfies both "file_bundle" and "any" queries,
// matching spec.md §4.B's worked example.
type FileBundleType struct{}

func (FileBundleType) Name() string    { return "file_bundle" }
func (FileBundleType) Version() string { return "1" }
func (FileBundleType) Accepts(p any) bool {
	_, ok := p.([]FileEntry)
	return ok
}
func (t FileBundleType) Validate(p any) error {
	if !t.Accepts(p) {
		return NewErrTypeValidation("file_bundle", "expected []FileEntry")
	}
	return nil
}
func (t FileBundleType) Encode(p any) ([]byte, error) {
	fs, ok := p.([]FileEntry)
	if !ok {
		return nil, NewErrTypeValidation("file_bundle", "expected []FileEntry")
	}
	return encoding.CanonicalEncode(fs)
}
func (FileBundleType) Decode(b []byte) (any, error) {
	var out []FileEntry
	if err := encoding.CanonicalDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (FileBundleType) EqualPayload(a, b any) bool {
	fa, aok := a.([]FileEntry)
	fb, bok := b.([]FileEntry)
	if !aok || !bok || len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if fa[i] != fb[i] {
			return false
		}
	}
	return true
}
func (FileBundleType) Extractors() map[string]PropertyExtractor {
	return map[string]PropertyExtractor{
		"count": func(payload any) (any, error) {
			fs, ok := payload.([]FileEntry)
			if !ok {
				return nil, NewErrTypeValidation("file_bundle", "expected []FileEntry")
			}
			return len(fs), nil
		},
	}
}
func (FileBundleType) Subtypes() []string { return []string{"any"} }

// OpaqueType holds any in-memory Go value with no canonical encoding.
// It replaces the original's catch-all "python_object" pickled blob
// (spec.md §9): Encode always fails with ErrOpaqueNotPersistable.
// value.Registry.RegisterValue encodes every non-nil payload, so it
// rejects an opaque payload with that error: an opaque value can be
// registered neither in memory nor in an archive.
type OpaqueType struct{}

func (OpaqueType) Name() string       { return "opaque" }
func (OpaqueType) Version() string    { return "1" }
func (OpaqueType) Accepts(p any) bool { return p != nil }
func (OpaqueType) Validate(p any) error {
	if p == nil {
		return NewErrTypeValidation("opaque", "payload must not be nil")
	}
	return nil
}
func (OpaqueType) Encode(p any) ([]byte, error) {
	return nil, fmt.Errorf("%w: opaque values declare no canonical encoder", ErrOpaqueNotPersistable)
}
func (OpaqueType) Decode(b []byte) (any, error) {
	return nil, fmt.Errorf("%w: opaque values declare no canonical decoder", ErrOpaqueNotPersistable)
}
func (OpaqueType) EqualPayload(a, b any) bool { return a == b }
func (OpaqueType) Extractors() map[string]PropertyExtractor {
	return nil
}
func (OpaqueType) Subtypes() []string { return []string{"any"} }

// Table is the payload shape of TableType: a column-oriented row set,
// grounded on the simple string-grid shape the CSV test fixtures need
// (spec.md §8 S2); richer columnar typing is out of scope.
type Table struct {
	Columns []string   `cbor:"columns"`
	Rows    [][]string `cbor:"rows"`
}

// TableType holds a Table. It has no statically-typed columns: every
// cell is a string, matching what a CSV reader hands back.
type TableType struct{}

func (TableType) Name() string    { return "table" }
func (TableType) Version() string { return "1" }
func (TableType) Accepts(p any) bool {
	_, ok := p.(Table)
	return ok
}
func (t TableType) Validate(p any) error {
	tbl, ok := p.(Table)
	if !ok {
		return NewErrTypeValidation("table", "expected Table")
	}
	for i, row := range tbl.Rows {
		if len(row) != len(tbl.Columns) {
			return NewErrTypeValidation("table.rows", fmt.Sprintf("row %d has %d cells, want %d", i, len(row), len(tbl.Columns)))
		}
	}
	return nil
}
func (t TableType) Encode(p any) ([]byte, error) {
	tbl, ok := p.(Table)
	if !ok {
		return nil, NewErrTypeValidation("table", "expected Table")
	}
	return encoding.CanonicalEncode(tbl)
}
func (TableType) Decode(b []byte) (any, error) {
	var out Table
	if err := encoding.CanonicalDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (TableType) EqualPayload(a, b any) bool {
	ea, _ := encoding.CanonicalEncode(a)
	eb, _ := encoding.CanonicalEncode(b)
	return string(ea) == string(eb)
}
func (TableType) Extractors() map[string]PropertyExtractor {
	return map[string]PropertyExtractor{
		"num_rows": func(payload any) (any, error) {
			tbl, ok := payload.(Table)
			if !ok {
				return nil, NewErrTypeValidation("table", "expected Table")
			}
			return len(tbl.Rows), nil
		},
		"column_names": func(payload any) (any, error) {
			tbl, ok := payload.(Table)
			if !ok {
				return nil, NewErrTypeValidation("table", "expected Table")
			}
			return append([]string(nil), tbl.Columns...), nil
		},
	}
}
func (TableType) Subtypes() []string { return []string{"any"} }

// PipelineStructureType and JobRecordType are engine-internal model
// types (spec.md §4.B "engine-internal model types") so that a
// compiled pipeline structure or a job record can itself flow through
// the value registry (e.g. when exported as part of a workflow
// archive, see SPEC_FULL.md §4).
type PipelineStructureType struct{}

func (PipelineStructureType) Name() string    { return "pipeline_structure" }
func (PipelineStructureType) Version() string { return "1" }
func (PipelineStructureType) Accepts(p any) bool {
	return p != nil
}
func (PipelineStructureType) Validate(p any) error { return nil }
func (PipelineStructureType) Encode(p any) ([]byte, error) {
	return encoding.CanonicalEncode(p)
}
func (PipelineStructureType) Decode(b []byte) (any, error) {
	var out map[string]any
	if err := encoding.CanonicalDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (PipelineStructureType) EqualPayload(a, b any) bool {
	ea, _ := encoding.CanonicalEncode(a)
	eb, _ := encoding.CanonicalEncode(b)
	return string(ea) == string(eb)
}
func (PipelineStructureType) Extractors() map[string]PropertyExtractor { return nil }
func (PipelineStructureType) Subtypes() []string                        { return []string{"any"} }

type JobRecordType struct{}

func (JobRecordType) Name() string                     { return "job_record" }
func (JobRecordType) Version() string                  { return "1" }
func (JobRecordType) Accepts(p any) bool                { return p != nil }
func (JobRecordType) Validate(p any) error              { return nil }
func (JobRecordType) Encode(p any) ([]byte, error)      { return encoding.CanonicalEncode(p) }
func (JobRecordType) Decode(b []byte) (any, error) {
	var out map[string]any
	if err := encoding.CanonicalDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (JobRecordType) EqualPayload(a, b any) bool {
	ea, _ := encoding.CanonicalEncode(a)
	eb, _ := encoding.CanonicalEncode(b)
	return string(ea) == string(eb)
}
func (JobRecordType) Extractors() map[string]PropertyExtractor { return nil }
func (JobRecordType) Subtypes() []string                        { return []string{"any"} }
