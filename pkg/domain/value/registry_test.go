package value_test

import (
	"testing"

	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

func newRegistry(t *testing.T) *value.Registry {
	t.Helper()
	types := datatype.NewRegistry()
	if err := datatype.RegisterDefaults(types); err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	return value.NewRegistry(types)
}

func TestRegisterValueDeduplicates(t *testing.T) {
	r := newRegistry(t)
	schema := value.Schema{Type: "string"}

	v1, err := r.RegisterValue(schema, "hello", value.External("test"))
	if err != nil {
		t.Fatalf("register 1: %v", err)
	}
	v2, err := r.RegisterValue(schema, "hello", value.External("test-again"))
	if err != nil {
		t.Fatalf("register 2: %v", err)
	}

	if v1.ID != v2.ID {
		t.Fatalf("expected deduplicated value id, got %s and %s", v1.ID, v2.ID)
	}
	if v1.Hash != v2.Hash {
		t.Fatalf("expected same hash, got %s and %s", v1.Hash, v2.Hash)
	}
}

func TestRegisterValueDistinguishesPayloads(t *testing.T) {
	r := newRegistry(t)
	schema := value.Schema{Type: "string"}

	v1, err := r.RegisterValue(schema, "a", value.External("t"))
	if err != nil {
		t.Fatalf("register 1: %v", err)
	}
	v2, err := r.RegisterValue(schema, "b", value.External("t"))
	if err != nil {
		t.Fatalf("register 2: %v", err)
	}

	if v1.Hash == v2.Hash {
		t.Fatalf("expected different hashes for different payloads")
	}
}

func TestRegisterValueRejectsSchemaMismatch(t *testing.T) {
	r := newRegistry(t)
	schema := value.Schema{Type: "boolean"}

	if _, err := r.RegisterValue(schema, "not-a-bool", value.External("t")); err == nil {
		t.Fatalf("expected schema mismatch error")
	}
}

func TestGetByHashAndByID(t *testing.T) {
	r := newRegistry(t)
	schema := value.Schema{Type: "string"}
	v, err := r.RegisterValue(schema, "x", value.External("t"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	byID, err := r.Get(v.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if !byID.Equal(v) {
		t.Fatalf("expected equal value from Get")
	}

	byHash, err := r.GetByHash(v.Hash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if !byHash.Equal(v) {
		t.Fatalf("expected equal value from GetByHash")
	}
}
