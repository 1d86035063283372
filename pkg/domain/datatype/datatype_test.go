package datatype_test

import (
	"errors"
	"testing"

	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
)

func TestRegisterDuplicateFails(t *testing.T) {
	r := datatype.NewRegistry()
	if err := r.Register(datatype.StringType{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(datatype.StringType{})
	if !errors.Is(err, datatype.ErrDuplicateType) {
		t.Fatalf("expected ErrDuplicateType, got %v", err)
	}
}

func TestRegisterDefaultsThenSatisfies(t *testing.T) {
	r := datatype.NewRegistry()
	if err := datatype.RegisterDefaults(r); err != nil {
		t.Fatalf("register defaults: %v", err)
	}

	if !r.Satisfies("file_bundle", "any") {
		t.Fatalf("file_bundle should satisfy a query accepting any")
	}
	if r.Satisfies("string", "boolean") {
		t.Fatalf("string should not satisfy boolean")
	}
}

func TestOpaqueNotPersistable(t *testing.T) {
	o := datatype.OpaqueType{}
	_, err := o.Encode(struct{}{})
	if !errors.Is(err, datatype.ErrOpaqueNotPersistable) {
		t.Fatalf("expected ErrOpaqueNotPersistable, got %v", err)
	}
}

func TestBytesEqualPayload(t *testing.T) {
	b := datatype.BytesType{}
	if !b.EqualPayload([]byte("abc"), []byte("abc")) {
		t.Fatalf("expected equal payloads to compare equal")
	}
	if b.EqualPayload([]byte("abc"), []byte("abd")) {
		t.Fatalf("expected different payloads to compare unequal")
	}
}
