package fsarchive_test

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/kiara-project/kiara-go/pkg/domain/archive"
	"github.com/kiara-project/kiara-go/pkg/domain/archive/fsarchive"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

func openStore(t *testing.T) *fsarchive.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := fsarchive.Open("test", archive.KindData, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteValueIsIdempotentAndRoundTrips(t *testing.T) {
	s := openStore(t)

	wire := value.WireRecord{
		Schema:       value.Schema{Type: "string"},
		PayloadBytes: []byte("hello"),
		Size:         5,
		ValueHash:    encoding.HashOf([]byte("hello")),
		Origin:       value.External("test"),
	}

	if err := s.WriteValue(wire); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := s.WriteValue(wire); err != nil {
		t.Fatalf("write 2 (idempotent): %v", err)
	}

	ok, err := s.Contains(wire.ValueHash)
	if err != nil || !ok {
		t.Fatalf("expected Contains to be true, err=%v", err)
	}

	loaded, err := s.LoadValue(wire.ValueHash)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded.PayloadBytes) != "hello" {
		t.Fatalf("unexpected payload: %s", loaded.PayloadBytes)
	}
}

func TestAliasHistoryIsAppendOnly(t *testing.T) {
	s := openStore(t)

	id1 := uuid.New()
	id2 := uuid.New()

	if err := s.WriteAlias("my_table", id1); err != nil {
		t.Fatalf("write alias 1: %v", err)
	}
	if err := s.WriteAlias("my_table", id2); err != nil {
		t.Fatalf("write alias 2: %v", err)
	}

	current, ok, err := s.LookupAlias("my_table")
	if err != nil || !ok {
		t.Fatalf("lookup alias: ok=%v err=%v", ok, err)
	}
	if current != id2 {
		t.Fatalf("expected current alias to be the latest write")
	}

	hist, err := s.AliasHistory("my_table")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].ValueID != id1 || hist[1].ValueID != id2 {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestOrphanTempFilesAreSweptOnOpen(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "orphan-123.tmp")
	if err := writeFile(tmp, []byte("x")); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}

	s, err := fsarchive.Open("test", archive.KindData, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if fileExists(tmp) {
		t.Fatalf("expected orphan temp file to be swept on open")
	}
}
