// Package fsarchive implements the filesystem archive/store backend
// of spec.md §4.D: a content-addressed, sharded directory layout with
// atomic temp-then-rename writes and startup orphan-temp-file GC.
package fsarchive

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/kiara-project/kiara-go/pkg/domain/archive"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/job"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
	xerrors "github.com/kiara-project/kiara-go/pkg/errors"
)

const tempSuffix = ".tmp"

// Store is a single-writer, content-addressed filesystem archive. Its
// root directory is sharded two levels deep by hash prefix, e.g.
// <root>/ab/cd/abcdef.../payload.cbor, matching spec.md §4.D's
// "multi-level sharding by hash prefix".
type Store struct {
	id   string
	kind archive.Kind
	root string

	writeMu sync.Mutex

	watcher *fsnotify.Watcher
}

// Open creates root if necessary, sweeps orphan temp files left by a
// previous crash (spec.md §4.D crash-safety), and adds an fsnotify
// watcher on root that Close releases. The watcher's events are never
// read, so changes made by another process are neither logged nor
// prevented (single-writer is assumed per spec.md §1 non-goals).
func Open(id string, kind archive.Kind, root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrap(err)
	}

	s := &Store{id: id, kind: kind, root: root}
	if err := s.sweepOrphanTempFiles(); err != nil {
		return nil, xerrors.Wrap(err)
	}

	w, err := fsnotify.NewWatcher()
	if err == nil {
		if err := w.Add(root); err == nil {
			s.watcher = w
		} else {
			w.Close()
		}
	}

	return s, nil
}

func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) ArchiveID() string      { return s.id }
func (s *Store) Kind() archive.Kind     { return s.kind }
func (s *Store) Config() archive.Config { return archive.Config{"backend": "fs", "root": s.root} }

func (s *Store) shardDir(h encoding.Hash) string {
	hs := h.String()
	if len(hs) < 4 {
		return filepath.Join(s.root, hs)
	}
	return filepath.Join(s.root, hs[:2], hs[2:4], hs)
}

func (s *Store) payloadPath(h encoding.Hash) string {
	return filepath.Join(s.shardDir(h), "payload.cbor")
}

func (s *Store) Contains(h encoding.Hash) (bool, error) {
	_, err := os.Stat(s.payloadPath(h))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Wrap(err)
	}
	return true, nil
}

func (s *Store) LoadValue(h encoding.Hash) (value.WireRecord, error) {
	b, err := os.ReadFile(s.payloadPath(h))
	if err != nil {
		return value.WireRecord{}, xerrors.Wrap(err)
	}
	var wire value.WireRecord
	if err := encoding.CanonicalDecode(b, &wire); err != nil {
		return value.WireRecord{}, xerrors.Wrap(err)
	}
	return wire, nil
}

func (s *Store) IterValues() ([]encoding.Hash, error) {
	var hashes []encoding.Hash
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(path) != "payload.cbor" {
			return nil
		}
		h := encoding.Hash(filepath.Base(filepath.Dir(path)))
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	return hashes, nil
}

// WriteValue stages the encoded record to a temp file in the target
// shard directory, then renames it into place atomically. A write of
// an already-present hash is a no-op (spec.md §4.D idempotence).
func (s *Store) WriteValue(wire value.WireRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if ok, err := s.Contains(wire.ValueHash); err != nil {
		return err
	} else if ok {
		return nil
	}

	dir := s.shardDir(wire.ValueHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrap(err)
	}

	b, err := encoding.CanonicalEncode(wire)
	if err != nil {
		return xerrors.Wrap(err)
	}

	return atomicWrite(filepath.Join(dir, "payload.cbor"), b)
}

// atomicWrite stages data to a sibling temp file then renames it into
// place, so a crash mid-write never leaves a half-written payload
// visible under its final name.
func atomicWrite(finalPath string, data []byte) error {
	dir := filepath.Dir(finalPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(finalPath)+"-*"+tempSuffix)
	if err != nil {
		return xerrors.Wrap(err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return xerrors.Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return xerrors.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrap(err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrap(err)
	}
	return nil
}

// sweepOrphanTempFiles removes any *.tmp file left behind by a
// process that crashed between CreateTemp and Rename.
func (s *Store) sweepOrphanTempFiles() error {
	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == tempSuffix {
			return os.Remove(path)
		}
		return nil
	})
}

// aliasLogPath and jobDir/workflowDir/metadataDir lay out the rest of
// the filesystem archive's root alongside the sharded value payloads,
// matching spec.md §4.D: "Aliases live in an append-only log with a
// current-state index. Jobs live in a per-archive directory keyed by
// job hash."
func (s *Store) aliasLogPath(name string) string {
	return filepath.Join(s.root, "aliases", name+".log.cbor")
}

func (s *Store) jobPath(h encoding.Hash) string {
	return filepath.Join(s.root, "jobs", h.String()+".cbor")
}

func (s *Store) workflowPath(id string) string {
	return filepath.Join(s.root, "workflows", id+".cbor")
}

func (s *Store) metadataPath(h encoding.Hash) string {
	return filepath.Join(s.root, "metadata", h.String()+".cbor")
}

func (s *Store) WriteAlias(name string, valueID uuid.UUID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	hist, _ := s.readAliasLog(name)
	hist = append(hist, archive.AliasEntry{ValueID: valueID, UpdatedAt: time.Now().Unix()})

	b, err := encoding.CanonicalEncode(hist)
	if err != nil {
		return xerrors.Wrap(err)
	}
	path := s.aliasLogPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Wrap(err)
	}
	return atomicWrite(path, b)
}

func (s *Store) readAliasLog(name string) ([]archive.AliasEntry, error) {
	b, err := os.ReadFile(s.aliasLogPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	var hist []archive.AliasEntry
	if err := encoding.CanonicalDecode(b, &hist); err != nil {
		return nil, xerrors.Wrap(err)
	}
	return hist, nil
}

func (s *Store) LookupAlias(name string) (uuid.UUID, bool, error) {
	hist, err := s.readAliasLog(name)
	if err != nil {
		return uuid.UUID{}, false, err
	}
	if len(hist) == 0 {
		return uuid.UUID{}, false, nil
	}
	return hist[len(hist)-1].ValueID, true, nil
}

func (s *Store) AliasHistory(name string) ([]archive.AliasEntry, error) {
	return s.readAliasLog(name)
}

func (s *Store) ListAliases() ([]string, error) {
	dir := filepath.Join(s.root, "aliases")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		const suffix = ".log.cbor"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			names = append(names, name[:len(name)-len(suffix)])
		}
	}
	return names, nil
}

func (s *Store) WriteJob(record *job.Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b, err := encoding.CanonicalEncode(record)
	if err != nil {
		return xerrors.Wrap(err)
	}
	path := s.jobPath(record.JobHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Wrap(err)
	}
	return atomicWrite(path, b)
}

func (s *Store) LookupJob(h encoding.Hash) (*job.Record, bool, error) {
	b, err := os.ReadFile(s.jobPath(h))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Wrap(err)
	}
	var rec job.Record
	if err := encoding.CanonicalDecode(b, &rec); err != nil {
		return nil, false, xerrors.Wrap(err)
	}
	return &rec, true, nil
}

func (s *Store) IterJobs() ([]*job.Record, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "jobs"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	out := make([]*job.Record, 0, len(entries))
	for _, e := range entries {
		const suffix = ".cbor"
		name := e.Name()
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		rec, ok, err := s.LookupJob(encoding.Hash(name[:len(name)-len(suffix)]))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) RetainJobComment(h encoding.Hash, comment string) error {
	rec, ok, err := s.LookupJob(h)
	if err != nil {
		return err
	}
	if !ok {
		return job.NewErrJobOutputMissing(h, "")
	}
	rec.Comment = comment
	return s.WriteJob(rec)
}

func (s *Store) WriteWorkflow(snapshot archive.WorkflowSnapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b, err := encoding.CanonicalEncode(snapshot)
	if err != nil {
		return xerrors.Wrap(err)
	}
	path := s.workflowPath(snapshot.WorkflowID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Wrap(err)
	}
	return atomicWrite(path, b)
}

func (s *Store) LoadWorkflow(id string) (archive.WorkflowSnapshot, error) {
	b, err := os.ReadFile(s.workflowPath(id))
	if err != nil {
		return archive.WorkflowSnapshot{}, xerrors.Wrap(err)
	}
	var snap archive.WorkflowSnapshot
	if err := encoding.CanonicalDecode(b, &snap); err != nil {
		return archive.WorkflowSnapshot{}, xerrors.Wrap(err)
	}
	return snap, nil
}

func (s *Store) ListWorkflows() ([]string, error) {
	dir := filepath.Join(s.root, "workflows")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		const suffix = ".cbor"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			names = append(names, name[:len(name)-len(suffix)])
		}
	}
	return names, nil
}

func (s *Store) WriteMetadata(h encoding.Hash, metadata map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b, err := encoding.CanonicalEncode(metadata)
	if err != nil {
		return xerrors.Wrap(err)
	}
	path := s.metadataPath(h)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Wrap(err)
	}
	return atomicWrite(path, b)
}

func (s *Store) LoadMetadata(h encoding.Hash) (map[string]any, error) {
	b, err := os.ReadFile(s.metadataPath(h))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	var md map[string]any
	if err := encoding.CanonicalDecode(b, &md); err != nil {
		return nil, xerrors.Wrap(err)
	}
	return md, nil
}

var _ archive.Store = (*Store)(nil)
