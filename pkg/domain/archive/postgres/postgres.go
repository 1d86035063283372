// Package postgres implements the embedded relational archive/store
// backend of spec.md §4.D: a single relational database holding
// tables for values, aliases (versioned), jobs, workflows and
// metadata, with versioned schema migrations applied on Open.
//
// No sqlite driver appears anywhere in the retrieved example corpus
// (see DESIGN.md), so the relational archive is grounded on
// github.com/jackc/pgx/v4 against a Postgres server instead.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/kiara-project/kiara-go/pkg/domain/archive"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/job"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
	xerrors "github.com/kiara-project/kiara-go/pkg/errors"
	"github.com/kiara-project/kiara-go/pkg/utils/retry"
)

// connectAttempts bounds how many times Open retries a fresh
// connection before giving up: a database container that is still
// starting up is a transient condition, not a permanent failure.
const connectAttempts = 5

func connectWithRetry(ctx context.Context, url string) (*pgxpool.Pool, error) {
	attempt := 0
	return retry.Blocking(ctx, retry.ExponentialBackoff(100*time.Millisecond, 2), func() (*pgxpool.Pool, error) {
		attempt++
		pool, err := pgxpool.Connect(ctx, url)
		if err == nil {
			return pool, nil
		}
		if attempt >= connectAttempts {
			return nil, xerrors.Wrap(err)
		}
		return nil, retry.ErrRetry
	})
}

// schemaVersion is this build's own understanding of the schema. An
// archive reporting a higher version than this is a forward-version
// it does not know how to read (spec.md §4.D: "an unknown-forward
// version is fatal").
const schemaVersion = 1

// advisoryLockKey namespaces the single-writer advisory lock so
// concurrent kiara processes contending for the same database don't
// collide with locks taken by unrelated applications.
const advisoryLockKey = 0x6b696172 // "kiar" in hex, arbitrary but stable

type Store struct {
	id   string
	kind archive.Kind
	pool *pgxpool.Pool
}

// Open connects to url, ensures the schema exists at schemaVersion
// (creating it on a fresh database, rejecting a newer one already
// present), and returns a ready Store.
func Open(ctx context.Context, id string, kind archive.Kind, url string) (*Store, error) {
	pool, err := connectWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}

	s := &Store{id: id, kind: kind, pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) ArchiveID() string      { return s.id }
func (s *Store) Kind() archive.Kind     { return s.kind }
func (s *Store) Config() archive.Config { return archive.Config{"backend": "postgres"} }

func (s *Store) ensureSchema(ctx context.Context) error {
	var found int
	err := s.pool.QueryRow(ctx, `SELECT "version" FROM "kiara_schema_version"`).Scan(&found)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
			return s.createSchema(ctx)
		}
		return xerrors.Wrap(err)
	}

	if found > schemaVersion {
		return archive.NewErrIncompatibleArchive(found, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS "kiara_schema_version" ("version" integer NOT NULL);
		INSERT INTO "kiara_schema_version" ("version") VALUES (1);

		CREATE TABLE IF NOT EXISTS "kiara_values" (
			"value_hash" text PRIMARY KEY,
			"schema" bytea NOT NULL,
			"payload" bytea NOT NULL,
			"size" bigint NOT NULL,
			"origin" bytea NOT NULL
		);

		CREATE TABLE IF NOT EXISTS "kiara_aliases" (
			"name" text NOT NULL,
			"value_id" uuid NOT NULL,
			"updated_at" bigint NOT NULL
		);
		CREATE INDEX IF NOT EXISTS "kiara_aliases_name_idx" ON "kiara_aliases" ("name", "updated_at");

		CREATE TABLE IF NOT EXISTS "kiara_jobs" (
			"job_hash" text PRIMARY KEY,
			"record" bytea NOT NULL
		);

		CREATE TABLE IF NOT EXISTS "kiara_workflows" (
			"workflow_id" text PRIMARY KEY,
			"snapshot" bytea NOT NULL
		);

		CREATE TABLE IF NOT EXISTS "kiara_metadata" (
			"value_hash" text PRIMARY KEY,
			"metadata" bytea NOT NULL
		);
	`)
	if err != nil {
		return xerrors.Wrap(err)
	}
	return nil
}

// withWriterLock serializes writers via a transaction-scoped Postgres
// advisory lock (spec.md §5: "single-writer per archive"). The lock is
// tried, not waited for: while another writer holds it the call fails
// at once with archive.ErrArchiveLocked, and nothing here retries it.
func (s *Store) withWriterLock(ctx context.Context, f func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return xerrors.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, advisoryLockKey).Scan(&locked); err != nil {
		return xerrors.Wrap(err)
	}
	if !locked {
		return xerrors.Wrap(archive.ErrArchiveLocked)
	}

	if err := f(tx); err != nil {
		return xerrors.Wrap(wrapPgError(err))
	}
	return xerrors.Wrap(tx.Commit(ctx))
}

func (s *Store) Contains(h encoding.Hash) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(context.Background(),
		`SELECT EXISTS(SELECT 1 FROM "kiara_values" WHERE "value_hash" = $1)`, h.String(),
	).Scan(&exists)
	if err != nil {
		return false, xerrors.Wrap(err)
	}
	return exists, nil
}

func (s *Store) LoadValue(h encoding.Hash) (value.WireRecord, error) {
	var schemaBytes, originBytes, payload []byte
	var size int64
	err := s.pool.QueryRow(context.Background(),
		`SELECT "schema", "payload", "size", "origin" FROM "kiara_values" WHERE "value_hash" = $1`, h.String(),
	).Scan(&schemaBytes, &payload, &size, &originBytes)
	if err != nil {
		return value.WireRecord{}, xerrors.Wrap(err)
	}

	var wire value.WireRecord
	if err := encoding.CanonicalDecode(schemaBytes, &wire.Schema); err != nil {
		return value.WireRecord{}, xerrors.Wrap(err)
	}
	if err := encoding.CanonicalDecode(originBytes, &wire.Origin); err != nil {
		return value.WireRecord{}, xerrors.Wrap(err)
	}
	wire.PayloadBytes = payload
	wire.Size = size
	wire.ValueHash = h
	return wire, nil
}

func (s *Store) IterValues() ([]encoding.Hash, error) {
	rows, err := s.pool.Query(context.Background(), `SELECT "value_hash" FROM "kiara_values"`)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	defer rows.Close()

	var out []encoding.Hash
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, xerrors.Wrap(err)
		}
		out = append(out, encoding.Hash(h))
	}
	return out, xerrors.Wrap(rows.Err())
}

// WriteValue is idempotent on value hash via ON CONFLICT DO NOTHING
// (spec.md §4.D).
func (s *Store) WriteValue(wire value.WireRecord) error {
	schemaBytes, err := encoding.CanonicalEncode(wire.Schema)
	if err != nil {
		return xerrors.Wrap(err)
	}
	originBytes, err := encoding.CanonicalEncode(wire.Origin)
	if err != nil {
		return xerrors.Wrap(err)
	}

	return s.withWriterLock(context.Background(), func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), `
			INSERT INTO "kiara_values" ("value_hash", "schema", "payload", "size", "origin")
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT ("value_hash") DO NOTHING
		`, wire.ValueHash.String(), schemaBytes, wire.PayloadBytes, wire.Size, originBytes)
		return xerrors.Wrap(err)
	})
}

func (s *Store) LookupAlias(name string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(context.Background(), `
		SELECT "value_id" FROM "kiara_aliases" WHERE "name" = $1
		ORDER BY "updated_at" DESC LIMIT 1
	`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.UUID{}, false, nil
	}
	if err != nil {
		return uuid.UUID{}, false, xerrors.Wrap(err)
	}
	return id, true, nil
}

func (s *Store) AliasHistory(name string) ([]archive.AliasEntry, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT "value_id", "updated_at" FROM "kiara_aliases" WHERE "name" = $1 ORDER BY "updated_at" ASC
	`, name)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	defer rows.Close()

	var out []archive.AliasEntry
	for rows.Next() {
		var e archive.AliasEntry
		if err := rows.Scan(&e.ValueID, &e.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(err)
		}
		out = append(out, e)
	}
	return out, xerrors.Wrap(rows.Err())
}

func (s *Store) ListAliases() ([]string, error) {
	rows, err := s.pool.Query(context.Background(), `SELECT DISTINCT "name" FROM "kiara_aliases"`)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, xerrors.Wrap(err)
		}
		out = append(out, name)
	}
	return out, xerrors.Wrap(rows.Err())
}

func (s *Store) WriteAlias(name string, valueID uuid.UUID) error {
	return s.withWriterLock(context.Background(), func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), `
			INSERT INTO "kiara_aliases" ("name", "value_id", "updated_at") VALUES ($1, $2, extract(epoch from now())::bigint)
		`, name, valueID)
		return xerrors.Wrap(err)
	})
}

func (s *Store) LookupJob(h encoding.Hash) (*job.Record, bool, error) {
	var recordBytes []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT "record" FROM "kiara_jobs" WHERE "job_hash" = $1`, h.String(),
	).Scan(&recordBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Wrap(err)
	}

	var rec job.Record
	if err := encoding.CanonicalDecode(recordBytes, &rec); err != nil {
		return nil, false, xerrors.Wrap(err)
	}
	return &rec, true, nil
}

func (s *Store) WriteJob(rec *job.Record) error {
	b, err := encoding.CanonicalEncode(rec)
	if err != nil {
		return xerrors.Wrap(err)
	}
	return s.withWriterLock(context.Background(), func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), `
			INSERT INTO "kiara_jobs" ("job_hash", "record") VALUES ($1, $2)
			ON CONFLICT ("job_hash") DO UPDATE SET "record" = EXCLUDED."record"
		`, rec.JobHash.String(), b)
		return xerrors.Wrap(err)
	})
}

func (s *Store) IterJobs() ([]*job.Record, error) {
	rows, err := s.pool.Query(context.Background(), `SELECT "record" FROM "kiara_jobs"`)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	defer rows.Close()

	var out []*job.Record
	for rows.Next() {
		var recordBytes []byte
		if err := rows.Scan(&recordBytes); err != nil {
			return nil, xerrors.Wrap(err)
		}
		var rec job.Record
		if err := encoding.CanonicalDecode(recordBytes, &rec); err != nil {
			return nil, xerrors.Wrap(err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(err)
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
	b, err := encoding.CanonicalEncode(snapshot)
	if err != nil {
		return xerrors.Wrap(err)
	}
	return s.withWriterLock(context.Background(), func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), `
			INSERT INTO "kiara_workflows" ("workflow_id", "snapshot") VALUES ($1, $2)
			ON CONFLICT ("workflow_id") DO UPDATE SET "snapshot" = EXCLUDED."snapshot"
		`, snapshot.WorkflowID, b)
		return xerrors.Wrap(err)
	})
}

func (s *Store) LoadWorkflow(id string) (archive.WorkflowSnapshot, error) {
	var b []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT "snapshot" FROM "kiara_workflows" WHERE "workflow_id" = $1`, id,
	).Scan(&b)
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
	rows, err := s.pool.Query(context.Background(), `SELECT "workflow_id" FROM "kiara_workflows"`)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, xerrors.Wrap(err)
		}
		out = append(out, id)
	}
	return out, xerrors.Wrap(rows.Err())
}

func (s *Store) WriteMetadata(h encoding.Hash, metadata map[string]any) error {
	b, err := encoding.CanonicalEncode(metadata)
	if err != nil {
		return xerrors.Wrap(err)
	}
	return s.withWriterLock(context.Background(), func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), `
			INSERT INTO "kiara_metadata" ("value_hash", "metadata") VALUES ($1, $2)
			ON CONFLICT ("value_hash") DO UPDATE SET "metadata" = EXCLUDED."metadata"
		`, h.String(), b)
		return xerrors.Wrap(err)
	})
}

func (s *Store) LoadMetadata(h encoding.Hash) (map[string]any, error) {
	var b []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT "metadata" FROM "kiara_metadata" WHERE "value_hash" = $1`, h.String(),
	).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
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

func wrapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.LockNotAvailable {
		return fmt.Errorf("%w: %s", archive.ErrArchiveLocked, pgErr.Message)
	}
	return err
}
