// Package sqlitevec provides a SQLite-backed vector driver using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/stacks/pkg/gateway"
	"github.com/papercomputeco/stacks/pkg/vector"
)

// Driver implements vector.Driver using SQLite with sqlite-vec.
type Driver struct {
	db     *sql.DB
	dims   uint
	init   vector.LazyInit
	logger *slog.Logger
}

// Config holds configuration for the SQLite vec driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint
}

// NewDriver opens the database and checks that sqlite-vec is loaded. Tables
// are created lazily on first use.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if c.Dimensions == 0 {
		return nil, fmt.Errorf("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A second pooled connection to ":memory:" would be a different database.
	db.SetMaxOpenConns(1)

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	logger.Info("sqlite-vec vector driver opened",
		"db_path", c.DBPath,
		"dimensions", c.Dimensions,
		"vec_version", vecVersion,
	)

	return &Driver{
		db:     db,
		dims:   c.Dimensions,
		logger: logger,
	}, nil
}

// EnsureCollection creates the payload and vec0 tables and records the
// dimensionality so that a later open with a different size is rejected.
func (d *Driver) EnsureCollection(ctx context.Context) error {
	return d.init.Do(ctx, d.ensure)
}

func (d *Driver) ensure(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vec_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		// vec0 virtual tables use integer rowids, so passages keep their
		// string record ids here and share the rowid with vec_embeddings.
		`CREATE TABLE IF NOT EXISTS vec_passages (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id TEXT NOT NULL UNIQUE,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			page_number INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS vec_passages_document_id ON vec_passages(document_id)`,
		fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
			d.dims,
		),
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return gateway.Classify("sqlitevec.ensure_collection", fmt.Errorf("creating tables: %w", err))
		}
	}

	if _, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO vec_meta(key, value) VALUES ('dimensions', ?)`,
		strconv.FormatUint(uint64(d.dims), 10),
	); err != nil {
		return gateway.Classify("sqlitevec.ensure_collection", fmt.Errorf("recording dimensions: %w", err))
	}

	var stored string
	if err := d.db.QueryRowContext(ctx, `SELECT value FROM vec_meta WHERE key = 'dimensions'`).Scan(&stored); err != nil {
		return gateway.Classify("sqlitevec.ensure_collection", fmt.Errorf("reading dimensions: %w", err))
	}
	if stored != strconv.FormatUint(uint64(d.dims), 10) {
		return gateway.NewError("sqlitevec.ensure_collection", gateway.KindInvalidInput,
			fmt.Errorf("%w: database has %s dimensions, want %d", vector.ErrDimensionMismatch, stored, d.dims))
	}

	return nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Upsert stores records. If a record with the same ID already exists, its
// payload and embedding are replaced.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := vector.ValidateRecords("sqlitevec.upsert", records, d.dims); err != nil {
		return err
	}
	if err := d.EnsureCollection(ctx); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return gateway.Classify("sqlitevec.upsert", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	for _, r := range records {
		if err := upsertOne(ctx, tx, r); err != nil {
			return gateway.Classify("sqlitevec.upsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return gateway.Classify("sqlitevec.upsert", fmt.Errorf("committing transaction: %w", err))
	}

	d.logger.Debug("upserted records to sqlite-vec", "count", len(records))
	return nil
}

func upsertOne(ctx context.Context, tx *sql.Tx, r vector.Record) error {
	embBlob := serializeFloat32(r.Vector)
	p := r.Payload

	// Check if record already exists
	var existingRowID int64
	err := tx.QueryRowContext(ctx,
		`SELECT rowid FROM vec_passages WHERE record_id = ?`, r.ID,
	).Scan(&existingRowID)

	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE vec_passages SET document_id = ?, chunk_index = ?, page_number = ?, title = ?, text = ? WHERE rowid = ?`,
			p.DocumentID, p.Index, p.Page, p.Title, p.Text, existingRowID,
		); err != nil {
			return fmt.Errorf("updating record %s: %w", r.ID, err)
		}

		// vec0 does not support UPDATE
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE rowid = ?`, existingRowID,
		); err != nil {
			return fmt.Errorf("deleting old embedding for record %s: %w", r.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
			existingRowID, embBlob,
		); err != nil {
			return fmt.Errorf("re-inserting embedding for record %s: %w", r.ID, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx,
			`INSERT INTO vec_passages(record_id, document_id, chunk_index, page_number, title, text) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, p.DocumentID, p.Index, p.Page, p.Title, p.Text,
		)
		if err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}

		rowID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting rowid for record %s: %w", r.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
			rowID, embBlob,
		); err != nil {
			return fmt.Errorf("inserting embedding for record %s: %w", r.ID, err)
		}
	default:
		return fmt.Errorf("checking for existing record %s: %w", r.ID, err)
	}

	return nil
}

// Search finds the limit nearest records. Unfiltered searches use the vec0
// KNN index; filtered searches scan the filtered documents' passages with
// vec_distance_cosine, which keeps the limit exact under the filter.
func (d *Driver) Search(ctx context.Context, vec []float32, limit int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if uint(len(vec)) != d.dims {
		return nil, gateway.NewError("sqlitevec.search", gateway.KindInvalidInput,
			fmt.Errorf("%w: query has %d dimensions, want %d", vector.ErrDimensionMismatch, len(vec), d.dims))
	}
	if err := d.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	queryBlob := serializeFloat32(vec)
	return vector.TopK(limit, func(n int) ([]vector.QueryResult, error) {
		return d.query(ctx, queryBlob, n, filter)
	})
}

func (d *Driver) query(ctx context.Context, queryBlob []byte, n int, filter *vector.Filter) ([]vector.QueryResult, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter.Empty() {
		rows, err = d.db.QueryContext(ctx, `
			SELECT p.record_id, p.document_id, p.chunk_index, p.page_number, p.title, p.text, ve.distance
			FROM vec_embeddings ve
			INNER JOIN vec_passages p ON p.rowid = ve.rowid
			WHERE ve.embedding MATCH ?
				AND ve.k = ?
			ORDER BY ve.distance
		`, queryBlob, n)
	} else {
		placeholders, args := inClause(filter.DocumentIDs)
		args = append([]any{queryBlob}, args...)
		args = append(args, n)
		rows, err = d.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT p.record_id, p.document_id, p.chunk_index, p.page_number, p.title, p.text,
				vec_distance_cosine(ve.embedding, ?) AS distance
			FROM vec_passages p
			INNER JOIN vec_embeddings ve ON ve.rowid = p.rowid
			WHERE p.document_id IN (%s)
			ORDER BY distance
			LIMIT ?
		`, placeholders), args...)
	}
	if err != nil {
		return nil, gateway.Classify("sqlitevec.search", fmt.Errorf("querying vectors: %w", err))
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var (
			r        vector.QueryResult
			distance float64
		)
		if err := rows.Scan(&r.ID, &r.Payload.DocumentID, &r.Payload.Index, &r.Payload.Page,
			&r.Payload.Title, &r.Payload.Text, &distance); err != nil {
			return nil, gateway.Classify("sqlitevec.search", fmt.Errorf("scanning query result: %w", err))
		}

		// Cosine distance is 1 - similarity.
		r.Score = float32(1 - distance)
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, gateway.Classify("sqlitevec.search", fmt.Errorf("iterating query results: %w", err))
	}

	d.logger.Debug("queried sqlite-vec", "window", n, "results", len(results))
	return results, nil
}

// Delete removes every record of the filtered documents.
func (d *Driver) Delete(ctx context.Context, filter vector.Filter) error {
	if err := vector.CheckDelete("sqlitevec.delete", filter); err != nil {
		return err
	}
	if err := d.EnsureCollection(ctx); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return gateway.Classify("sqlitevec.delete", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	placeholders, args := inClause(filter.DocumentIDs)

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT rowid FROM vec_passages WHERE document_id IN (%s)`, placeholders,
	), args...)
	if err != nil {
		return gateway.Classify("sqlitevec.delete", fmt.Errorf("querying rowids for deletion: %w", err))
	}

	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return gateway.Classify("sqlitevec.delete", fmt.Errorf("scanning rowid: %w", err))
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return gateway.Classify("sqlitevec.delete", fmt.Errorf("iterating rowids: %w", err))
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE rowid = ?`, rowID,
		); err != nil {
			return gateway.Classify("sqlitevec.delete", fmt.Errorf("deleting embedding rowid %d: %w", rowID, err))
		}
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM vec_passages WHERE document_id IN (%s)`, placeholders,
	), args...)
	if err != nil {
		return gateway.Classify("sqlitevec.delete", fmt.Errorf("deleting passages: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return gateway.Classify("sqlitevec.delete", fmt.Errorf("committing transaction: %w", err))
	}

	removed, _ := result.RowsAffected()
	d.logger.Debug("deleted records from sqlite-vec", "count", removed)
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.db.Close()
}

// inClause builds placeholders for an IN clause.
func inClause(values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}

var _ vector.Driver = (*Driver)(nil)
