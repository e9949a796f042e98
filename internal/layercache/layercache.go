// Package layercache persists intermediate and per-rotation layers
// (export_intermediate / export_rotated) to a SQLite-backed cache:
// gzip-compressed raw planes keyed by layer name and heading, adapted
// from the teacher's MBTiles tile sink.
package layercache

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/MeKo-Tech/lad/internal/errs"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// DefaultBatchSize is the number of layers buffered before an automatic
// flush to the database.
const DefaultBatchSize = 100

// RunMetadata describes the pipeline run a cache file belongs to.
type RunMetadata struct {
	InputPath    string
	Rows, Cols   int
	GeoTransform [6]float64
	Projection   string
}

// ToMap flattens RunMetadata into the metadata table's name/value rows.
func (m RunMetadata) ToMap() map[string]string {
	out := map[string]string{
		"input_path": m.InputPath,
		"rows":       fmt.Sprintf("%d", m.Rows),
		"cols":       fmt.Sprintf("%d", m.Cols),
		"projection": m.Projection,
	}
	for i, v := range m.GeoTransform {
		out[fmt.Sprintf("geo_transform_%d", i)] = fmt.Sprintf("%g", v)
	}
	return out
}

type layerEntry struct {
	Name         string
	RotationMdeg int // heading in milli-degrees; 0 for rotation-independent layers
	Data         []byte
}

// Writer buffers and persists named, rotation-tagged raster layers.
type Writer struct {
	db        *sql.DB
	batch     []layerEntry
	batchSize int
	mu        sync.Mutex
}

// New creates a layer cache at path, or opens an existing one. The
// metadata table is replaced with meta; existing layer rows are kept.
func New(path string, meta RunMetadata) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "opening layer cache %s", path)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 50000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errs.Wrap(errs.KindRasterIOFailure, err, "setting pragma %q", pragma)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := insertMetadata(db, meta); err != nil {
		db.Close()
		return nil, err
	}

	return &Writer{
		db:        db,
		batch:     make([]layerEntry, 0, DefaultBatchSize),
		batchSize: DefaultBatchSize,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS layers (
			name TEXT NOT NULL,
			rotation_millideg INTEGER NOT NULL,
			layer_data BLOB NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS layer_index ON layers (name, rotation_millideg);
	`
	if _, err := db.Exec(schema); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "creating layer cache schema")
	}
	return nil
}

func insertMetadata(db *sql.DB, meta RunMetadata) error {
	if _, err := db.Exec("DELETE FROM metadata"); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "clearing layer cache metadata")
	}

	stmt, err := db.Prepare("INSERT INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "preparing metadata insert")
	}
	defer stmt.Close()

	for k, v := range meta.ToMap() {
		if _, err := stmt.Exec(k, v); err != nil {
			return errs.Wrap(errs.KindRasterIOFailure, err, "inserting metadata %q", k)
		}
	}
	return nil
}

// WriteLayer buffers a raster layer under name at the given heading
// (degrees; 0 for rotation-independent layers), gzip-compressing its
// raw plane before storage. The batch auto-flushes when full.
func (w *Writer) WriteLayer(name string, headingDeg float64, buf *raster.Buffer) error {
	encoded := encodePlane(buf)
	compressed, err := gzipCompress(encoded)
	if err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "compressing layer %q", name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.batch = append(w.batch, layerEntry{
		Name:         name,
		RotationMdeg: int(math.Round(headingDeg * 1000)),
		Data:         compressed,
	})
	if len(w.batch) >= w.batchSize {
		return w.flushLocked()
	}
	return nil
}

// Flush writes any buffered layers to the database.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if len(w.batch) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "beginning layer cache transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO layers (name, rotation_millideg, layer_data) VALUES (?, ?, ?)")
	if err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "preparing layer insert")
	}
	defer stmt.Close()

	for _, l := range w.batch {
		if _, err := stmt.Exec(l.Name, l.RotationMdeg, l.Data); err != nil {
			return errs.Wrap(errs.KindRasterIOFailure, err, "inserting layer %q", l.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "committing layer cache transaction")
	}
	w.batch = w.batch[:0]
	return nil
}

// Close flushes any remaining layers and closes the database.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.db.Close()
		return err
	}
	if err := w.db.Close(); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "closing layer cache")
	}
	return nil
}

// Reader reads layers back from a layer cache for inspection or resume.
type Reader struct {
	db *sql.DB
}

// OpenReader opens an existing layer cache read-only.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "opening layer cache %s", path)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='layers'").Scan(&count); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "verifying layer cache schema")
	}
	if count == 0 {
		db.Close()
		return nil, errs.New(errs.KindRasterIOFailure, "%s does not contain a layers table", path)
	}
	return &Reader{db: db}, nil
}

// ReadLayer reads back a layer plane previously written by WriteLayer.
func (r *Reader) ReadLayer(name string, headingDeg float64) (*raster.Buffer, error) {
	mdeg := int(math.Round(headingDeg * 1000))

	var compressed []byte
	err := r.db.QueryRow(
		"SELECT layer_data FROM layers WHERE name=? AND rotation_millideg=?",
		name, mdeg,
	).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindLayerNotFound, "layer %q at heading %v not found in cache", name, headingDeg)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "querying layer %q", name)
	}

	encoded, err := gzipDecompress(compressed)
	if err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "decompressing layer %q", name)
	}
	return decodePlane(encoded)
}

// Close closes the underlying database connection.
func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "closing layer cache reader")
	}
	return nil
}

// encodePlane serializes a raster.Buffer's shape, geo properties, and
// Float64 plane + validity mask into a flat byte slice.
func encodePlane(buf *raster.Buffer) []byte {
	var out bytes.Buffer
	writeUint32 := func(v uint32) { binary.Write(&out, binary.LittleEndian, v) }
	writeFloat64 := func(v float64) { binary.Write(&out, binary.LittleEndian, v) }

	writeUint32(uint32(buf.Rows))
	writeUint32(uint32(buf.Cols))
	writeFloat64(buf.Nodata)
	for _, v := range buf.GeoTransform {
		writeFloat64(v)
	}
	proj := []byte(buf.Projection)
	writeUint32(uint32(len(proj)))
	out.Write(proj)

	for _, v := range buf.Data {
		writeFloat64(v)
	}
	out.Write(buf.Mask)
	return out.Bytes()
}

func decodePlane(data []byte) (*raster.Buffer, error) {
	r := bytes.NewReader(data)
	var rows, cols uint32
	if err := binary.Read(r, binary.LittleEndian, &rows); err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "decoding layer rows")
	}
	if err := binary.Read(r, binary.LittleEndian, &cols); err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "decoding layer cols")
	}
	var nodata float64
	if err := binary.Read(r, binary.LittleEndian, &nodata); err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "decoding layer nodata")
	}

	buf := raster.NewBuffer(int(rows), int(cols), nodata)
	for i := range buf.GeoTransform {
		if err := binary.Read(r, binary.LittleEndian, &buf.GeoTransform[i]); err != nil {
			return nil, errs.Wrap(errs.KindRasterIOFailure, err, "decoding layer geo-transform")
		}
	}

	var projLen uint32
	if err := binary.Read(r, binary.LittleEndian, &projLen); err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "decoding layer projection length")
	}
	proj := make([]byte, projLen)
	if _, err := io.ReadFull(r, proj); err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "decoding layer projection")
	}
	buf.Projection = string(proj)

	for i := range buf.Data {
		if err := binary.Read(r, binary.LittleEndian, &buf.Data[i]); err != nil {
			return nil, errs.Wrap(errs.KindRasterIOFailure, err, "decoding layer data")
		}
	}
	if _, err := io.ReadFull(r, buf.Mask); err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "decoding layer mask")
	}
	return buf, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
