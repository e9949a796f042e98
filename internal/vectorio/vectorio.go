// Package vectorio writes extracted contours (ops.Point2 polylines) to
// CSV and single-part ESRI Shapefile POLYLINE files for downstream GIS
// tools.
package vectorio

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/MeKo-Tech/lad/internal/errs"
	"github.com/MeKo-Tech/lad/internal/ops"
)

// WritePolylineCSV writes an "X,Y" header row followed by one "x,y" row
// per vertex.
func WritePolylineCSV(path string, pts []ops.Point2) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "creating %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"X", "Y"}); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing header to %s", path)
	}
	for _, p := range pts {
		row := []string{
			strconv.FormatFloat(p.X, 'g', -1, 64),
			strconv.FormatFloat(p.Y, 'g', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return errs.Wrap(errs.KindRasterIOFailure, err, "writing row to %s", path)
		}
	}
	w.Flush()
	return w.Error()
}

const (
	shapeTypeNull     = 0
	shapeTypePolyline = 3
	fileCode          = 9994
	fileVersion       = 1000
	wordSize          = 2 // shapefile length fields are in 16-bit words
)

// WritePolylineShapefile writes pts as a single-record, single-part
// POLYLINE shapefile: path.shp (geometry), path.shx (index), and
// path.dbf (a minimal attribute table with one "ID" field) are all
// created alongside path.
func WritePolylineShapefile(path string, pts []ops.Point2) error {
	if len(pts) == 0 {
		return errs.New(errs.KindWrongArgument, "cannot write an empty polyline shapefile")
	}

	minX, minY, maxX, maxY := boundingBox(pts)

	recordContent := polylineRecordBytes(pts, minX, minY, maxX, maxY)
	recordContentWords := len(recordContent) / wordSize
	recordHeaderWords := 4 // record number + content length, each 2 words... actually 2*2=4 words total
	recordTotalWords := recordHeaderWords + recordContentWords

	shpFileWords := 50 + recordTotalWords
	shxFileWords := 50 + 4 // one shx record entry (offset+length), each 2 words

	shp, err := os.Create(path + ".shp")
	if err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "creating %s.shp", path)
	}
	defer shp.Close()

	if err := writeShapefileHeader(shp, shpFileWords, shapeTypePolyline, minX, minY, maxX, maxY); err != nil {
		return err
	}
	if err := writeBigEndianUint32(shp, 1); err != nil { // record number
		return err
	}
	if err := writeBigEndianUint32(shp, uint32(recordContentWords)); err != nil {
		return err
	}
	if _, err := shp.Write(recordContent); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing %s.shp record", path)
	}

	shx, err := os.Create(path + ".shx")
	if err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "creating %s.shx", path)
	}
	defer shx.Close()

	if err := writeShapefileHeader(shx, shxFileWords, shapeTypePolyline, minX, minY, maxX, maxY); err != nil {
		return err
	}
	if err := writeBigEndianUint32(shx, 50); err != nil { // content offset, in words
		return err
	}
	if err := writeBigEndianUint32(shx, uint32(recordContentWords)); err != nil {
		return err
	}

	return writeMinimalDBF(path + ".dbf")
}

func boundingBox(pts []ops.Point2) (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return
}

func polylineRecordBytes(pts []ops.Point2, minX, minY, maxX, maxY float64) []byte {
	// Shape type (4) + bbox (32) + numParts (4) + numPoints (4) +
	// parts array (4*numParts) + points array (16*numPoints).
	size := 4 + 32 + 4 + 4 + 4*1 + 16*len(pts)
	buf := make([]byte, size)
	le := binary.LittleEndian

	le.PutUint32(buf[0:4], shapeTypePolyline)
	le.PutUint64(buf[4:12], math.Float64bits(minX))
	le.PutUint64(buf[12:20], math.Float64bits(minY))
	le.PutUint64(buf[20:28], math.Float64bits(maxX))
	le.PutUint64(buf[28:36], math.Float64bits(maxY))
	le.PutUint32(buf[36:40], 1) // numParts
	le.PutUint32(buf[40:44], uint32(len(pts)))
	le.PutUint32(buf[44:48], 0) // parts[0] = 0

	off := 48
	for _, p := range pts {
		le.PutUint64(buf[off:off+8], math.Float64bits(p.X))
		le.PutUint64(buf[off+8:off+16], math.Float64bits(p.Y))
		off += 16
	}
	return buf
}

func writeShapefileHeader(f *os.File, fileLengthWords int, shapeType int, minX, minY, maxX, maxY float64) error {
	if err := writeBigEndianUint32(f, fileCode); err != nil {
		return err
	}
	var reserved [20]byte
	if _, err := f.Write(reserved[:]); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing shapefile header")
	}
	if err := writeBigEndianUint32(f, uint32(fileLengthWords)); err != nil {
		return err
	}

	le := binary.LittleEndian
	var body [44]byte
	le.PutUint32(body[0:4], fileVersion)
	le.PutUint32(body[4:8], uint32(shapeType))
	le.PutUint64(body[8:16], math.Float64bits(minX))
	le.PutUint64(body[16:24], math.Float64bits(minY))
	le.PutUint64(body[24:32], math.Float64bits(maxX))
	le.PutUint64(body[32:40], math.Float64bits(maxY))
	// Zmin/Zmax/Mmin/Mmax omitted (not used for 2D polylines); left zero.
	if _, err := f.Write(body[:]); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing shapefile header body")
	}
	var zm [32]byte
	if _, err := f.Write(zm[:]); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing shapefile Z/M range")
	}
	return nil
}

func writeBigEndianUint32(f *os.File, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	if _, err := f.Write(b[:]); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing %s", f.Name())
	}
	return nil
}

// writeMinimalDBF writes a one-record, one-field ("ID", numeric) dBASE
// III table, the minimum attribute table a shapefile reader expects
// alongside .shp/.shx.
func writeMinimalDBF(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "creating %s", path)
	}
	defer f.Close()

	const fieldName = "ID"
	const fieldLen = 10
	headerLen := 32 + 32 + 1 // file header + one field descriptor + terminator
	recordLen := 1 + fieldLen

	header := make([]byte, 32)
	header[0] = 0x03 // dBASE III, no memo
	header[4] = 1     // number of records (little-endian uint32, but 1 fits in byte 4)
	binary.LittleEndian.PutUint16(header[8:10], uint16(headerLen))
	binary.LittleEndian.PutUint16(header[10:12], uint16(recordLen))
	if _, err := f.Write(header); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing %s header", path)
	}

	field := make([]byte, 32)
	copy(field, fieldName)
	field[11] = 'N' // numeric
	field[16] = fieldLen
	field[17] = 0 // no decimals
	if _, err := f.Write(field); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing %s field descriptor", path)
	}
	if _, err := f.Write([]byte{0x0d}); err != nil { // header terminator
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing %s terminator", path)
	}

	record := make([]byte, recordLen)
	record[0] = ' ' // not deleted
	idStr := fmt.Sprintf("%*d", fieldLen, 1)
	copy(record[1:], idStr)
	if _, err := f.Write(record); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing %s record", path)
	}
	if _, err := f.Write([]byte{0x1a}); err != nil { // EOF marker
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing %s EOF marker", path)
	}
	return nil
}
