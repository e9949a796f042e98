// Package geotiff reads and writes the single-band Float64 raster format
// used to exchange bathymetry grids and blended probability maps with
// external GIS tools: an uncompressed baseline TIFF carrying the GeoTIFF
// ModelPixelScale/ModelTiepoint tags plus a private ASCII tag for the
// projection WKT string.
package geotiff

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/MeKo-Tech/lad/internal/errs"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// Baseline TIFF tag IDs used by this reader/writer.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagSampleFormat     = 339
	tagModelPixelScale  = 33550
	tagModelTiepoint    = 33922
	tagGDALNoData       = 42113
	tagProjectionWKT    = 65000 // private tag, this format only
	fieldTypeByte       = 1
	fieldTypeASCII      = 2
	fieldTypeShort      = 3
	fieldTypeLong       = 4
	fieldTypeRational   = 5
	fieldTypeDouble     = 12
	sampleFormatUint    = 1
	sampleFormatIEEEFP  = 3
	littleEndianMagic   = 0x4949
	tiffVersionMagic    = 42
	headerSize          = 8
	ifdEntrySize        = 12
	bytesPerDoubleValue = 8
)

type ifdEntry struct {
	tag      uint16
	typ      uint16
	count    uint32
	valueOff uint32 // either inline value or offset, depending on typ/count
	raw      []byte // the raw 4-byte value field, for inline decoding
}

// ReadRaster decodes a single-band Float64 GeoTIFF written by WriteRaster.
func ReadRaster(path string) (*raster.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "opening %s", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.KindRasterIOFailure, err, "reading %s", path)
	}
	return decode(data)
}

func decode(data []byte) (*raster.Buffer, error) {
	if len(data) < headerSize {
		return nil, errs.New(errs.KindRasterIOFailure, "file too small to be a TIFF")
	}
	var order binary.ByteOrder
	switch binary.LittleEndian.Uint16(data[0:2]) {
	case littleEndianMagic:
		order = binary.LittleEndian
	case 0x4d4d:
		order = binary.BigEndian
	default:
		return nil, errs.New(errs.KindRasterIOFailure, "not a TIFF file (bad byte-order marker)")
	}
	if order.Uint16(data[2:4]) != tiffVersionMagic {
		return nil, errs.New(errs.KindRasterIOFailure, "not a TIFF file (bad version marker)")
	}
	ifdOffset := order.Uint32(data[4:8])

	entries, err := readIFD(data, order, ifdOffset)
	if err != nil {
		return nil, err
	}

	var width, height, rowsPerStrip uint32
	var stripOffsets, stripByteCounts []uint32
	var pixelScaleX, pixelScaleY float64
	var nodata float64 = -9999
	var projection string
	var tiepoint [6]float64

	for _, e := range entries {
		switch e.tag {
		case tagImageWidth:
			width = tagScalar(e, order)
		case tagImageLength:
			height = tagScalar(e, order)
		case tagRowsPerStrip:
			rowsPerStrip = tagScalar(e, order)
		case tagStripOffsets:
			stripOffsets = tagArrayLong(data, order, e)
		case tagStripByteCounts:
			stripByteCounts = tagArrayLong(data, order, e)
		case tagModelPixelScale:
			vals := tagArrayDouble(data, order, e)
			if len(vals) >= 2 {
				pixelScaleX, pixelScaleY = vals[0], vals[1]
			}
		case tagModelTiepoint:
			vals := tagArrayDouble(data, order, e)
			if len(vals) >= 6 {
				copy(tiepoint[:], vals[:6])
			}
		case tagGDALNoData:
			if s := tagString(data, order, e); s != "" {
				fmt.Sscanf(s, "%g", &nodata)
			}
		case tagProjectionWKT:
			projection = tagString(data, order, e)
		}
	}

	if width == 0 || height == 0 {
		return nil, errs.New(errs.KindRasterIOFailure, "missing image dimensions in TIFF IFD")
	}
	if rowsPerStrip == 0 {
		rowsPerStrip = height
	}

	buf := raster.NewBuffer(int(height), int(width), nodata)
	buf.GeoTransform = [6]float64{
		tiepoint[3], pixelScaleX, 0,
		tiepoint[4], 0, -pixelScaleY,
	}
	buf.Projection = projection

	row := 0
	for s := 0; s < len(stripOffsets) && row < int(height); s++ {
		off := stripOffsets[s]
		n := stripByteCounts[s]
		stripRows := int(n) / (int(width) * bytesPerDoubleValue)
		for sr := 0; sr < stripRows && row < int(height); sr, row = sr+1, row+1 {
			base := int(off) + sr*int(width)*bytesPerDoubleValue
			for c := 0; c < int(width); c++ {
				bits := order.Uint64(data[base+c*bytesPerDoubleValue : base+(c+1)*bytesPerDoubleValue])
				buf.Data[row*int(width)+c] = math.Float64frombits(bits)
			}
		}
	}
	buf.UpdateMask()
	return buf, nil
}

func readIFD(data []byte, order binary.ByteOrder, offset uint32) ([]ifdEntry, error) {
	if int(offset)+2 > len(data) {
		return nil, errs.New(errs.KindRasterIOFailure, "IFD offset out of range")
	}
	count := order.Uint16(data[offset : offset+2])
	entries := make([]ifdEntry, 0, count)
	base := int(offset) + 2
	for i := 0; i < int(count); i++ {
		start := base + i*ifdEntrySize
		if start+ifdEntrySize > len(data) {
			return nil, errs.New(errs.KindRasterIOFailure, "IFD entry out of range")
		}
		e := ifdEntry{
			tag:      order.Uint16(data[start : start+2]),
			typ:      order.Uint16(data[start+2 : start+4]),
			count:    order.Uint32(data[start+4 : start+8]),
			valueOff: order.Uint32(data[start+8 : start+12]),
			raw:      data[start+8 : start+12],
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func tagScalar(e ifdEntry, order binary.ByteOrder) uint32 {
	switch e.typ {
	case fieldTypeShort:
		return uint32(order.Uint16(e.raw[:2]))
	default:
		return e.valueOff
	}
}

func typeSize(typ uint16) int {
	switch typ {
	case fieldTypeByte, fieldTypeASCII:
		return 1
	case fieldTypeShort:
		return 2
	case fieldTypeLong:
		return 4
	case fieldTypeRational:
		return 8
	case fieldTypeDouble:
		return 8
	default:
		return 1
	}
}

func tagArrayLong(data []byte, order binary.ByteOrder, e ifdEntry) []uint32 {
	sz := typeSize(e.typ)
	total := sz * int(e.count)
	var src []byte
	if total <= 4 {
		src = e.raw
	} else {
		src = data[e.valueOff : int(e.valueOff)+total]
	}
	out := make([]uint32, e.count)
	for i := 0; i < int(e.count); i++ {
		if e.typ == fieldTypeShort {
			out[i] = uint32(order.Uint16(src[i*2 : i*2+2]))
		} else {
			out[i] = order.Uint32(src[i*4 : i*4+4])
		}
	}
	return out
}

func tagArrayDouble(data []byte, order binary.ByteOrder, e ifdEntry) []float64 {
	total := bytesPerDoubleValue * int(e.count)
	src := data[e.valueOff : int(e.valueOff)+total]
	out := make([]float64, e.count)
	for i := 0; i < int(e.count); i++ {
		out[i] = math.Float64frombits(order.Uint64(src[i*8 : i*8+8]))
	}
	return out
}

func tagString(data []byte, order binary.ByteOrder, e ifdEntry) string {
	total := int(e.count)
	var src []byte
	if total <= 4 {
		src = e.raw[:total]
	} else {
		src = data[e.valueOff : int(e.valueOff)+total]
	}
	for len(src) > 0 && src[len(src)-1] == 0 {
		src = src[:len(src)-1]
	}
	return string(src)
}

// WriteOptions controls optional metadata written alongside raster data.
type WriteOptions struct {
	Projection string
}

// WriteRaster encodes buf as an uncompressed single-strip Float64 TIFF
// carrying ModelPixelScale/ModelTiepoint GeoTIFF tags and a GDAL-style
// NoData ASCII tag.
func WriteRaster(path string, buf *raster.Buffer, opts WriteOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "creating %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	order := binary.LittleEndian

	var header [8]byte
	order.PutUint16(header[0:2], littleEndianMagic)
	order.PutUint16(header[2:4], tiffVersionMagic)

	dataSize := buf.Rows * buf.Cols * bytesPerDoubleValue
	dataOffset := uint32(headerSize)
	nodataStr := fmt.Sprintf("%g", buf.Nodata)
	projection := opts.Projection
	if projection == "" {
		projection = buf.Projection
	}

	type extra struct {
		offset uint32
		bytes  []byte
	}
	var extras []extra
	cursor := dataOffset + uint32(dataSize)

	pixelScale := make([]byte, 24)
	order.PutUint64(pixelScale[0:8], math.Float64bits(math.Abs(buf.GeoTransform[1])))
	order.PutUint64(pixelScale[8:16], math.Float64bits(math.Abs(buf.GeoTransform[5])))
	order.PutUint64(pixelScale[16:24], math.Float64bits(0))
	pixelScaleOffset := cursor
	extras = append(extras, extra{pixelScaleOffset, pixelScale})
	cursor += uint32(len(pixelScale))

	tiepoint := make([]byte, 48)
	order.PutUint64(tiepoint[24:32], math.Float64bits(buf.GeoTransform[0]))
	order.PutUint64(tiepoint[32:40], math.Float64bits(buf.GeoTransform[3]))
	tiepointOffset := cursor
	extras = append(extras, extra{tiepointOffset, tiepoint})
	cursor += uint32(len(tiepoint))

	nodataBytes := append([]byte(nodataStr), 0)
	nodataOffset := cursor
	extras = append(extras, extra{nodataOffset, nodataBytes})
	cursor += uint32(len(nodataBytes))

	var projOffset uint32
	var projBytes []byte
	if projection != "" {
		projBytes = append([]byte(projection), 0)
		projOffset = cursor
		extras = append(extras, extra{projOffset, projBytes})
		cursor += uint32(len(projBytes))
	}

	ifdOffset := cursor

	tags := []struct {
		tag   uint16
		typ   uint16
		count uint32
		value uint32
		raw   []byte
	}{
		{tagImageWidth, fieldTypeLong, 1, uint32(buf.Cols), nil},
		{tagImageLength, fieldTypeLong, 1, uint32(buf.Rows), nil},
		{tagBitsPerSample, fieldTypeShort, 1, 64, nil},
		{tagCompression, fieldTypeShort, 1, 1, nil},
		{tagPhotometric, fieldTypeShort, 1, 1, nil},
		{tagStripOffsets, fieldTypeLong, 1, dataOffset, nil},
		{tagSamplesPerPixel, fieldTypeShort, 1, 1, nil},
		{tagRowsPerStrip, fieldTypeLong, 1, uint32(buf.Rows), nil},
		{tagStripByteCounts, fieldTypeLong, 1, uint32(dataSize), nil},
		{tagSampleFormat, fieldTypeShort, 1, sampleFormatIEEEFP, nil},
		{tagModelPixelScale, fieldTypeDouble, 3, pixelScaleOffset, nil},
		{tagModelTiepoint, fieldTypeDouble, 6, tiepointOffset, nil},
		{tagGDALNoData, fieldTypeASCII, uint32(len(nodataBytes)), nodataOffset, nil},
	}
	if projection != "" {
		tags = append(tags, struct {
			tag   uint16
			typ   uint16
			count uint32
			value uint32
			raw   []byte
		}{tagProjectionWKT, fieldTypeASCII, uint32(len(projBytes)), projOffset, nil})
	}

	order.PutUint32(header[4:8], ifdOffset)
	if _, err := w.Write(header[:]); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing %s", path)
	}

	for _, v := range buf.Data {
		var b [8]byte
		order.PutUint64(b[:], math.Float64bits(v))
		if _, err := w.Write(b[:]); err != nil {
			return errs.Wrap(errs.KindRasterIOFailure, err, "writing raster data to %s", path)
		}
	}

	for _, e := range extras {
		if _, err := w.Write(e.bytes); err != nil {
			return errs.Wrap(errs.KindRasterIOFailure, err, "writing tag data to %s", path)
		}
	}

	var countBuf [2]byte
	order.PutUint16(countBuf[:], uint16(len(tags)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing IFD to %s", path)
	}
	for _, t := range tags {
		var entry [12]byte
		order.PutUint16(entry[0:2], t.tag)
		order.PutUint16(entry[2:4], t.typ)
		order.PutUint32(entry[4:8], t.count)
		order.PutUint32(entry[8:12], t.value)
		if _, err := w.Write(entry[:]); err != nil {
			return errs.Wrap(errs.KindRasterIOFailure, err, "writing IFD entry to %s", path)
		}
	}
	var nextIFD [4]byte
	if _, err := w.Write(nextIFD[:]); err != nil {
		return errs.Wrap(errs.KindRasterIOFailure, err, "writing %s", path)
	}

	return w.Flush()
}
