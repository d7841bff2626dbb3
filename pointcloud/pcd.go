package pointcloud

import (
	"bufio"
	"encoding/binary"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType is the DATA layout of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

const pcdCommentChar = "#"

// pcdField is one FIELDS entry together with its SIZE, TYPE and COUNT.
type pcdField struct {
	name  string
	size  int
	kind  byte
	count int
}

type pcdHeader struct {
	fields []pcdField
	width  int
	height int
	points int
	data   PCDType
}

// column returns where the named field's first value sits in a record, or -1.
func (h *pcdHeader) column(name string) int {
	col := 0
	for _, f := range h.fields {
		if f.name == name {
			return col
		}
		col += f.count
	}
	return -1
}

func (h *pcdHeader) columns() int {
	n := 0
	for _, f := range h.fields {
		n += f.count
	}
	return n
}

func (h *pcdHeader) recordSize() int {
	n := 0
	for _, f := range h.fields {
		n += f.size * f.count
	}
	return n
}

func parsePCDInts(key string, tokens []string, want int) ([]int, error) {
	if len(tokens) != want {
		return nil, errors.Errorf("%s has %d values for %d fields", key, len(tokens), want)
	}
	out := make([]int, len(tokens))
	for i, token := range tokens {
		v, err := strconv.Atoi(token)
		if err != nil || v < 1 {
			return nil, errors.Errorf("invalid %s value %q", key, token)
		}
		out[i] = v
	}
	return out, nil
}

func parsePCDHeaderLine(h *pcdHeader, key, value string) error {
	tokens := strings.Fields(value)
	switch key {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		h.fields = make([]pcdField, len(tokens))
		for i, name := range tokens {
			h.fields[i] = pcdField{name: name, count: 1}
		}
	case "SIZE", "COUNT":
		vals, err := parsePCDInts(key, tokens, len(h.fields))
		if err != nil {
			return err
		}
		for i, v := range vals {
			if key == "SIZE" {
				h.fields[i].size = v
			} else {
				h.fields[i].count = v
			}
		}
	case "TYPE":
		if len(tokens) != len(h.fields) {
			return errors.Errorf("TYPE has %d values for %d fields", len(tokens), len(h.fields))
		}
		for i, token := range tokens {
			if token != "F" && token != "I" && token != "U" {
				return errors.Errorf("invalid TYPE value %q", token)
			}
			h.fields[i].kind = token[0]
		}
	case "WIDTH", "HEIGHT", "POINTS":
		v, err := strconv.Atoi(value)
		if err != nil || v < 0 {
			return errors.Errorf("invalid %s value %q", key, value)
		}
		switch key {
		case "WIDTH":
			h.width = v
		case "HEIGHT":
			h.height = v
		default:
			h.points = v
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("VIEWPOINT needs 7 values, got %d", len(tokens))
		}
		for _, token := range tokens {
			if _, err := strconv.ParseFloat(token, 64); err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT value %s", token)
			}
		}
	case "DATA":
		switch value {
		case "ascii":
			h.data = PCDAscii
		case "binary":
			h.data = PCDBinary
		case "binary_compressed":
			h.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data %s", value)
		}
	default:
		return errors.Errorf("unknown pcd header entry %s", key)
	}
	return nil
}

func (h *pcdHeader) validate() error {
	if len(h.fields) == 0 {
		return errors.New("pcd header has no FIELDS")
	}
	for _, f := range h.fields {
		switch {
		case f.kind == 0 || f.size == 0:
			return errors.Errorf("field %s has no SIZE or TYPE", f.name)
		case f.kind == 'F' && f.size != 4 && f.size != 8:
			return errors.Errorf("unsupported float size %d for field %s", f.size, f.name)
		case f.size != 1 && f.size != 2 && f.size != 4 && f.size != 8:
			return errors.Errorf("unsupported size %d for field %s", f.size, f.name)
		}
	}
	if h.points != h.width*h.height {
		return errors.Errorf("POINTS %d does not match WIDTH*HEIGHT %d", h.points, h.width*h.height)
	}
	return nil
}

// readPCDHeader consumes the header up to and including the DATA line.
func readPCDHeader(in *bufio.Reader) (pcdHeader, error) {
	var h pcdHeader
	sawPoints := false
	for lineNum := 1; ; lineNum++ {
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return h, errors.Wrapf(err, "reading header line %d", lineNum)
		}
		if err != nil && line == "" {
			return h, errors.New("pcd header ended before DATA")
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		key, value, _ := strings.Cut(strings.TrimSpace(line), " ")
		if key == "" {
			continue
		}
		if err := parsePCDHeaderLine(&h, key, strings.TrimSpace(value)); err != nil {
			return h, errors.Wrapf(err, "header line %d", lineNum)
		}
		sawPoints = sawPoints || key == "POINTS"
		if key == "DATA" {
			if !sawPoints {
				h.points = h.width * h.height
			}
			return h, h.validate()
		}
	}
}

// pcdLayout locates the fields Points is built from. Missing optional fields are -1.
type pcdLayout struct {
	x, y, z    int
	nx, ny, nz int
	rgb        int
	rgbFloat   bool
}

func (h *pcdHeader) layout() (pcdLayout, error) {
	l := pcdLayout{
		x: h.column("x"), y: h.column("y"), z: h.column("z"),
		nx: h.column("normal_x"), ny: h.column("normal_y"), nz: h.column("normal_z"),
		rgb: h.column("rgb"),
	}
	if l.x < 0 || l.y < 0 || l.z < 0 {
		return l, errors.New("pcd needs x, y and z fields")
	}
	normals := 0
	for _, c := range []int{l.nx, l.ny, l.nz} {
		if c >= 0 {
			normals++
		}
	}
	if normals != 0 && normals != 3 {
		return l, errors.New("pcd has some but not all of normal_x, normal_y and normal_z")
	}
	if l.rgb < 0 {
		l.rgb = h.column("rgba")
	}
	for _, f := range h.fields {
		if f.name == "rgb" || f.name == "rgba" {
			l.rgbFloat = f.kind == 'F'
			break
		}
	}
	return l, nil
}

func (l pcdLayout) hasNormals() bool {
	return l.nx >= 0
}

func (l pcdLayout) add(pts *Points, rec []float64) {
	pts.Positions = append(pts.Positions, r3.Vector{X: rec[l.x], Y: rec[l.y], Z: rec[l.z]})
	if l.hasNormals() {
		pts.Normals = append(pts.Normals, r3.Vector{X: rec[l.nx], Y: rec[l.ny], Z: rec[l.nz]})
	}
	if l.rgb >= 0 {
		// PCL stores packed colors as the bits of a float32
		var packed uint32
		if l.rgbFloat {
			packed = math.Float32bits(float32(rec[l.rgb]))
		} else {
			packed = uint32(rec[l.rgb])
		}
		pts.Colors = append(pts.Colors, unpackColor(packed))
	}
}

func packColor(c color.NRGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

func unpackColor(packed uint32) color.NRGBA {
	return color.NRGBA{uint8(packed >> 16), uint8(packed >> 8), uint8(packed), 255}
}

func decodePCDValue(kind byte, b []byte) float64 {
	switch {
	case kind == 'F' && len(b) == 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case kind == 'F':
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case kind == 'I' && len(b) == 1:
		return float64(int8(b[0]))
	case kind == 'I' && len(b) == 2:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case kind == 'I' && len(b) == 4:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case kind == 'I':
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case len(b) == 1:
		return float64(b[0])
	case len(b) == 2:
		return float64(binary.LittleEndian.Uint16(b))
	case len(b) == 4:
		return float64(binary.LittleEndian.Uint32(b))
	default:
		return float64(binary.LittleEndian.Uint64(b))
	}
}

func readPCDAscii(in *bufio.Reader, h pcdHeader, fn func(rec []float64)) error {
	rec := make([]float64, h.columns())
	for i := 0; i < h.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != len(rec) {
			return errors.Errorf("point %d has %d values, expected %d", i, len(tokens), len(rec))
		}
		for j, token := range tokens {
			if rec[j], err = strconv.ParseFloat(token, 64); err != nil {
				return errors.Wrapf(err, "point %d", i)
			}
		}
		fn(rec)
	}
	return nil
}

func readPCDBinary(in *bufio.Reader, h pcdHeader, fn func(rec []float64)) error {
	buf := make([]byte, h.recordSize())
	rec := make([]float64, h.columns())
	for i := 0; i < h.points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return errors.Wrapf(err, "reading point %d", i)
		}
		col, off := 0, 0
		for _, f := range h.fields {
			for k := 0; k < f.count; k++ {
				rec[col] = decodePCDValue(f.kind, buf[off:off+f.size])
				col++
				off += f.size
			}
		}
		fn(rec)
	}
	return nil
}

// ReadPCD reads an ascii or binary PCD file. It needs x, y and z fields and picks up
// normal_x, normal_y, normal_z and rgb (or rgba) when present; other fields are skipped.
func ReadPCD(r io.Reader) (*Points, error) {
	in := bufio.NewReader(r)
	h, err := readPCDHeader(in)
	if err != nil {
		return nil, err
	}
	l, err := h.layout()
	if err != nil {
		return nil, err
	}
	pts := &Points{Positions: make([]r3.Vector, 0, h.points)}
	add := func(rec []float64) { l.add(pts, rec) }
	switch h.data {
	case PCDAscii:
		err = readPCDAscii(in, h, add)
	case PCDBinary:
		err = readPCDBinary(in, h, add)
	default:
		return nil, errors.New("compressed pcd is not supported")
	}
	if err != nil {
		return nil, err
	}
	return pts, nil
}

// ToPCD writes out a point cloud to a PCD file of the given layout.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	return WritePCD(PointsFromCloud(cloud), out, outputType)
}

// WritePCD writes x, y and z fields, followed by normal_x, normal_y, normal_z when every point
// has a normal and by a packed rgb field when every point has a color.
func WritePCD(pts *Points, out io.Writer, outputType PCDType) error {
	var data string
	switch outputType {
	case PCDAscii:
		data = "ascii"
	case PCDBinary:
		data = "binary"
	case PCDCompressed:
		return errors.New("compressed PCD is not supported")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}

	names := []string{"x", "y", "z"}
	if pts.HasNormals() {
		names = append(names, "normal_x", "normal_y", "normal_z")
	}
	hasColor := pts.Len() > 0 && len(pts.Colors) == pts.Len()
	if hasColor {
		names = append(names, "rgb")
	}
	sizes := make([]string, len(names))
	types := make([]string, len(names))
	counts := make([]string, len(names))
	for i := range names {
		sizes[i], types[i], counts[i] = "4", "F", "1"
	}
	if hasColor {
		types[len(types)-1] = "U"
	}

	var header strings.Builder
	header.WriteString("VERSION .7\n")
	header.WriteString("FIELDS " + strings.Join(names, " ") + "\n")
	header.WriteString("SIZE " + strings.Join(sizes, " ") + "\n")
	header.WriteString("TYPE " + strings.Join(types, " ") + "\n")
	header.WriteString("COUNT " + strings.Join(counts, " ") + "\n")
	n := strconv.Itoa(pts.Len())
	header.WriteString("WIDTH " + n + "\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\n")
	header.WriteString("POINTS " + n + "\nDATA " + data + "\n")
	if _, err := io.WriteString(out, header.String()); err != nil {
		return err
	}

	floats := make([]float64, 0, 6)
	buf := make([]byte, 4*len(names))
	var line []byte
	for i, p := range pts.Positions {
		floats = append(floats[:0], p.X, p.Y, p.Z)
		if pts.HasNormals() {
			nv := pts.Normals[i]
			floats = append(floats, nv.X, nv.Y, nv.Z)
		}
		var packed uint32
		if hasColor {
			packed = packColor(pts.Colors[i])
		}

		var err error
		if outputType == PCDBinary {
			for j, v := range floats {
				binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(float32(v)))
			}
			if hasColor {
				binary.LittleEndian.PutUint32(buf[4*len(floats):], packed)
			}
			_, err = out.Write(buf)
		} else {
			line = line[:0]
			for j, v := range floats {
				if j > 0 {
					line = append(line, ' ')
				}
				line = strconv.AppendFloat(line, v, 'f', 6, 64)
			}
			if hasColor {
				line = append(line, ' ')
				line = strconv.AppendUint(line, uint64(packed), 10)
			}
			line = append(line, '\n')
			_, err = out.Write(line)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
