package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType is the data encoding of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary_compressed format for pcd. Not supported for reading or writing.
	PCDCompressed PCDType = 2
)

// PCDTypeFromString parses "binary" or "ascii".
func PCDTypeFromString(s string) (PCDType, error) {
	switch strings.ToLower(s) {
	case "", "binary":
		return PCDBinary, nil
	case "ascii":
		return PCDAscii, nil
	}
	return PCDBinary, errors.Errorf("unsupported pcd encoding %q", s)
}

// CoordinateConvention is written as a comment at the top of every exported pcd file.
const CoordinateConvention = "world frame, meters, right-handed"

// PCDRecordSize is the size in bytes of one binary point record: x y z as float32, rgb as uint32
// and confidence as uint8, all little endian.
const PCDRecordSize = 17

// ToPCD writes points as a PCD v0.7 file with fields x y z rgb confidence. Points are written in
// iteration order, so the same snapshot always produces the same bytes.
func ToPCD(points *Snapshot, out io.Writer, outputType PCDType) error {
	if outputType != PCDBinary && outputType != PCDAscii {
		return errors.Errorf("unsupported pcd output type %d", outputType)
	}
	dataName := "binary"
	if outputType == PCDAscii {
		dataName = "ascii"
	}

	if _, err := fmt.Fprintf(out,
		"# .PCD v0.7 - %s\n"+
			"VERSION .7\n"+
			"FIELDS x y z rgb confidence\n"+
			"SIZE 4 4 4 4 1\n"+
			"TYPE F F F U U\n"+
			"COUNT 1 1 1 1 1\n"+
			"WIDTH %d\n"+
			"HEIGHT 1\n"+
			"VIEWPOINT 0 0 0 1 0 0 0\n"+
			"POINTS %d\n"+
			"DATA %s\n",
		CoordinateConvention, points.Len(), points.Len(), dataName); err != nil {
		return err
	}

	var err error
	buf := make([]byte, PCDRecordSize)
	points.Iterate(func(_ int, p Point) bool {
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.Position.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Position.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Position.Z)))
			binary.LittleEndian.PutUint32(buf[12:], p.PackedRGB())
			buf[16] = byte(p.Confidence)
			_, err = out.Write(buf)
		case PCDAscii:
			_, err = fmt.Fprintf(out, "%s %s %s %d %d\n",
				formatFloat32(p.Position.X), formatFloat32(p.Position.Y), formatFloat32(p.Position.Z),
				p.PackedRGB(), p.Confidence)
		}
		return err == nil
	})
	return err
}

func formatFloat32(v float64) string {
	return strconv.FormatFloat(float64(float32(v)), 'g', -1, 32)
}

type pcdField struct {
	name  string
	size  int
	type_ string
}

type pcdHeader struct {
	fields []pcdField
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

func (h *pcdHeader) index(name string) int {
	for i, f := range h.fields {
		if f.name == name {
			return i
		}
	}
	return -1
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = make([]pcdField, len(tokens))
		for i, token := range tokens {
			header.fields[i].name = token
		}
		if header.index("x") != 0 || header.index("y") != 1 || header.index("z") != 2 {
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE", "TYPE", "COUNT":
		if len(tokens) != len(header.fields) {
			return errors.Errorf("unexpected number of fields in %s line", name)
		}
		for i, token := range tokens {
			switch name {
			case "SIZE":
				header.fields[i].size, err = strconv.Atoi(token)
				if err != nil || header.fields[i].size <= 0 || header.fields[i].size > 8 {
					return errors.Errorf("invalid SIZE field %s", token)
				}
			case "TYPE":
				header.fields[i].type_ = token
			case "COUNT":
				if token != "1" {
					return errors.Errorf("unsupported COUNT field %s", token)
				}
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads a pcd file written by ToPCD. Files with only x y z, or x y z rgb, are accepted
// too; missing colors read as white and missing confidence as high.
func ReadPCD(inRaw io.Reader) ([]Point, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.New("compressed pcd not supported")
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) ([]Point, error) {
	points := make([]Point, 0, header.points)
	values := make([]float64, len(header.fields))
	for i := uint64(0); i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != len(header.fields) {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		for j, token := range tokens {
			values[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		points = append(points, valuesToPoint(values, header))
	}
	return points, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) ([]Point, error) {
	recordSize := 0
	for _, f := range header.fields {
		recordSize += f.size
	}
	record := make([]byte, recordSize)
	values := make([]float64, len(header.fields))
	points := make([]Point, 0, header.points)
	for i := uint64(0); i < header.points; i++ {
		if _, err := io.ReadFull(in, record); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		offset := 0
		for j, f := range header.fields {
			values[j] = decodeBinaryValue(record[offset:offset+f.size], f)
			offset += f.size
		}
		points = append(points, valuesToPoint(values, header))
	}
	return points, nil
}

func decodeBinaryValue(b []byte, f pcdField) float64 {
	switch {
	case f.type_ == "F" && f.size == 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case f.type_ == "F" && f.size == 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case f.size == 1:
		return float64(b[0])
	case f.size == 2:
		return float64(binary.LittleEndian.Uint16(b))
	case f.size == 4 && f.type_ == "I":
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case f.size == 4:
		return float64(binary.LittleEndian.Uint32(b))
	default:
		return float64(binary.LittleEndian.Uint64(b))
	}
}

func valuesToPoint(values []float64, header pcdHeader) Point {
	p := Point{
		Position:   r3.Vector{X: values[0], Y: values[1], Z: values[2]},
		Color:      UnpackRGB(0xFFFFFF),
		Confidence: ConfidenceHigh,
	}
	if idx := header.index("rgb"); idx >= 0 {
		p.Color = UnpackRGB(uint32(values[idx]))
	}
	if idx := header.index("confidence"); idx >= 0 {
		p.Confidence = Confidence(values[idx])
	}
	return p
}
