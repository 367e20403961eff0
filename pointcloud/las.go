package pointcloud

import (
	"encoding/binary"
	"image/color"
	"os"
	"time"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

const (
	// lasClassMask keeps the 5 classification bits of a LAS classification byte.
	lasClassMask = 0x1F

	lasHeaderSize         = 235
	lasPointFormat        = 2
	lasPointFormat2Length = 26
)

// lasHeader is the LAS 1.3 public header block as lidario lays it out.
type lasHeader struct {
	Signature          [4]byte
	FileSourceID       uint16
	GlobalEncoding     uint16
	ProjectID1         uint32
	ProjectID2         uint16
	ProjectID3         uint16
	ProjectID4         [8]byte
	VersionMajor       uint8
	VersionMinor       uint8
	SystemID           [32]byte
	GeneratingSoftware [32]byte
	CreationDay        uint16
	CreationYear       uint16
	HeaderSize         uint16
	OffsetToPoints     uint32
	NumberOfVLRs       uint32
	PointFormatID      uint8
	PointRecordLength  uint16
	NumberPoints       uint32
	PointsByReturn     [5]uint32
	Scale              [3]float64
	Offset             [3]float64
	// MaxX, MinX, MaxY, MinY, MaxZ, MinZ.
	Bounds            [6]float64
	WaveformDataStart uint64
}

// WriteToLASFile writes points to a LAS file at fn using point format 2 (with RGB). The confidence
// class is stored in the LAS classification field.
func WriteToLASFile(points *Snapshot, fn string) (err error) {
	if points.Len() == 0 {
		return writeEmptyLASFile(fn)
	}
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	if err = lf.AddHeader(lidario.LasHeader{PointFormatID: lasPointFormat}); err != nil {
		return err
	}

	points.Iterate(func(_ int, p Point) bool {
		pr0 := &lidario.PointRecord0{
			X: p.Position.X,
			Y: p.Position.Y,
			Z: p.Position.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: byte(p.Confidence) & lasClassMask,
			},
			PointSourceID: 1,
		}
		lp := &lidario.PointRecord2{
			PointRecord0: pr0,
			RGB: &lidario.RgbData{
				Red:   uint16(p.Color.R) * 256,
				Green: uint16(p.Color.G) * 256,
				Blue:  uint16(p.Color.B) * 256,
			},
		}
		err = lf.AddLasPoint(lp)
		return err == nil
	})
	return err
}

// writeEmptyLASFile writes a header with no point records. lidario refuses to write a file
// without points but reads one back fine.
func writeEmptyLASFile(fn string) (err error) {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	now := time.Now()
	h := lasHeader{
		VersionMajor:      1,
		VersionMinor:      3,
		CreationDay:       uint16(now.YearDay()),
		CreationYear:      uint16(now.Year()),
		HeaderSize:        lasHeaderSize,
		OffsetToPoints:    lasHeaderSize,
		PointFormatID:     lasPointFormat,
		PointRecordLength: lasPointFormat2Length,
		Scale:             [3]float64{0.001, 0.001, 0.001},
	}
	copy(h.Signature[:], "LASF")
	copy(h.SystemID[:], "OTHER")
	copy(h.GeneratingSoftware[:], "scanengine")
	return binary.Write(f, binary.LittleEndian, &h)
}

// NewFromLASFile reads the points of a LAS file written by WriteToLASFile.
func NewFromLASFile(fn string) ([]Point, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	points := make([]Point, 0, lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		lp, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := lp.PointData()
		p := Point{
			Position:   r3.Vector{X: data.X, Y: data.Y, Z: data.Z},
			Color:      color.NRGBA{R: 255, G: 255, B: 255, A: 255},
			Confidence: Confidence(data.ClassBitField.Value & lasClassMask),
		}
		if rgb := lp.RgbData(); rgb != nil {
			p.Color = color.NRGBA{R: uint8(rgb.Red / 256), G: uint8(rgb.Green / 256), B: uint8(rgb.Blue / 256), A: 255}
		}
		points = append(points, p)
	}
	return points, nil
}
