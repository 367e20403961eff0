package recorder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	lzf "github.com/zhuyie/golzf"
	"go.uber.org/multierr"

	"github.com/identify/scanengine/frame"
	"github.com/identify/scanengine/rimage"
	"github.com/identify/scanengine/rimage/transform"
	"github.com/identify/scanengine/spatialmath"
)

// File name suffixes of the five files persisted per frame.
const (
	ColorSuffix      = "color.qoi"
	DepthSuffix      = "depth.lzf"
	ConfidenceSuffix = "confidence.lzf"
	PoseSuffix       = "pose.cbor"
	CameraSuffix     = "camera.cbor"
)

// FrameFileName returns the name of one file of frame index.
func FrameFileName(index int, suffix string) string {
	return fmt.Sprintf("frame_%06d_%s", index, suffix)
}

type frameFile struct {
	suffix string
	write  func(w io.Writer, index int, f *frame.Frame) error
}

// frameFiles are written in this order. Each one is a separate task.
var frameFiles = []frameFile{
	{ColorSuffix, func(w io.Writer, _ int, f *frame.Frame) error { return qoi.Encode(w, f.Color) }},
	{DepthSuffix, writeDepth},
	{ConfidenceSuffix, writeConfidence},
	{PoseSuffix, writePose},
	{CameraSuffix, writeCamera},
}

// FilesPerFrame is the number of files, and tasks, per persisted frame.
var FilesPerFrame = len(frameFiles)

// lzf map layout: magic, element size, width, height, compressed length, then the LZF payload.
// An element size of 4 holds little endian float32 meters, 1 holds confidence levels.
const lzfMagic = "SLZF"

type lzfHeader struct {
	Magic          [4]byte
	ElemSize       uint32
	Width          uint32
	Height         uint32
	CompressedSize uint32
}

func writeLZF(w io.Writer, width, height, elemSize int, raw []byte) error {
	out := make([]byte, len(raw)+len(raw)/16+64)
	n, err := lzf.Compress(raw, out)
	if err != nil {
		return errors.Wrap(err, "lzf compress")
	}
	header := lzfHeader{
		ElemSize:       uint32(elemSize),
		Width:          uint32(width),
		Height:         uint32(height),
		CompressedSize: uint32(n),
	}
	copy(header.Magic[:], lzfMagic)
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	_, err = w.Write(out[:n])
	return err
}

func readLZF(r io.Reader, elemSize int) (width, height int, raw []byte, err error) {
	var header lzfHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, 0, nil, errors.Wrap(err, "reading lzf header")
	}
	if string(header.Magic[:]) != lzfMagic {
		return 0, 0, nil, errors.Errorf("bad lzf magic %q", header.Magic[:])
	}
	if int(header.ElemSize) != elemSize {
		return 0, 0, nil, errors.Errorf("lzf element size is %d, expected %d", header.ElemSize, elemSize)
	}
	width, height = int(header.Width), int(header.Height)
	compressed := make([]byte, header.CompressedSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return 0, 0, nil, errors.Wrap(err, "reading lzf payload")
	}
	raw = make([]byte, width*height*elemSize)
	n, err := lzf.Decompress(compressed, raw)
	if err != nil {
		return 0, 0, nil, errors.Wrap(err, "lzf decompress")
	}
	if n != len(raw) {
		return 0, 0, nil, errors.Errorf("lzf payload is %d bytes, expected %d", n, len(raw))
	}
	return width, height, raw, nil
}

func writeDepth(w io.Writer, _ int, f *frame.Frame) error {
	data := f.Depth.Data()
	raw := make([]byte, 4*len(data))
	for i, d := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(d))
	}
	return writeLZF(w, f.Depth.Width(), f.Depth.Height(), 4, raw)
}

// writeConfidence writes the confidence map, or a uniformly high one for sources without one.
func writeConfidence(w io.Writer, _ int, f *frame.Frame) error {
	cm := f.Confidence
	if cm == nil {
		cm = rimage.NewUniformConfidenceMap(f.Depth.Width(), f.Depth.Height(), 2)
	}
	return writeLZF(w, cm.Width(), cm.Height(), 1, cm.Data())
}

// PoseRecord is the content of a pose file.
type PoseRecord struct {
	Index      int           `cbor:"index"`
	Timestamp  time.Duration `cbor:"timestamp_ns"`
	Convention string        `cbor:"convention"`
	// Matrix is the camera to world transform, row major.
	Matrix [4][4]float64 `cbor:"matrix"`
}

// CameraRecord is the content of a camera file.
type CameraRecord struct {
	Intrinsics  transform.PinholeCameraIntrinsics `cbor:"intrinsics"`
	DepthWidth  int                               `cbor:"depth_width"`
	DepthHeight int                               `cbor:"depth_height"`
}

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func writePose(w io.Writer, index int, f *frame.Frame) error {
	return cborEncMode.NewEncoder(w).Encode(PoseRecord{
		Index:      index,
		Timestamp:  f.Timestamp,
		Convention: f.Convention.String(),
		Matrix:     f.Pose.Rows(),
	})
}

func writeCamera(w io.Writer, _ int, f *frame.Frame) error {
	return cborEncMode.NewEncoder(w).Encode(CameraRecord{
		Intrinsics:  *f.Intrinsics,
		DepthWidth:  f.Depth.Width(),
		DepthHeight: f.Depth.Height(),
	})
}

func readFile(path string, read func(r io.Reader) error) (err error) {
	//nolint:gosec
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()
	return errors.Wrapf(read(bufio.NewReader(file)), "reading %s", filepath.Base(path))
}

// LoadFrame reads frame index back from a session data directory.
func LoadFrame(dataDir string, index int) (*frame.Frame, error) {
	path := func(suffix string) string { return filepath.Join(dataDir, FrameFileName(index, suffix)) }
	f := &frame.Frame{}

	if err := readFile(path(ColorSuffix), func(r io.Reader) error {
		img, err := qoi.Decode(r)
		f.Color = img
		return err
	}); err != nil {
		return nil, err
	}

	if err := readFile(path(DepthSuffix), func(r io.Reader) error {
		width, height, raw, err := readLZF(r, 4)
		if err != nil {
			return err
		}
		data := make([]float32, width*height)
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		f.Depth, err = rimage.NewDepthMapFromData(width, height, data)
		return err
	}); err != nil {
		return nil, err
	}

	if err := readFile(path(ConfidenceSuffix), func(r io.Reader) error {
		width, height, raw, err := readLZF(r, 1)
		if err != nil {
			return err
		}
		f.Confidence, err = rimage.NewConfidenceMapFromData(width, height, raw)
		return err
	}); err != nil {
		return nil, err
	}

	var pose PoseRecord
	if err := readFile(path(PoseSuffix), func(r io.Reader) error {
		return cbor.NewDecoder(r).Decode(&pose)
	}); err != nil {
		return nil, err
	}
	f.Pose = spatialmath.NewPoseFromRows(pose.Matrix)
	f.Timestamp = pose.Timestamp
	if pose.Convention == frame.ConventionARKit.String() {
		f.Convention = frame.ConventionARKit
	}

	var camera CameraRecord
	if err := readFile(path(CameraSuffix), func(r io.Reader) error {
		return cbor.NewDecoder(r).Decode(&camera)
	}); err != nil {
		return nil, err
	}
	f.Intrinsics = &camera.Intrinsics

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
