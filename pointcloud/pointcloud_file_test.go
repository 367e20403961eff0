package pointcloud

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func samplePoints() []Point {
	return []Point{
		NewPoint(0.5, -1.25, 2, 255, 0, 10, ConfidenceHigh),
		NewPoint(-3, 0.125, 0.75, 1, 2, 3, ConfidenceMedium),
		NewPoint(10, 20, -30, 9, 8, 7, ConfidenceLow),
	}
}

func TestPCDBinaryRoundTrip(t *testing.T) {
	snap := NewSnapshot(samplePoints())

	var buf bytes.Buffer
	test.That(t, ToPCD(snap, &buf, PCDBinary), test.ShouldBeNil)

	header, body, found := strings.Cut(buf.String(), "DATA binary\n")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, header, test.ShouldStartWith, "# .PCD v0.7 - "+CoordinateConvention+"\n")
	test.That(t, header, test.ShouldContainSubstring, "FIELDS x y z rgb confidence\n")
	test.That(t, header, test.ShouldContainSubstring, "POINTS 3\n")
	test.That(t, len(body), test.ShouldEqual, 3*PCDRecordSize)

	points, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldResemble, samplePoints())
}

func TestPCDAsciiRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, ToPCD(NewSnapshot(samplePoints()), &buf, PCDAscii), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "0.5 -1.25 2 16711690 2\n")

	points, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldResemble, samplePoints())
}

func TestPCDDeterministic(t *testing.T) {
	acc, err := NewAccumulator(4)
	test.That(t, err, test.ShouldBeNil)
	acc.Append(makeBatch(0, 7))

	var first, second bytes.Buffer
	test.That(t, ToPCD(acc.Snapshot(), &first, PCDBinary), test.ShouldBeNil)
	test.That(t, ToPCD(acc.Snapshot(), &second, PCDBinary), test.ShouldBeNil)
	test.That(t, first.Bytes(), test.ShouldResemble, second.Bytes())

	points, err := ReadPCD(&first)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(points), test.ShouldEqual, 4)
	test.That(t, points[0].Position.X, test.ShouldEqual, 3.)
}

func TestReadPCDForeignFields(t *testing.T) {
	in := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\n" +
		"VIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA ascii\n1 2 3\n4 5 6"
	points, err := ReadPCD(strings.NewReader(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldResemble, []Point{
		NewPoint(1, 2, 3, 255, 255, 255, ConfidenceHigh),
		NewPoint(4, 5, 6, 255, 255, 255, ConfidenceHigh),
	})

	_, err = ReadPCD(strings.NewReader("VERSION .6\n"))
	test.That(t, err, test.ShouldNotBeNil)

	truncated := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\n" +
		"VIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA binary\n\x00\x00"
	_, err = ReadPCD(strings.NewReader(truncated))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLASRoundTrip(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "cloud.las")
	test.That(t, WriteToLASFile(NewSnapshot(samplePoints()), fn), test.ShouldBeNil)

	points, err := NewFromLASFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(points), test.ShouldEqual, 3)
	for i, expected := range samplePoints() {
		test.That(t, points[i].Position.X, test.ShouldAlmostEqual, expected.Position.X, 0.01)
		test.That(t, points[i].Position.Y, test.ShouldAlmostEqual, expected.Position.Y, 0.01)
		test.That(t, points[i].Position.Z, test.ShouldAlmostEqual, expected.Position.Z, 0.01)
		test.That(t, points[i].Color, test.ShouldResemble, expected.Color)
		test.That(t, points[i].Confidence, test.ShouldEqual, expected.Confidence)
	}
}

func TestLASEmpty(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "empty.las")
	test.That(t, WriteToLASFile(NewSnapshot(nil), fn), test.ShouldBeNil)

	points, err := NewFromLASFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldBeEmpty)

	// The header-only file is still readable after points are written over it.
	test.That(t, WriteToLASFile(NewSnapshot(samplePoints()), fn), test.ShouldBeNil)
	points, err = NewFromLASFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldHaveLength, 3)
}

func TestPLYRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, ToPLY(NewSnapshot(samplePoints()), &buf), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldStartWith, "ply\nformat ascii 1.0\ncomment "+CoordinateConvention+"\n")
	test.That(t, buf.String(), test.ShouldContainSubstring, "element vertex 3\n")
	test.That(t, buf.String(), test.ShouldContainSubstring, "0.5 -1.25 2 255 0 10 2\n")

	points, err := ReadPLY(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldResemble, samplePoints())
}

func TestReadPLY(t *testing.T) {
	t.Run("empty cloud", func(t *testing.T) {
		var buf bytes.Buffer
		test.That(t, ToPLY(NewSnapshot(nil), &buf), test.ShouldBeNil)
		points, err := ReadPLY(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, points, test.ShouldBeEmpty)
	})

	t.Run("positions only", func(t *testing.T) {
		in := "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\n" +
			"property float z\nend_header\n1 2 3"
		points, err := ReadPLY(strings.NewReader(in))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, points, test.ShouldResemble, []Point{NewPoint(1, 2, 3, 255, 255, 255, ConfidenceHigh)})
	})

	t.Run("binary is rejected", func(t *testing.T) {
		in := "ply\nformat binary_little_endian 1.0\nelement vertex 0\nend_header\n"
		_, err := ReadPLY(strings.NewReader(in))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "invalid ply file")
	})

	t.Run("missing coordinate", func(t *testing.T) {
		in := "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nend_header\n1 2"
		_, err := ReadPLY(strings.NewReader(in))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "has no z")
	})
}

func TestConfidenceFromString(t *testing.T) {
	c, err := ConfidenceFromString("Medium")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, ConfidenceMedium)
	test.That(t, c.String(), test.ShouldEqual, "medium")
	_, err = ConfidenceFromString("certain")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, Confidence(7).Valid(), test.ShouldBeFalse)
}
