package rimage

import (
	"image"
	"image/color"
	"math"
	"testing"

	"go.viam.com/test"
)

func checkerboard() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{0, 0, 0, 255})
	img.SetNRGBA(1, 0, color.NRGBA{200, 0, 0, 255})
	img.SetNRGBA(0, 1, color.NRGBA{0, 100, 0, 255})
	img.SetNRGBA(1, 1, color.NRGBA{200, 100, 40, 255})
	return img
}

func TestSampleColorNearest(t *testing.T) {
	img := checkerboard()
	test.That(t, SampleColor(img, 0.2, 0.1, SampleNearest), test.ShouldResemble, color.NRGBA{0, 0, 0, 255})
	test.That(t, SampleColor(img, 0.7, 0.1, SampleNearest), test.ShouldResemble, color.NRGBA{200, 0, 0, 255})
	// Outside the image clamps to the border.
	test.That(t, SampleColor(img, 9, 9, SampleNearest), test.ShouldResemble, color.NRGBA{200, 100, 40, 255})
	test.That(t, SampleColor(img, -3, 0, SampleNearest), test.ShouldResemble, color.NRGBA{0, 0, 0, 255})
}

func TestSampleColorBilinear(t *testing.T) {
	img := checkerboard()
	test.That(t, SampleColor(img, 0, 0, SampleBilinear), test.ShouldResemble, color.NRGBA{0, 0, 0, 255})
	test.That(t, SampleColor(img, 0.5, 0, SampleBilinear), test.ShouldResemble, color.NRGBA{100, 0, 0, 255})
	test.That(t, SampleColor(img, 0.5, 0.5, SampleBilinear), test.ShouldResemble, color.NRGBA{100, 50, 10, 255})
	test.That(t, SampleColor(img, 1, 1, SampleBilinear), test.ShouldResemble, color.NRGBA{200, 100, 40, 255})
}

func TestSamplingFromString(t *testing.T) {
	s, err := SamplingFromString("Bilinear")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s, test.ShouldEqual, SampleBilinear)
	test.That(t, s.String(), test.ShouldEqual, "bilinear")

	s, err = SamplingFromString("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s, test.ShouldEqual, SampleNearest)

	_, err = SamplingFromString("lanczos")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConvertToNRGBA(t *testing.T) {
	img := checkerboard()
	test.That(t, ConvertToNRGBA(img), test.ShouldEqual, img)

	rgba := image.NewRGBA(image.Rect(0, 0, 3, 2))
	rgba.Set(2, 1, color.RGBA{10, 20, 30, 255})
	converted := ConvertToNRGBA(rgba)
	test.That(t, converted.Bounds(), test.ShouldResemble, image.Rect(0, 0, 3, 2))
	test.That(t, converted.NRGBAAt(2, 1), test.ShouldResemble, color.NRGBA{10, 20, 30, 255})
}

func TestDepthAndConfidenceMaps(t *testing.T) {
	_, err := NewDepthMapFromData(2, 2, []float32{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)

	dm, err := NewDepthMapFromData(2, 2, []float32{0, 1.5, float32(math.NaN()), 0.25})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm.GetDepth(1, 0), test.ShouldEqual, float32(1.5))
	test.That(t, dm.Contains(2, 0), test.ShouldBeFalse)
	lo, hi, ok := dm.MinMax()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, lo, test.ShouldEqual, float32(0.25))
	test.That(t, hi, test.ShouldEqual, float32(1.5))

	_, _, ok = NewEmptyDepthMap(3, 3).MinMax()
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, ValidDepth(0), test.ShouldBeFalse)
	test.That(t, ValidDepth(float32(math.Inf(1))), test.ShouldBeFalse)
	test.That(t, ValidDepth(0.3), test.ShouldBeTrue)

	cm := NewUniformConfidenceMap(2, 1, 2)
	cm.Set(1, 0, 0)
	test.That(t, cm.Data(), test.ShouldResemble, []uint8{2, 0})
	_, err = NewConfidenceMapFromData(2, 2, []uint8{1})
	test.That(t, err, test.ShouldNotBeNil)
}
