package pointcloud

import (
	"bufio"
	"fmt"
	"image/color"
	"io"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const plyHeader = `ply
format ascii 1.0
comment %s
element vertex %d
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
property uchar confidence
end_header
`

// ToPLY writes points as an ascii PLY file of vertices with properties x y z red green blue
// confidence, oldest point first.
func ToPLY(points *Snapshot, out io.Writer) error {
	w := bufio.NewWriter(out)
	if _, err := fmt.Fprintf(w, plyHeader, CoordinateConvention, points.Len()); err != nil {
		return err
	}
	var err error
	points.Iterate(func(_ int, p Point) bool {
		_, err = fmt.Fprintf(w, "%s %s %s %d %d %d %d\n",
			formatFloat32(p.Position.X), formatFloat32(p.Position.Y), formatFloat32(p.Position.Z),
			p.Color.R, p.Color.G, p.Color.B, p.Confidence)
		return err == nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

// ReadPLY reads the vertices of an ascii PLY file. Vertices without colors read as white and
// without confidence as high.
func ReadPLY(in io.Reader) (points []Point, err error) {
	// the parser panics on malformed input
	defer func() {
		if r := recover(); r != nil {
			points = nil
			err = errors.Errorf("invalid ply file: %v", r)
		}
	}()

	vertices := goply.New(in).Elements("vertex")
	points = make([]Point, 0, len(vertices))
	for i := range vertices {
		v := &vertices[i]
		var pos [3]float64
		for j, name := range []string{"x", "y", "z"} {
			value, ok := plyNumber(v.Property(name))
			if !ok {
				return nil, errors.Errorf("vertex %d has no %s", i, name)
			}
			pos[j] = value
		}
		p := Point{
			Position:   r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]},
			Color:      color.NRGBA{R: 255, G: 255, B: 255, A: 255},
			Confidence: ConfidenceHigh,
		}
		r, okR := plyNumber(v.Property("red"))
		g, okG := plyNumber(v.Property("green"))
		b, okB := plyNumber(v.Property("blue"))
		if okR && okG && okB {
			p.Color = color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}
		}
		if c, ok := plyNumber(v.Property("confidence")); ok {
			p.Confidence = Confidence(c)
		}
		points = append(points, p)
	}
	return points, nil
}

func plyNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int8:
		return float64(n), true
	case uint8:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
