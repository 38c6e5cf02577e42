package volume

import "fmt"

// ScalarType is the voxel sample type of a volume buffer.
type ScalarType int

const (
	Uint8 ScalarType = iota
	Int8
	Uint16
	Int16
	Float32
)

// BytesPerVoxel returns the sample width.
func (t ScalarType) BytesPerVoxel() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	default:
		return 4
	}
}

func (t ScalarType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("ScalarType(%d)", int(t))
	}
}

// Geometry places a volume in patient space. It is copied into the volume
// on construction and never changes afterwards.
type Geometry struct {
	// Dimensions are columns, rows, slices.
	Dimensions [3]int
	Spacing    [3]float64
	Origin     [3]float64
	// Direction is a row-major 3x3 cosine matrix.
	Direction [9]float64
}

// IdentityDirection is the axis-aligned direction matrix.
var IdentityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Voxels returns columns*rows*slices.
func (g Geometry) Voxels() int {
	return g.Dimensions[0] * g.Dimensions[1] * g.Dimensions[2]
}

// FrameVoxels returns the voxel count of one slice.
func (g Geometry) FrameVoxels() int {
	return g.Dimensions[0] * g.Dimensions[1]
}

func (g Geometry) validate() error {
	for i, d := range g.Dimensions {
		if d <= 0 {
			return fmt.Errorf("%w: dimension %d is %d", ErrInvalidGeometry, i, d)
		}
	}
	return nil
}

// Metadata describes the frames that make up a volume.
type Metadata struct {
	// FrameIDs lists one id per frame, slice-major within each timepoint.
	FrameIDs   []string
	ScalarType ScalarType
	// Timepoints > 1 makes a dynamic (4D) volume with one buffer per
	// timepoint, each holding Dimensions[2] frames.
	Timepoints int
}
