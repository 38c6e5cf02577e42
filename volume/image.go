package volume

import "sync"

// Image is a single-frame cache entry. Decache(false) turns each cached
// frame of a volume into one, keyed by the frame id, so the frames stay
// addressable after the volume is released.
type Image struct {
	id         string
	volumeID   string
	frameIndex int
	timepoint  int
	scalarType ScalarType
	geom       Geometry

	mu     sync.RWMutex
	pixels []byte
}

func newImage(v *Volume, f int, pixels []byte) *Image {
	z := f % v.perTP
	g := v.geom
	g.Dimensions[2] = 1
	// Shift the origin along the slice normal (third direction row).
	for i := 0; i < 3; i++ {
		g.Origin[i] += float64(z) * v.geom.Spacing[2] * v.geom.Direction[6+i]
	}
	return &Image{
		id:         v.meta.FrameIDs[f],
		volumeID:   v.id,
		frameIndex: f,
		timepoint:  f / v.perTP,
		scalarType: v.meta.ScalarType,
		geom:       g,
		pixels:     pixels,
	}
}

func (i *Image) ID() string { return i.id }

// VolumeID returns the id of the volume the frame was split from.
func (i *Image) VolumeID() string { return i.volumeID }

// FrameIndex returns the frame's index in its former volume.
func (i *Image) FrameIndex() int { return i.frameIndex }

func (i *Image) Timepoint() int { return i.timepoint }

func (i *Image) ScalarType() ScalarType { return i.scalarType }

// Geometry describes the single slice: Dimensions[2] is 1 and Origin is
// the slice's own position.
func (i *Image) Geometry() Geometry { return i.geom }

// PixelData returns the frame samples. The slice is owned by the image.
func (i *Image) PixelData() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.pixels == nil {
		return nil, ErrDestroyed
	}
	return i.pixels, nil
}

func (i *Image) SizeInBytes() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return int64(len(i.pixels))
}

// Loading is always false; an image is complete when created.
func (i *Image) Loading() bool { return false }

func (i *Image) Destroy() {
	i.mu.Lock()
	i.pixels = nil
	i.mu.Unlock()
}
