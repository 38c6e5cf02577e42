package volume

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// Fetcher retrieves the encoded bytes of one frame. The transport behind it
// (HTTP, object storage, local files) is not this package's concern.
type Fetcher interface {
	Fetch(ctx context.Context, frameID string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, frameID string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, frameID string) ([]byte, error) {
	return f(ctx, frameID)
}

// FrameInfo describes the destination of a decode.
type FrameInfo struct {
	VolumeID   string
	FrameIndex int
	FrameID    string
	Columns    int
	Rows       int
	ScalarType ScalarType
}

// Voxels returns Columns*Rows.
func (i FrameInfo) Voxels() int { return i.Columns * i.Rows }

// Decoder turns fetched bytes into samples written straight into dst, the
// frame's slice of the volume buffer. dst must be filled completely.
type Decoder interface {
	Decode(dst, src []byte, info FrameInfo) error
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(dst, src []byte, info FrameInfo) error

func (f DecoderFunc) Decode(dst, src []byte, info FrameInfo) error { return f(dst, src, info) }

// RawDecoder copies already-decoded little-endian samples.
type RawDecoder struct{}

func (RawDecoder) Decode(dst, src []byte, _ FrameInfo) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

// RescaleDecoder converts stored 16-bit samples into float32 modality
// values (value*Slope + Intercept) for Float32 volumes.
type RescaleDecoder struct {
	Slope     float64
	Intercept float64
	// Signed selects int16 rather than uint16 stored samples.
	Signed bool
}

func (d RescaleDecoder) Decode(dst, src []byte, info FrameInfo) error {
	n := info.Voxels()
	if len(src) != 2*n || len(dst) != 4*n {
		return fmt.Errorf("%w: %d stored bytes into %d float bytes for %d voxels", ErrFrameSize, len(src), len(dst), n)
	}
	slope := d.Slope
	if slope == 0 {
		slope = 1
	}
	for i := 0; i < n; i++ {
		raw := binary.LittleEndian.Uint16(src[2*i:])
		var v float64
		if d.Signed {
			v = float64(int16(raw))
		} else {
			v = float64(raw)
		}
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(float32(v*slope+d.Intercept)))
	}
	return nil
}
