// Package frame holds raw pixel buffers and the on-disk frame sequence that
// sits between enhancement and encoding.
package frame

import (
	"fmt"
	"image"
	"image/color"
)

// ChannelOrder tags the byte order of a 3-channel pixel.
type ChannelOrder int

const (
	BGR ChannelOrder = iota
	RGB
)

func (o ChannelOrder) String() string {
	switch o {
	case BGR:
		return "bgr"
	case RGB:
		return "rgb"
	default:
		return fmt.Sprintf("order(%d)", int(o))
	}
}

// Channels is the number of interleaved bytes per pixel.
const Channels = 3

// Frame is a raw interleaved 8-bit pixel buffer. Ownership moves from the
// decoder to the adapter to the writer; a stage never touches a frame it has
// handed on.
type Frame struct {
	Width  int
	Height int
	Order  ChannelOrder
	Pix    []byte
}

// New allocates a zeroed frame.
func New(width, height int, order ChannelOrder) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Order:  order,
		Pix:    make([]byte, width*height*Channels),
	}
}

// Size returns the expected buffer length for the frame dimensions.
func (f *Frame) Size() int { return f.Width * f.Height * Channels }

// Validate checks dimensions against the buffer length.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.Size() {
		return fmt.Errorf("frame buffer is %d bytes, want %d for %dx%d", len(f.Pix), f.Size(), f.Width, f.Height)
	}
	return nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = append([]byte(nil), f.Pix...)
	return &c
}

// ToImage converts the frame to an opaque NRGBA image.
func (f *Frame) ToImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	ri, bi := 0, 2
	if f.Order == BGR {
		ri, bi = 2, 0
	}
	for i, j := 0, 0; i < len(f.Pix); i, j = i+Channels, j+4 {
		img.Pix[j] = f.Pix[i+ri]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+bi]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromImage converts any image to a frame with the given channel order.
// Alpha is dropped.
func FromImage(img image.Image, order ChannelOrder) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy(), order)
	ri, bi := 0, 2
	if order == BGR {
		ri, bi = 2, 0
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			f.Pix[i+ri] = c.R
			f.Pix[i+1] = c.G
			f.Pix[i+bi] = c.B
			i += Channels
		}
	}
	return f
}

// ScaleNearest returns a copy enlarged by an integer factor with
// nearest-neighbour sampling.
func (f *Frame) ScaleNearest(scale int) *Frame {
	out := New(f.Width*scale, f.Height*scale, f.Order)
	for y := 0; y < out.Height; y++ {
		srcRow := (y / scale) * f.Width * Channels
		dstRow := y * out.Width * Channels
		for x := 0; x < out.Width; x++ {
			copy(out.Pix[dstRow+x*Channels:dstRow+x*Channels+Channels], f.Pix[srcRow+(x/scale)*Channels:])
		}
	}
	return out
}
