package camera

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
)

// Frame is a view of one image in camera memory.  Buf is not owned by the
// Frame; the conversions below copy out of it.
type Frame struct {
	// Buf holds the pixels row by row without padding
	Buf []byte

	Width, Height int

	// Format is the GenICam pixel format name
	Format string
}

// BytesPerPixel returns the size of one pixel of the frame's format.
// Mono12 is the unpacked variant, one pixel per 16 bit word.
func (f Frame) BytesPerPixel() (int, error) {
	return gige.BytesPerPixel(f.Format)
}

func (f Frame) check() (int, error) {
	bpp, err := f.BytesPerPixel()
	if err != nil {
		return 0, err
	}
	if f.Width <= 0 || f.Height <= 0 {
		return 0, fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if need := f.Width * f.Height * bpp; len(f.Buf) < need {
		return 0, fmt.Errorf("%dx%d %s frame needs %d bytes, buffer holds %d", f.Width, f.Height, f.Format, need, len(f.Buf))
	}
	return bpp, nil
}

// Image copies the frame into an *image.Gray (Mono8) or *image.Gray16
func (f Frame) Image() (image.Image, error) {
	bpp, err := f.check()
	if err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)
	if bpp == 1 {
		im := image.NewGray(rect)
		copy(im.Pix, f.Buf)
		return im, nil
	}
	im := image.NewGray16(rect)
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		// camera words are little endian, Gray16 is big endian
		v := binary.LittleEndian.Uint16(f.Buf[2*i:])
		binary.BigEndian.PutUint16(im.Pix[2*i:], v)
	}
	return im, nil
}

// Gray8 copies the frame into an 8 bit image, keeping the high byte of
// deeper formats
func (f Frame) Gray8() (*image.Gray, error) {
	bpp, err := f.check()
	if err != nil {
		return nil, err
	}
	im := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	if bpp == 1 {
		copy(im.Pix, f.Buf[:n])
		return im, nil
	}
	shift := uint(8)
	if f.Format == gige.Mono12 {
		shift = 4
	}
	for i := 0; i < n; i++ {
		im.Pix[i] = byte(binary.LittleEndian.Uint16(f.Buf[2*i:]) >> shift)
	}
	return im, nil
}

// Uint16 returns the pixels widened to 16 bits
func (f Frame) Uint16() ([]uint16, error) {
	bpp, err := f.check()
	if err != nil {
		return nil, err
	}
	n := f.Width * f.Height
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		if bpp == 1 {
			out[i] = uint16(f.Buf[i])
		} else {
			out[i] = binary.LittleEndian.Uint16(f.Buf[2*i:])
		}
	}
	return out, nil
}

// Unpad removes the padding at the end of each row of an image whose rows
// are stride bytes apart but only rowBytes long.  buf is returned as is if
// there is no padding.
func Unpad(buf []byte, rowBytes, stride, height int) []byte {
	if stride == rowBytes {
		return buf[:rowBytes*height]
	}
	out := make([]byte, rowBytes*height)
	for y := 0; y < height; y++ {
		copy(out[y*rowBytes:(y+1)*rowBytes], buf[y*stride:y*stride+rowBytes])
	}
	return out
}
