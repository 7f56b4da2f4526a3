package camera

import (
	"io"

	"github.com/astrogo/fitsio"

	"github.jpl.nasa.gov/bdube/gigeproxy/camera"
)

// WriteFits streams frames to w as a 16 bit FITS image, or a cube if there
// is more than one frame.  The frames must share a size.
func WriteFits(w io.Writer, metadata []fitsio.Card, frames []camera.Frame) error {
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	nframes := len(frames)
	width, height := frames[0].Width, frames[0].Height
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if nframes > 1 {
		dims = append(dims, nframes)
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	ints := make([]int16, 0, width*height*nframes)
	for _, f := range frames {
		uints, err := f.Uint16()
		if err != nil {
			return err
		}
		for _, u := range uints {
			ints = append(ints, int16(u-32768))
		}
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
