package camera_test

import (
	"fmt"
	"image"
	"testing"

	"github.jpl.nasa.gov/bdube/gigeproxy/camera"
)

func ExampleUnpad() {
	// two rows of three bytes, padded to a stride of four
	buf := []byte{1, 2, 3, 0, 4, 5, 6, 0}
	fmt.Println(camera.Unpad(buf, 3, 4, 2))
	// Output: [1 2 3 4 5 6]
}

func TestImageMono16IsByteSwapped(t *testing.T) {
	f := camera.Frame{Buf: []byte{0x34, 0x12, 0xff, 0x00}, Width: 2, Height: 1, Format: "Mono16"}
	im, err := f.Image()
	if err != nil {
		t.Fatal(err)
	}
	g, ok := im.(*image.Gray16)
	if !ok {
		t.Fatalf("expected *image.Gray16, got %T", im)
	}
	if v := g.Gray16At(0, 0).Y; v != 0x1234 {
		t.Errorf("expected 0x1234 got %#x", v)
	}
	if v := g.Gray16At(1, 0).Y; v != 0x00ff {
		t.Errorf("expected 0xff got %#x", v)
	}
}

func TestImageMono8Copies(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	f := camera.Frame{Buf: buf, Width: 2, Height: 2, Format: "Mono8"}
	im, err := f.Image()
	if err != nil {
		t.Fatal(err)
	}
	buf[0] = 99
	if v := im.(*image.Gray).GrayAt(0, 0).Y; v != 1 {
		t.Errorf("image aliases camera memory, got %d", v)
	}
}

func TestGray8(t *testing.T) {
	f := camera.Frame{Buf: []byte{0x00, 0xab, 0xf0, 0x0f}, Width: 2, Height: 1, Format: "Mono16"}
	g, err := f.Gray8()
	if err != nil {
		t.Fatal(err)
	}
	if g.Pix[0] != 0xab || g.Pix[1] != 0x0f {
		t.Errorf("expected high bytes [0xab 0x0f], got %v", g.Pix)
	}
	f.Format = "Mono12"
	g, err = f.Gray8()
	if err != nil {
		t.Fatal(err)
	}
	if g.Pix[1] != 0xff {
		t.Errorf("expected 12 bit 0xff0 to scale to 0xff, got %#x", g.Pix[1])
	}
}

func TestUint16(t *testing.T) {
	f := camera.Frame{Buf: []byte{7, 200}, Width: 2, Height: 1, Format: "Mono8"}
	u, err := f.Uint16()
	if err != nil {
		t.Fatal(err)
	}
	if u[0] != 7 || u[1] != 200 {
		t.Errorf("got %v", u)
	}
}

func TestFrameErrors(t *testing.T) {
	bad := []camera.Frame{
		{Buf: make([]byte, 8), Width: 2, Height: 2, Format: "RGB8"},
		{Buf: make([]byte, 7), Width: 2, Height: 2, Format: "Mono16"},
		{Buf: make([]byte, 8), Width: 0, Height: 2, Format: "Mono8"},
	}
	for _, f := range bad {
		if _, err := f.Image(); err == nil {
			t.Errorf("expected an error for %+v", f)
		}
	}
}
