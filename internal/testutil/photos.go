package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// PhotoBytes renders a gradient test photograph encoded as JPEG, or PNG when asPNG is set.
func PhotoBytes(testingT *testing.T, width int, height int, asPNG bool) []byte {
	testingT.Helper()
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			canvas.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 0x60, A: 0xff})
		}
	}

	var buffer bytes.Buffer
	var encodeErr error
	if asPNG {
		encodeErr = png.Encode(&buffer, canvas)
	} else {
		encodeErr = jpeg.Encode(&buffer, canvas, nil)
	}
	if encodeErr != nil {
		testingT.Fatalf("encode test photo: %v", encodeErr)
	}
	return buffer.Bytes()
}
