// Package imaging converts arbitrary source photos into the packed 4-bit
// grayscale buffers the panel consumes. The pipeline runs in four ordered
// stages: grayscale decode, aspect crop, panel resize, quantize-and-pack.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// ErrDecode indicates the source bytes are not a decodable raster image.
var ErrDecode = errors.New("imaging: undecodable source image")

// Transcode converts source into a packed 4bpp buffer of exactly
// PackedLength(width, height) bytes.
func Transcode(source []byte, width, height int) ([]byte, error) {
	gray, err := DecodeGray(source)
	if err != nil {
		return nil, err
	}
	cropped := CropToAspect(gray, width, height)
	resized := ResizeToPanel(cropped, width, height)
	return Pack4bpp(Quantize(Luminance(resized))), nil
}

// PackedLength returns the packed buffer size for a width by height panel.
func PackedLength(width, height int) int {
	return (width*height + 1) / 2
}

// DecodeGray decodes source into an 8-bit single-channel luminance image.
// Color and already-grayscale inputs go through the same conversion so the
// result is deterministic regardless of source color model.
func DecodeGray(source []byte) (*image.Gray, error) {
	decoded, _, err := image.Decode(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := decoded.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), decoded, bounds.Min, draw.Src)
	return gray, nil
}

// CropToAspect center-crops src so its aspect ratio matches targetWidth to
// targetHeight. A relatively wider source loses equal margins left and
// right, otherwise top and bottom. Margins are floor((dim-new)/2); the last
// partial pixel of an odd margin lands on the far side, deterministically.
func CropToAspect(src *image.Gray, targetWidth, targetHeight int) *image.Gray {
	bounds := src.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	var rect image.Rectangle
	if srcWidth*targetHeight > srcHeight*targetWidth {
		// Wider than target: keep full height, trim left and right.
		newWidth := srcHeight * targetWidth / targetHeight
		offset := (srcWidth - newWidth) / 2
		rect = image.Rect(bounds.Min.X+offset, bounds.Min.Y,
			bounds.Min.X+offset+newWidth, bounds.Max.Y)
	} else {
		newHeight := srcWidth * targetHeight / targetWidth
		offset := (srcHeight - newHeight) / 2
		rect = image.Rect(bounds.Min.X, bounds.Min.Y+offset,
			bounds.Max.X, bounds.Min.Y+offset+newHeight)
	}
	return src.SubImage(rect).(*image.Gray)
}

// ResizeToPanel scales src to exactly width by height using Catmull-Rom
// resampling. The panel's halftone rendering depends on anti-aliased
// downsampling, so a box or nearest-neighbor kernel is not acceptable here.
func ResizeToPanel(src *image.Gray, width, height int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// Luminance flattens img into row-major 8-bit samples, left to right, top
// to bottom.
func Luminance(img *image.Gray) []byte {
	bounds := img.Bounds()
	samples := make([]byte, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		offset := img.PixOffset(bounds.Min.X, y)
		samples = append(samples, img.Pix[offset:offset+bounds.Dx()]...)
	}
	return samples
}

// Quantize truncates each 8-bit sample to its top four bits. This is a
// direct truncation (sample >> 4), not a rescale to 0-15; no dithering and
// no rounding.
func Quantize(samples []byte) []byte {
	quantized := make([]byte, len(samples))
	for i, sample := range samples {
		quantized[i] = sample >> 4
	}
	return quantized
}

// Pack4bpp packs two consecutive 4-bit samples per byte, first sample in
// the high nibble. An odd sample count leaves the final low nibble zero.
func Pack4bpp(nibbles []byte) []byte {
	packed := make([]byte, (len(nibbles)+1)/2)
	for i, nibble := range nibbles {
		if i%2 == 0 {
			packed[i/2] = nibble << 4
		} else {
			packed[i/2] |= nibble & 0x0F
		}
	}
	return packed
}
