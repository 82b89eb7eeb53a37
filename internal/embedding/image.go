package embedding

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DecodeBase64Image decodes a base64 image payload, with or without a data URL prefix, and
// checks that it is an image in a supported format. The raw bytes are returned.
func DecodeBase64Image(payload string) ([]byte, error) {
	if i := strings.Index(payload, "base64,"); i >= 0 {
		payload = payload[i+len("base64,"):]
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrInvalidImage
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	if err := CheckImage(data); err != nil {
		return nil, err
	}
	return data, nil
}

// CheckImage reads the image header and fails with ErrInvalidImage when data is not an image
// in a supported format.
func CheckImage(data []byte) error {
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return nil
}

// DecodeImage decodes raw image bytes in any registered format.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// imageToTensor scales img to size x size and lays it out as a 1x3xHxW tensor with
// channels normalized to [-1, 1].
func imageToTensor(img image.Image, size int) []float32 {
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := scaled.PixOffset(x, y)
			p := y*size + x
			out[p] = float32(scaled.Pix[off])/127.5 - 1
			out[plane+p] = float32(scaled.Pix[off+1])/127.5 - 1
			out[2*plane+p] = float32(scaled.Pix[off+2])/127.5 - 1
		}
	}
	return out
}
