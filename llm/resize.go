package llm

import (
	"bytes"
	"image"
	"image/jpeg"
	"log"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

const (
	// maxImageDimension is the longest-edge cap applied before transport.
	// Providers downscale anyway; shipping more pixels only costs tokens.
	maxImageDimension = 1568

	jpegQuality = 85
)

// prepareImage downscales an image so its longest edge is at most
// maxImageDimension, re-encoding as JPEG. Images already within the cap are
// returned unchanged, byte for byte, with resized false. Undecodable data is
// passed through untouched and left for the provider to reject.
func prepareImage(data []byte) (out []byte, mimeType string, resized bool) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Printf("llm: image decode failed, sending as-is size=%d err=%v", len(data), err)
		return data, "image/jpeg", false
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxImageDimension && height <= maxImageDimension {
		return data, mimeForFormat(format), false
	}

	newWidth, newHeight := width, height
	if width >= height {
		newWidth = maxImageDimension
		newHeight = height * maxImageDimension / width
	} else {
		newHeight = maxImageDimension
		newWidth = width * maxImageDimension / height
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		log.Printf("llm: jpeg encode failed, sending original size=%d err=%v", len(data), err)
		return data, mimeForFormat(format), false
	}

	log.Printf("llm: image resized %dx%d -> %dx%d bytes %d -> %d",
		width, height, newWidth, newHeight, len(data), buf.Len())
	return buf.Bytes(), "image/jpeg", true
}

func mimeForFormat(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
