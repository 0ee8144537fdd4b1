package quality

import (
	"bytes"
	"fmt"
	"image"
	"log"

	// Decoder registration for the formats capture clients upload.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"gonum.org/v1/gonum/stat"

	"tree-analyze-pipeline/models"
)

const (
	// MaxFileSize flags oversized uploads but does not reject on its own.
	MaxFileSize = 20 << 20 // 20 MiB

	MinWidth  = 200
	MinHeight = 200

	// BlurThreshold is the minimum variance of the Laplacian response over
	// the grayscale image. Lower variance means fewer edges, i.e. blur.
	BlurThreshold = 200.0

	BrightnessLow  = 30.0
	BrightnessHigh = 240.0
)

// Verdict is the outcome of checking a single photo. Passed is true iff
// Issues is empty.
type Verdict struct {
	Passed bool
	Issues []string
}

// Check runs all quality checks against a single encoded image.
//
// An undecodable image short-circuits the remaining checks. Failures
// inside the blur and brightness analysis are logged and swallowed so a
// pathological image never blocks an otherwise healthy photo.
func Check(data []byte) Verdict {
	var issues []string

	if len(data) > MaxFileSize {
		issues = append(issues, fmt.Sprintf("file too large: %.1fMB (max %dMB)",
			float64(len(data))/(1<<20), MaxFileSize>>20))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		issues = append(issues, fmt.Sprintf("cannot decode image: %v", err))
		return Verdict{Passed: false, Issues: issues}
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < MinWidth || height < MinHeight {
		issues = append(issues, fmt.Sprintf("image too small: %dx%d (min %dx%d)",
			width, height, MinWidth, MinHeight))
	}

	gray := toGray(img)

	if score, err := laplacianVariance(gray); err != nil {
		log.Printf("quality: blur check failed size=%d err=%v", len(data), err)
	} else if score < BlurThreshold {
		issues = append(issues, fmt.Sprintf("image appears blurry (score=%.1f, threshold=%.1f)",
			score, BlurThreshold))
	}

	if mean, err := meanBrightness(gray); err != nil {
		log.Printf("quality: brightness check failed size=%d err=%v", len(data), err)
	} else if mean < BrightnessLow {
		issues = append(issues, fmt.Sprintf("image too dark (brightness=%.1f, min=%.1f)",
			mean, BrightnessLow))
	} else if mean > BrightnessHigh {
		issues = append(issues, fmt.Sprintf("image too bright/overexposed (brightness=%.1f, max=%.1f)",
			mean, BrightnessHigh))
	}

	return Verdict{Passed: len(issues) == 0, Issues: issues}
}

// Filter checks every photo in a batch and returns the passing subset plus
// the collected issues tagged with each failing photo's role. An empty
// passing set is a normal value, not an error.
func Filter(photos []models.Photo) ([]models.Photo, []string) {
	var passed []models.Photo
	var issues []string

	for _, photo := range photos {
		verdict := Check(photo.Data)
		if verdict.Passed {
			passed = append(passed, photo)
			continue
		}
		for _, issue := range verdict.Issues {
			issues = append(issues, fmt.Sprintf("[%s] %s", photo.Role, issue))
		}
		log.Printf("quality: photo rejected role=%s issues=%d", photo.Role, len(verdict.Issues))
	}

	return passed, issues
}

func toGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return gray
}

// laplacianVariance convolves the grayscale image with the 3x3 Laplacian
// kernel and returns the variance of the response.
func laplacianVariance(gray *image.Gray) (float64, error) {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return 0, fmt.Errorf("image %dx%d too small for 3x3 convolution", width, height)
	}

	responses := make([]float64, 0, (width-2)*(height-2))
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			center := float64(gray.GrayAt(x, y).Y)
			up := float64(gray.GrayAt(x, y-1).Y)
			down := float64(gray.GrayAt(x, y+1).Y)
			left := float64(gray.GrayAt(x-1, y).Y)
			right := float64(gray.GrayAt(x+1, y).Y)
			responses = append(responses, up+down+left+right-4*center)
		}
	}

	// Population variance, to match the usual n-denominator definition of
	// the Laplacian blur metric. The threshold was tuned against that.
	return stat.PopVariance(responses, nil), nil
}

func meanBrightness(gray *image.Gray) (float64, error) {
	bounds := gray.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return 0, fmt.Errorf("empty image")
	}

	pixels := make([]float64, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pixels = append(pixels, float64(gray.GrayAt(x, y).Y))
		}
	}

	return stat.Mean(pixels, nil), nil
}
