package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultThumbnailMaxDimension bounds the longer edge of library thumbnails.
	DefaultThumbnailMaxDimension = 480
	// MaxSourcePixels bounds the decoded size of a thumbnail source.
	MaxSourcePixels              = 40_000_000
)

// ErrImageTooLarge is returned when an image header declares more than MaxSourcePixels.
var ErrImageTooLarge = errors.New("media: image dimensions too large")

// Thumbnail decodes a JPEG, PNG, GIF or WebP image and returns a JPEG no
// larger than maxDimension on its longer edge.
func Thumbnail(data []byte, maxDimension int) ([]byte, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultThumbnailMaxDimension
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := thumbnailDimensions(bounds.Dx(), bounds.Dy(), maxDimension)

	resized := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	log.Debug().
		Str("format", format).
		Int("orig_width", bounds.Dx()).
		Int("orig_height", bounds.Dy()).
		Int("new_width", width).
		Int("new_height", height).
		Int("output_size", buf.Len()).
		Msg("thumbnail generated")

	return buf.Bytes(), nil
}

func thumbnailDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return max(width, 1), max(height, 1)
	}
	if width >= height {
		return maxDimension, max(height*maxDimension/width, 1)
	}
	return max(width*maxDimension/height, 1), maxDimension
}
