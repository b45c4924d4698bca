package rendition

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/soycharroup/memoryreel/internal/content"
)

type (
	// Backend is the conversion capability the transcoder drives. Video
	// codec backends are adapters supplied at wiring time; the in-process
	// image backend below is the default.
	Backend interface {
		Convert(ctx context.Context, data []byte, preset Preset) (*content.Variant, []byte, error)
		Thumbnail(ctx context.Context, data []byte, size ThumbSize) (*content.Thumbnail, []byte, error)
	}

	// ImageBackend converts still images in-process: variants are fitted
	// inside the preset bounding box and re-encoded as JPEG at the preset
	// quality, thumbnails are centre-cropped to exact dimensions.
	ImageBackend struct{}
)

func NewImageBackend() *ImageBackend { return &ImageBackend{} }

func (backend *ImageBackend) Convert(ctx context.Context, data []byte, preset Preset) (*content.Variant, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	source, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode source image: %w", err)
	}

	fitted := imaging.Fit(source, preset.Width, preset.Height, imaging.Lanczos)

	var buffer bytes.Buffer
	if err := imaging.Encode(&buffer, fitted, imaging.JPEG, imaging.JPEGQuality(preset.Quality)); err != nil {
		return nil, nil, fmt.Errorf("failed to encode '%s' variant: %w", preset.Name, err)
	}

	bounds := fitted.Bounds()
	variant := &content.Variant{
		Name:    preset.Name,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Quality: preset.Quality,
		Bitrate: preset.Bitrate,
	}

	return variant, buffer.Bytes(), nil
}

func (backend *ImageBackend) Thumbnail(ctx context.Context, data []byte, size ThumbSize) (*content.Thumbnail, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	source, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode source image: %w", err)
	}

	cropped := imaging.Thumbnail(source, size.Width, size.Height, imaging.Lanczos)

	var buffer bytes.Buffer
	if err := imaging.Encode(&buffer, cropped, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, nil, fmt.Errorf("failed to encode '%s' thumbnail: %w", size.Tag, err)
	}

	thumbnail := &content.Thumbnail{
		SizeTag: size.Tag,
		Width:   size.Width,
		Height:  size.Height,
	}

	return thumbnail, buffer.Bytes(), nil
}
