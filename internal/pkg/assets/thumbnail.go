package assets

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// DefaultMaxWidth bounds catalog thumbnails.
const DefaultMaxWidth = 1200

// Thumbnail is an encoded, size-limited image ready for upload.
type Thumbnail struct {
	Data        []byte
	ContentType string
	Extension   string
	Width       int
	Height      int
}

// MakeThumbnail decodes data, applies EXIF orientation and shrinks it to at
// most maxWidth pixels wide. PNG and GIF input is re-encoded as PNG to keep
// transparency; everything else becomes JPEG.
func MakeThumbnail(data []byte, mime string, maxWidth int) (*Thumbnail, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidImage, err)
	}
	if img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	format, contentType, ext := imaging.JPEG, "image/jpeg", ".jpg"
	if mime == "image/png" || mime == "image/gif" {
		format, contentType, ext = imaging.PNG, "image/png", ".png"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	b := img.Bounds()
	return &Thumbnail{
		Data:        buf.Bytes(),
		ContentType: contentType,
		Extension:   ext,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// Dimensions reports the size of an encoded image without a full decode.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
