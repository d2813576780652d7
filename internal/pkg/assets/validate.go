package assets

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// ErrInvalidImage marks uploads rejected before anything is stored.
var ErrInvalidImage = errors.New("invalid image")

// Only formats the thumbnail pipeline can decode.
var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
}

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
}

// ValidateImageBySniff checks the provided filename (extension) and the first bytes (head)
// against a whitelist of image types. Returns detected mime or an error.
func ValidateImageBySniff(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", fmt.Errorf("%w: only JPG, JPEG, PNG, GIF and BMP images are supported", ErrInvalidImage)
	}

	detected := http.DetectContentType(head)

	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "application/xhtml") {
		return "", fmt.Errorf("%w: HTML content is not allowed", ErrInvalidImage)
	}
	if strings.HasPrefix(detected, "text/xml") || strings.HasPrefix(detected, "application/xml") || detected == "image/svg+xml" {
		return "", fmt.Errorf("%w: SVG/XML uploads are not supported", ErrInvalidImage)
	}

	if allowedMime[detected] {
		return detected, nil
	}
	return "", fmt.Errorf("%w: file type is not supported", ErrInvalidImage)
}
