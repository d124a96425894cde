package agent

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MaxImageBytes bounds decoded image size. Catalog images are icons, not
// artwork.
const MaxImageBytes = 1 << 20

var allowedImageMimes = map[string]bool{
	"image/png":     true,
	"image/jpeg":    true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
}

// ParseImageDataURL decodes "data:<mime>;base64,<payload>" into bytes and
// mime type. Empty input is allowed; an agent may have no image.
func ParseImageDataURL(dataURL string) ([]byte, string, error) {
	dataURL = strings.TrimSpace(dataURL)
	if dataURL == "" {
		return nil, "", nil
	}
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing data: prefix", ErrInvalidImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing payload", ErrInvalidImage)
	}
	mime, encoding, ok := strings.Cut(meta, ";")
	if !ok || encoding != "base64" {
		return nil, "", fmt.Errorf("%w: only base64 encoding is supported", ErrInvalidImage)
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if !allowedImageMimes[mime] {
		return nil, "", fmt.Errorf("%w: unsupported mime type %q", ErrInvalidImage, mime)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if len(data) > MaxImageBytes {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidImage, MaxImageBytes)
	}
	return data, mime, nil
}

// ImageDataURL renders stored image bytes back into a data URL, or "" when
// the agent has no image.
func ImageDataURL(data []byte, mime string) string {
	if len(data) == 0 || mime == "" {
		return ""
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
