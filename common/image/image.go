// Package image probes dimensions of inline images so vision prompts can be
// token-estimated without fetching remote content.
package image

import (
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/Laisky/errors/v2"
	_ "golang.org/x/image/webp"
)

// MaxInlineImageSizeMB caps inline image payloads accepted for probing.
const MaxInlineImageSizeMB = 30

var dataURLPrefix = "data:"

// GetImageSizeFromBase64 decodes just enough of a base64 image to read its
// dimensions. The input may carry a data URL prefix.
func GetImageSizeFromBase64(encoded string) (width int, height int, err error) {
	encoded = StripDataURLPrefix(encoded)
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > int64(MaxInlineImageSizeMB)*1024*1024 {
		return 0, 0, errors.Errorf("image size should not exceed %dMB", MaxInlineImageSizeMB)
	}

	reader := base64.NewDecoder(base64.StdEncoding, strings.NewReader(encoded))
	cfg, _, err := image.DecodeConfig(reader)
	if err != nil {
		return 0, 0, errors.Wrap(err, "decode image config")
	}
	return cfg.Width, cfg.Height, nil
}

// StripDataURLPrefix removes a data:<mime>;base64, prefix when present.
func StripDataURLPrefix(value string) string {
	if !strings.HasPrefix(strings.ToLower(value), dataURLPrefix) {
		return value
	}
	idx := strings.Index(value, "base64,")
	if idx < 0 {
		return value
	}
	return value[idx+len("base64,"):]
}

// IsDataURL reports whether the string is an inline data URL.
func IsDataURL(value string) bool {
	return strings.HasPrefix(strings.ToLower(value), dataURLPrefix)
}
