package console

import (
	"bytes"
	"encoding/base64"
	"image/jpeg"
	"strings"
)

// headerChars is how much of the base64 payload is decoded to find the JPEG
// frame header. It is a multiple of 4.
const headerChars = 8192

// frameDims returns the pixel size of a base64 JPEG. Only the leading part
// is decoded unless the header sits further in.
func frameDims(image string) (w, h int, ok bool) {
	if i := strings.Index(image, ","); i >= 0 && strings.HasPrefix(image, "data:") {
		image = image[i+1:]
	}
	if len(image) > headerChars {
		if w, h, ok := decodeDims(image[:headerChars]); ok {
			return w, h, true
		}
	}
	return decodeDims(image)
}

func decodeDims(b64 string) (int, int, bool) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return 0, 0, false
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
