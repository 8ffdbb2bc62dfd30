package transcode

import "strings"

// formatAliases maps a requested format token onto the codec name.
var formatAliases = map[string]string{
	"jpg": "jpeg",
	"tif": "tiff",
}

// contentTypes maps a codec name or file extension onto a MIME type. Anything
// missing falls back to image/<name>.
var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"heic": "image/heic",
	"ico":  "image/x-icon",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
}

// Normalize maps a requested format token to the name the codec understands.
func Normalize(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if alias, ok := formatAliases[format]; ok {
		return alias
	}
	return format
}

// ContentType returns the MIME type for a format token or file extension.
func ContentType(format string) string {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if ct, ok := contentTypes[format]; ok {
		return ct
	}
	return "image/" + format
}
