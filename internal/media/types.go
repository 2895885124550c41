package media

import (
	"path/filepath"
	"strings"
)

// ExtensionFromMime maps a MIME type to a file extension, ".bin" when unknown.
func ExtensionFromMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "application/pdf":
		return ".pdf"
	case "application/x-tgsticker":
		return ".tgs"
	default:
		return ".bin"
	}
}

// IsGIF reports whether a file name looks like a GIF image.
func IsGIF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".gif")
}

// IsAnimatedSticker reports whether a file name is a Lottie (.tgs) sticker.
func IsAnimatedSticker(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".tgs")
}

// EnsureName returns name, or a generated one with an extension derived from mime.
func EnsureName(name, fallbackBase, mime string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	return fallbackBase + ExtensionFromMime(mime)
}
