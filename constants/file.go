package constants

import "strings"

// MediaType is the declared payload type of an attachment.
type MediaType string

const (
	PDF  MediaType = "pdf"
	JPEG MediaType = "jpeg"
	PNG  MediaType = "png"
	HEIC MediaType = "heic"
)

// AllowedExtensions holds the attachment extensions the pipeline will rasterize.
var AllowedExtensions = map[string]MediaType{
	"pdf":  PDF,
	"jpg":  JPEG,
	"jpeg": JPEG,
	"png":  PNG,
	"heic": HEIC,
	"heif": HEIC,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MediaTypeFromExt maps a file extension to a MediaType. ok is false for anything we don't rasterize.
func MediaTypeFromExt(ext string) (MediaType, bool) {
	mt, ok := AllowedExtensions[NormalizeExt(ext)]
	return mt, ok
}

// MediaTypeFromContentType maps a MIME content type to a MediaType.
func MediaTypeFromContentType(ct string) (MediaType, bool) {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf", "application/x-pdf":
		return PDF, true
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return JPEG, true
	case "image/png":
		return PNG, true
	case "image/heic", "image/heif":
		return HEIC, true
	}
	return "", false
}

// IsHEIC reports whether the media type needs conversion before OCR.
func IsHEIC(mt MediaType) bool {
	return mt == HEIC
}
