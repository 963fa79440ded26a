package entity

import "github.com/joseph-ayodele/parts-intake/constants"

// RawAttachment is an attachment payload as fetched from the mailbox or a linked download.
type RawAttachment struct {
	EmailIndex int
	Ordinal    int
	Filename   string
	Source     string // "mime" or the URL it was downloaded from
	MediaType  constants.MediaType
	Data       []byte
}

// Rotation is the orientation correction applied to a page.
type Rotation struct {
	Angle int  // clockwise degrees: 0, 90, 180, 270
	Known bool // false when orientation detection failed
}

// NormalizedImage is one rasterized, upright page with its OCR text.
type NormalizedImage struct {
	EmailIndex        int
	AttachmentOrdinal int
	Page              int // 1-based
	MIMEType          string
	Data              []byte
	Text              string
	Rotation          Rotation
}

// HasText reports whether OCR found anything on the page.
func (n NormalizedImage) HasText() bool {
	for _, r := range n.Text {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' && r != '\f' {
			return true
		}
	}
	return false
}

// ClassifiedDocument is a page labeled by the classifier.
type ClassifiedDocument struct {
	Image NormalizedImage
	Kind  constants.DocumentKind
}
