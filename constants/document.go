package constants

// DocumentKind is the classifier's label for a normalized page.
type DocumentKind string

const (
	SaleQuotation DocumentKind = "SaleQuotation"
	Authorization DocumentKind = "Authorization"
	Other         DocumentKind = "Other"
	Unparseable   DocumentKind = "Unparseable"
)

// Extractable reports whether documents of this kind go on to field extraction.
func (k DocumentKind) Extractable() bool {
	return k == SaleQuotation || k == Authorization
}

// classification tags as returned by the model
var kindTags = map[byte]DocumentKind{
	'1': SaleQuotation,
	'2': Authorization,
	'3': Other,
}

// KindFromTag maps a single classification digit to its kind.
func KindFromTag(tag byte) (DocumentKind, bool) {
	k, ok := kindTags[tag]
	return k, ok
}
