package llm

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/parts-intake/constants"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

// Prompts builds the per-task instructions. Preamble is an operator-supplied prefix
// (SYSTEM_INSTRUCTIONS) added to the body-extraction instructions.
type Prompts struct {
	Preamble string
}

func vocabularyLine() string {
	return "Allowed keys: " + strings.Join(constants.PartFields, ", ") + "."
}

// Classify asks for a single digit so the answer can be parsed strictly.
func (p Prompts) Classify() string {
	parts := []string{
		"You label scanned aviation parts documents.",
		"Reply with exactly one digit and nothing else:",
		"1 if the image is a sale quotation (a vendor quote listing part numbers, condition, price, lead time);",
		"2 if the image is an authorized release or airworthiness form (e.g. FAA 8130-3, EASA Form 1, certificate of conformity);",
		"3 for anything else.",
	}
	return strings.Join(parts, " ")
}

// Body asks for one JSON object per part on its own line.
func (p Prompts) Body() string {
	parts := []string{
		"You extract part/inventory records from email text.",
		"Return one JSON object per distinct part, each on its own line (newline-delimited JSON).",
		"Use short snake_case keys and copy values exactly as written; do not guess missing values.",
		"Never output null. If a field is not present, omit it.",
		"Do not wrap the output in markdown.",
	}
	if pre := strings.TrimSpace(p.Preamble); pre != "" {
		parts = append([]string{pre}, parts...)
	}
	return strings.Join(parts, " ")
}

// Document returns the extraction instructions for a classified document kind.
func (p Prompts) Document(kind constants.DocumentKind) string {
	tail := []string{
		"Return ONLY a single JSON object with short snake_case keys.",
		"Copy part numbers, serial numbers and dates exactly as printed.",
		"Never output null. If a field is not present, omit it.",
	}
	var lead []string
	switch kind {
	case constants.SaleQuotation:
		lead = []string{
			"The image is a vendor sale quotation.",
			"Extract vendor name, part number, condition, quantity, price, lead time, warranty, trace and notes.",
		}
	case constants.Authorization:
		lead = []string{
			"The image is an authorized release certificate or airworthiness form.",
			"Extract part number, description, serial number, condition/status, who tagged it, tag date, tag type and whether it is a dual release.",
		}
	}
	return strings.Join(append(lead, tail...), " ")
}

const maxDocumentText = 3000

// DocumentPrompt passes the OCR text along with the image as a reading aid.
func DocumentPrompt(img entity.NormalizedImage) string {
	txt := strings.TrimSpace(img.Text)
	if len(txt) > maxDocumentText {
		txt = cutRunes(txt, maxDocumentText) + "\n…(truncated)"
	}
	return "OCR text of the attached page (may contain errors):\n" + txt
}

// cutRunes returns at most n bytes of s without splitting a UTF-8 sequence.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Merge asks the model to reconcile several records describing the same part.
func (p Prompts) Merge() string {
	parts := []string{
		"You reconcile records that describe the same aviation part.",
		"The first record comes from the email body; the rest come from attached documents.",
		"Combine them into ONE JSON object. When keys overlap, keep one key; prefer the email body value unless it is empty.",
		"Return ONLY the JSON object.",
	}
	return strings.Join(parts, " ")
}

// MergePrompt lists the body record followed by every document record.
func MergePrompt(body entity.FieldRecord, docs []entity.FieldRecord) string {
	var b strings.Builder
	b.WriteString("Email body record:\n")
	b.WriteString(body.String())
	for i, d := range docs {
		b.WriteString("\nDocument record ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(":\n")
		b.WriteString(d.String())
	}
	return b.String()
}

// Normalize asks for a projection onto the fixed vocabulary.
func (p Prompts) Normalize() string {
	parts := []string{
		"Rewrite the JSON object using only the allowed keys below, renaming keys that mean the same thing.",
		vocabularyLine(),
		"All values must be strings. Drop keys that do not fit and keys whose value is empty or null.",
		"Return ONLY the JSON object.",
	}
	return strings.Join(parts, " ")
}
