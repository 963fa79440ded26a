package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

var (
	reFenceOpen     = regexp.MustCompile("^```[A-Za-z]*[ \t]*\n?")
	reFenceClose    = regexp.MustCompile("\n?```[ \t]*$")
	reJSONTag       = regexp.MustCompile(`^(?i:json)\s*`)
	reUnquotedKey   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	reHalfQuotedKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_ ]*)"\s*:`)
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// StripWrappers removes markdown fences, stray backticks and a leading "json" tag
// that models wrap around structured output.
func StripWrappers(text string) string {
	s := strings.TrimSpace(text)
	s = reFenceOpen.ReplaceAllString(s, "")
	s = reFenceClose.ReplaceAllString(s, "")
	s = strings.Trim(strings.TrimSpace(s), "`")
	s = reJSONTag.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.TrimSpace(s)
}

// repairJSON fixes the key-quoting and trailing-comma slips we see from models.
// Only applied to text that is not already valid JSON.
func repairJSON(s string) string {
	s = reHalfQuotedKey.ReplaceAllString(s, `$1"$2":`)
	s = reUnquotedKey.ReplaceAllString(s, `$1"$2":`)
	s = reTrailingComma.ReplaceAllString(s, "$1")
	return s
}

// Sanitize returns the JSON value carried by a model response, or ErrUnparseable.
func Sanitize(text string) (string, error) {
	s := StripWrappers(text)
	if s == "" {
		return "", fmt.Errorf("%w: empty response", ErrUnparseable)
	}
	if json.Valid([]byte(s)) {
		return s, nil
	}
	if r := repairJSON(s); json.Valid([]byte(r)) {
		return r, nil
	}
	// prose around a single object
	if i, j := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); i >= 0 && j > i {
		inner := s[i : j+1]
		if json.Valid([]byte(inner)) {
			return inner, nil
		}
		if r := repairJSON(inner); json.Valid([]byte(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnparseable, snippet(s, 120))
}

// ParseRecord sanitizes text and decodes a single JSON object.
func ParseRecord(text string) (entity.FieldRecord, error) {
	s, err := Sanitize(text)
	if err != nil {
		return entity.FieldRecord{}, err
	}
	rec, err := entity.ParseFieldRecord([]byte(s))
	if err != nil {
		return entity.FieldRecord{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return rec, nil
}

// ParseRecords decodes newline-delimited JSON objects, or a single JSON array of objects.
// Lines that fail to parse are logged and skipped. skipped counts them.
func ParseRecords(text string, logger *slog.Logger) (recs []entity.FieldRecord, skipped int) {
	if logger == nil {
		logger = slog.Default()
	}
	s := StripWrappers(text)

	if strings.HasPrefix(s, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(s), &items); err == nil {
			for i, raw := range items {
				rec, err := entity.ParseFieldRecord(bytes.TrimSpace(raw))
				if err != nil {
					logger.Warn("llm.parse.item_skipped", "item", i+1, "error", err)
					skipped++
					continue
				}
				recs = append(recs, rec)
			}
			return recs, skipped
		}
	}

	for i, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSuffix(line, ",")
		if line == "" || line == "[" || line == "]" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			logger.Warn("llm.parse.line_skipped", "line", i+1, "error", err)
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	return recs, skipped
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return cutRunes(s, n) + "..."
}
