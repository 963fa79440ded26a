package llm

import (
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/parts-intake/constants"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

// common spellings the model uses for vocabulary keys
var partSynonyms = map[string]string{
	"vendor":           "vendor_name",
	"supplier":         "vendor_name",
	"part_number":      "part_no",
	"partno":           "part_no",
	"pn":               "part_no",
	"p_n":              "part_no",
	"condition":        "cond",
	"quantity":         "qty",
	"leadtime":         "lead_time",
	"unit_price":       "price",
	"serial":           "serial_number",
	"serial_no":        "serial_number",
	"sn":               "serial_number",
	"s_n":              "serial_number",
	"note":             "notes",
	"remarks":          "notes",
	"comments":         "notes",
	"trace":            "trace_to",
	"traceability":     "trace_to",
	"tagged":           "tagged_by",
	"tag_agency":       "tagged_by",
	"stock":            "stock_type",
	"dual_release":     "dual",
	"tagdate":          "tag_date",
	"certificate_type": "tag_type",
	"cert_type":        "tag_type",
	"warranty_period":  "warranty",
	"part_description": "description",
	"item_description": "description",
}

// ProjectPartRecord maps a loosely keyed record onto the part vocabulary:
// keys are canonicalized, synonyms renamed, blanks and unknown keys dropped.
// The result is in vocabulary order. dropped lists what was removed, for logging.
func ProjectPartRecord(rec entity.FieldRecord, logger *slog.Logger) (entity.FieldRecord, []string) {
	if logger == nil {
		logger = slog.Default()
	}

	found := make(map[string]string, rec.Len())
	var dropped []string
	for _, k := range rec.Keys() {
		v, _ := rec.Get(k)
		v = strings.TrimSpace(v)
		key := canonicalKey(k)
		if to, ok := partSynonyms[key]; ok {
			key = to
		}
		switch {
		case !constants.IsPartField(key):
			dropped = append(dropped, k+"(unknown)")
		case v == "" || strings.EqualFold(v, "null"):
			dropped = append(dropped, k+"(empty)")
		default:
			// first occurrence wins, matching the body record's own key precedence
			if _, exists := found[key]; !exists {
				found[key] = v
			} else {
				dropped = append(dropped, k+"(duplicate)")
			}
		}
	}

	var out entity.FieldRecord
	for _, f := range constants.PartFields {
		if v, ok := found[f]; ok {
			out.Set(f, v)
		}
	}
	if len(dropped) > 0 {
		logger.Debug("llm.normalize.projected", "dropped", dropped)
	}
	return out, dropped
}

func canonicalKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer(" ", "_", "-", "_", ".", "", "#", "", "/", "_").Replace(k)
	return strings.Trim(k, "_")
}
