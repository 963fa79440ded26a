package constants

// PartFields is the fixed target vocabulary for normalized part records, in output column order.
var PartFields = []string{
	"vendor_name",
	"part_no",
	"cond",
	"qty",
	"lead_time",
	"price",
	"description",
	"serial_number",
	"notes",
	"warranty",
	"dual",
	"tagged_by",
	"trace_to",
	"tag_date",
	"tag_type",
	"stock_type",
}

var partFieldSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(PartFields))
	for _, f := range PartFields {
		m[f] = struct{}{}
	}
	return m
}()

// IsPartField reports whether key belongs to the target vocabulary.
func IsPartField(key string) bool {
	_, ok := partFieldSet[key]
	return ok
}
