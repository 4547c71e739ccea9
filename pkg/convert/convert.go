// Package convert turns Google Ads API result rows into flat records.
//
// Rows arrive as nested JSON objects keyed in lowerCamelCase
// ({"adGroupAd": {"ad": {"id": "1"}}}). They are flattened into one level
// with path segments joined by "__" and each segment converted to
// snake_case, giving ad_group_ad__ad__id. Arrays and scalars are kept as
// values. GAQL field paths go through the same rule, so a selected field
// and the record column it lands in always agree.
package convert

import (
	"strings"
	"unicode"
)

// Separator joins flattened path segments
const Separator = "__"

// ToRecord flattens a result row
func ToRecord(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	flatten("", row, out)
	return out
}

func flatten(prefix string, obj map[string]any, out map[string]any) {
	for k, v := range obj {
		key := SnakeCase(k)
		if prefix != "" {
			key = prefix + Separator + key
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// Project returns the sub-object stored under key, flattened.
// key may be given in either snake_case or camelCase.
// A missing or non-object value yields nil.
func Project(row map[string]any, key string) map[string]any {
	want := SnakeCase(key)
	for k, v := range row {
		if SnakeCase(k) != want {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			return ToRecord(nested)
		}
		return nil
	}
	return nil
}

// Column maps a GAQL field path to its record column,
// e.g. ad_group_criterion.criterion_id -> ad_group_criterion__criterion_id
func Column(field string) string {
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = SnakeCase(p)
	}
	return strings.Join(parts, Separator)
}

// Columns maps every field with Column
func Columns(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = Column(f)
	}
	return out
}

// SnakeCase converts lowerCamelCase to snake_case. Input already in
// snake_case is returned unchanged. Runs of capitals are kept together
// (HTMLParser -> html_parser).
func SnakeCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
