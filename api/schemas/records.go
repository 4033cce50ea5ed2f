package schemas

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// -- Adapter Records --

// AdapterRecord is the shape a per-tool adapter produces after parsing its
// tool's native output. Every field except Type is optional; keys the core does
// not recognise are kept in Metadata rather than rejected.
type AdapterRecord struct {
	Type       string
	Severity   string
	Confidence *float64
	File       string
	Line       int
	Function   string
	Snippet    string
	WeaknessID string
	Message    string
	Metadata   map[string]any
}

// Location returns the location portion of the record.
func (r AdapterRecord) Location() Location {
	return Location{File: r.File, Line: r.Line, Function: r.Function, Snippet: r.Snippet}
}

// fieldAliases lists, per field, the accepted keys in priority order. The
// first alias carrying a usable value wins; the others are kept in Metadata.
var fieldAliases = []struct {
	field   string
	aliases []string
}{
	{"type", []string{"type", "check", "rule_id", "title"}},
	{"severity", []string{"severity", "impact"}},
	{"confidence", []string{"confidence"}},
	{"file", []string{"file", "filename", "path"}},
	{"line", []string{"line", "lineno", "start_line"}},
	{"function", []string{"function"}},
	{"snippet", []string{"snippet", "code"}},
	{"weakness_id", []string{"weakness_id", "swc_id", "swcid"}},
	{"message", []string{"message", "description"}},
}

// UnmarshalJSON decodes a record leniently: numbers may arrive as strings,
// confidence may be a label, and unknown keys land in Metadata. The result
// does not depend on key order.
func (r *AdapterRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("adapter record is not a JSON object: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("adapter record is not a JSON object: null")
	}

	// Keys match case-insensitively. When two keys fold together the
	// lexically first one is used and the other is kept as metadata.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	folded := make(map[string]string, len(keys))
	for _, k := range keys {
		if _, seen := folded[strings.ToLower(k)]; !seen {
			folded[strings.ToLower(k)] = k
		}
	}

	*r = AdapterRecord{}
	used := make(map[string]bool, len(keys))
	for _, fa := range fieldAliases {
		for _, alias := range fa.aliases {
			key, ok := folded[alias]
			if !ok {
				continue
			}
			if r.assign(fa.field, raw[key]) {
				used[key] = true
				break
			}
		}
	}

	for _, key := range keys {
		if used[key] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw[key], &v); err != nil {
			return fmt.Errorf("metadata key %q: %w", key, err)
		}
		if r.Metadata == nil {
			r.Metadata = make(map[string]any)
		}
		r.Metadata[key] = v
	}
	return nil
}

// assign decodes value into field and reports whether it carried a usable
// value.
func (r *AdapterRecord) assign(field string, value jsoniter.RawMessage) bool {
	switch field {
	case "type":
		r.Type = decodeString(value)
		return r.Type != ""
	case "severity":
		r.Severity = decodeString(value)
		return r.Severity != ""
	case "confidence":
		r.Confidence = decodeConfidence(value)
		return r.Confidence != nil
	case "file":
		r.File = decodeString(value)
		return r.File != ""
	case "line":
		r.Line = decodeInt(value)
		return r.Line != 0
	case "function":
		r.Function = decodeString(value)
		return r.Function != ""
	case "snippet":
		r.Snippet = decodeString(value)
		return r.Snippet != ""
	case "weakness_id":
		r.WeaknessID = decodeString(value)
		return r.WeaknessID != ""
	case "message":
		r.Message = decodeString(value)
		return r.Message != ""
	}
	return false
}

// MarshalJSON writes the record back with canonical key names.
func (r AdapterRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Metadata)+9)
	for k, v := range r.Metadata {
		out[k] = v
	}
	out["type"] = r.Type
	if r.Severity != "" {
		out["severity"] = r.Severity
	}
	if r.Confidence != nil {
		out["confidence"] = *r.Confidence
	}
	if r.File != "" {
		out["file"] = r.File
	}
	if r.Line > 0 {
		out["line"] = r.Line
	}
	if r.Function != "" {
		out["function"] = r.Function
	}
	if r.Snippet != "" {
		out["snippet"] = r.Snippet
	}
	if r.WeaknessID != "" {
		out["weakness_id"] = r.WeaknessID
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	return json.Marshal(out)
}

func decodeString(value jsoniter.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n jsoniter.Number
	if err := json.Unmarshal(value, &n); err == nil {
		return n.String()
	}
	return ""
}

func decodeInt(value jsoniter.RawMessage) int {
	var n int
	if err := json.Unmarshal(value, &n); err == nil {
		return n
	}
	// Some tools report "12" or "12:4"; take the leading integer.
	s := decodeString(value)
	if i := strings.IndexAny(s, ":-,"); i > 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// confidenceLabels maps the qualitative labels emitted by common analyzers.
var confidenceLabels = map[string]float64{
	"certain":   0.95,
	"very high": 0.9,
	"high":      0.8,
	"firm":      0.7,
	"medium":    0.5,
	"moderate":  0.5,
	"tentative": 0.35,
	"low":       0.3,
	"very low":  0.15,
}

// decodeConfidence accepts a number, a numeric string, a percentage or a label.
// Anything else is treated as "not reported".
func decodeConfidence(value jsoniter.RawMessage) *float64 {
	var f float64
	if err := json.Unmarshal(value, &f); err == nil {
		return &f
	}
	s := strings.ToLower(decodeString(value))
	if s == "" {
		return nil
	}
	if v, ok := confidenceLabels[s]; ok {
		return &v
	}
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	if pct {
		v /= 100
	}
	return &v
}
