package gateway

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/nft-syncer/internal/types"
)

// ParseAttributes normalizes the trait payloads seen from providers and token URIs:
//
//	[{"trait_type":"Hat","value":"Cap"}]   array of trait objects
//	{"Hat":"Cap","Eyes":"Laser"}           flat object, sorted by key
//	[{"Hat":"Cap"},{"Eyes":"Laser"}]       array of single-key objects
//
// and a JSON string holding any of the above. Anything else yields nil.
func ParseAttributes(raw json.RawMessage) []types.Attribute {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" || (s[0] != '[' && s[0] != '{') {
			return nil
		}
		raw = json.RawMessage(s)
	}

	switch raw[0] {
	case '[':
		return parseAttributeArray(raw)
	case '{':
		return parseAttributeObject(raw)
	}
	return nil
}

var (
	traitTypeKeys   = []string{"trait_type", "traitType", "attribute_name", "key", "type"}
	traitValueKeys  = []string{"value", "attribute_value"}
	displayTypeKeys = []string{"display_type", "displayType"}
)

func parseAttributeArray(raw json.RawMessage) []types.Attribute {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	out := make([]types.Attribute, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		if hasAnyKey(item, traitValueKeys) || hasAnyKey(item, traitTypeKeys[:3]) {
			attr := types.Attribute{
				TraitType:   firstScalar(item, traitTypeKeys),
				DisplayType: firstScalar(item, displayTypeKeys),
				Value:       firstScalar(item, traitValueKeys),
			}
			if attr.TraitType != "" || attr.Value != "" {
				out = append(out, attr)
			}
			continue
		}
		if len(item) == 1 {
			for k, v := range item {
				out = append(out, types.Attribute{TraitType: k, Value: scalarString(v)})
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseAttributeObject(raw json.RawMessage) []types.Attribute {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.Attribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Attribute{TraitType: k, Value: scalarString(obj[k])})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hasAnyKey(m map[string]json.RawMessage, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func firstScalar(m map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := scalarString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// scalarString renders a JSON value as the string stored for a trait
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
