package n8n

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// writableFields is what the PUT endpoint accepts. Everything else the GET
// returns (timestamps, versionId, pinData, meta, shared, active...) is dropped.
var writableFields = []string{"name", "nodes", "connections", "settings", "staticData", "tags"}

var writableNodeFields = map[string]bool{
	"id":          true,
	"name":        true,
	"type":        true,
	"typeVersion": true,
	"position":    true,
	"parameters":  true,
	"credentials": true,
	"disabled":    true,
	"notes":       true,
}

// MergeDocument applies a partial change-set to a fetched workflow document.
// Top-level fields override shallowly, nodes merge by name then id with
// parameters deep-merged, and connection keys replace same-named keys.
// current is not modified.
func MergeDocument(current, changes map[string]any) map[string]any {
	out := cloneMap(current)
	for k, v := range changes {
		switch k {
		case "nodes":
			incoming, ok := v.([]any)
			if !ok {
				out[k] = cloneValue(v)
				continue
			}
			existing, _ := out[k].([]any)
			out[k] = mergeNodes(existing, incoming)
		case "connections":
			incoming, ok := v.(map[string]any)
			if !ok {
				out[k] = cloneValue(v)
				continue
			}
			existing, _ := out[k].(map[string]any)
			merged := cloneMap(existing)
			for ck, cv := range incoming {
				merged[ck] = cloneValue(cv)
			}
			out[k] = merged
		default:
			out[k] = cloneValue(v)
		}
	}
	return out
}

func mergeNodes(existing, incoming []any) []any {
	out := make([]any, len(existing))
	for i, n := range existing {
		out[i] = cloneValue(n)
	}
	for _, raw := range incoming {
		in, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		idx := findNode(out, in)
		if idx < 0 {
			out = append(out, cloneMap(in))
			continue
		}
		target := out[idx].(map[string]any)
		for k, v := range in {
			if k == "parameters" {
				cur, curOK := target[k].(map[string]any)
				next, nextOK := v.(map[string]any)
				if curOK && nextOK {
					target[k] = deepMerge(cur, next)
					continue
				}
			}
			target[k] = cloneValue(v)
		}
	}
	return out
}

// findNode matches by name first, then by id.
func findNode(nodes []any, in map[string]any) int {
	if name, _ := in["name"].(string); name != "" {
		for i, n := range nodes {
			if m, ok := n.(map[string]any); ok && m["name"] == name {
				return i
			}
		}
	}
	if id, _ := in["id"].(string); id != "" {
		for i, n := range nodes {
			if m, ok := n.(map[string]any); ok && m["id"] == id {
				return i
			}
		}
	}
	return -1
}

// deepMerge overlays src onto dst recursively for nested objects. Arrays and
// scalars in src replace those in dst.
func deepMerge(dst, src map[string]any) map[string]any {
	out := cloneMap(dst)
	for k, v := range src {
		sv, srcIsMap := v.(map[string]any)
		dv, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = deepMerge(dv, sv)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Sanitize builds the outbound PUT payload from a merged document using the
// writable allow-list, normalizing tags and nodes.
func Sanitize(doc map[string]any) map[string]any {
	out := make(map[string]any, len(writableFields))
	for _, k := range writableFields {
		v, ok := doc[k]
		if !ok || v == nil {
			continue
		}
		switch k {
		case "tags":
			if tags, ok := v.([]any); ok {
				v = normalizeTags(tags)
			}
		case "nodes":
			if nodes, ok := v.([]any); ok {
				v = normalizeNodes(nodes)
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// normalizeTags turns tag objects from the read side into bare id references.
func normalizeTags(tags []any) []any {
	out := make([]any, 0, len(tags))
	for _, t := range tags {
		if m, ok := t.(map[string]any); ok {
			if id, ok := m["id"]; ok && id != nil {
				out = append(out, tagRef(id))
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func tagRef(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func normalizeNodes(nodes []any) []any {
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		clean := make(map[string]any, len(writableNodeFields))
		for k, v := range m {
			if writableNodeFields[k] && v != nil {
				clean[k] = v
			}
		}
		out = append(out, clean)
	}
	return out
}

// Generic converts v, including any typed values nested in it, into the
// map/slice/scalar form produced by encoding/json.
func Generic(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode changes: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("changes must be a JSON object: %w", err)
	}
	return out, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
