package view

// document is a decoded JSON object.
type document map[string]any

// object returns the nested object at key, or an empty document.
func (d document) object(key string) document {
	switch v := d[key].(type) {
	case map[string]any:
		return document(v)
	case document:
		return v
	}
	return document{}
}

// list returns the objects in the array at key. Non-object items are
// skipped.
func (d document) list(key string) []document {
	items, _ := d[key].([]any)
	out := make([]document, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, document(m))
		}
	}
	return out
}

// copyScalars copies the listed keys from src into dst when they hold a
// JSON scalar. Nested objects and arrays under an allowed key are dropped.
func copyScalars(dst PartialView, src document, keys ...string) {
	for _, k := range keys {
		if v, ok := scalar(src[k]); ok {
			dst[k] = v
		}
	}
}

func scalar(v any) (any, bool) {
	switch v.(type) {
	case string, bool, float64, int, int64:
		return v, true
	}
	return nil, false
}

func scalarList(v any) []any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		if s, ok := scalar(it); ok {
			out = append(out, s)
		}
	}
	return out
}

// pickEach projects every item of items onto keys, skipping items that
// keep rejects.
func pickEach(items []document, keep func(document) bool, keys ...string) []PartialView {
	out := make([]PartialView, 0, len(items))
	for _, it := range items {
		if keep != nil && !keep(it) {
			continue
		}
		v := PartialView{}
		copyScalars(v, it, keys...)
		out = append(out, v)
	}
	return out
}
