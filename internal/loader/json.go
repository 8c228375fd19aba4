package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// flattenSep joins nested object keys.
const flattenSep = "__"

// object is a JSON object that remembers key order.
type object struct {
	keys []string
	vals map[string]any
}

// readJSON accepts a top-level array of objects, a single object, or a
// stream of objects (JSON Lines). A single object is read as columns when
// every value is an array of one common length, as the records of its
// largest array-of-objects field when it has one, and as one record
// otherwise.
func readJSON(data []byte) (rawTable, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var values []any
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rawTable{}, fmt.Errorf("json: %w", err)
		}
		v, err := materialize(dec, tok)
		if err != nil {
			return rawTable{}, err
		}
		values = append(values, v)
	}

	var recs []object
	switch {
	case len(values) == 0:
		return rawTable{}, nil
	case len(values) > 1:
		for _, v := range values {
			if o, ok := v.(object); ok {
				recs = append(recs, o)
			}
		}
	default:
		switch root := values[0].(type) {
		case []any:
			for _, v := range root {
				if o, ok := v.(object); ok {
					recs = append(recs, o)
				}
			}
		case object:
			if rt, ok := columnar(root); ok {
				return rt, nil
			}
			if inner := largestObjectArray(root); inner != nil {
				recs = inner
			} else {
				recs = []object{root}
			}
		default:
			return rawTable{}, fmt.Errorf("json: top-level %T is not a table", root)
		}
	}
	return recordsToRaw(recs), nil
}

// materialize builds a value for the current JSON value given its first
// token. Objects keep their key order.
func materialize(dec *json.Decoder, tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		o := object{vals: map[string]any{}}
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read object key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("json: object key not string (got %T)", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read object value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			if _, dup := o.vals[k]; !dup {
				o.keys = append(o.keys, k)
			}
			o.vals[k] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("json: read object end: %w", err)
		}
		return o, nil

	case '[':
		arr := []any{}
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read array value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("json: read array end: %w", err)
		}
		return arr, nil

	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// columnar reads {"a": [..], "b": [..]} with equal-length scalar arrays.
func columnar(o object) (rawTable, bool) {
	if len(o.keys) == 0 {
		return rawTable{}, false
	}
	n := -1
	for _, k := range o.keys {
		arr, ok := o.vals[k].([]any)
		if !ok || (n >= 0 && len(arr) != n) {
			return rawTable{}, false
		}
		for _, v := range arr {
			if _, nested := v.(object); nested {
				return rawTable{}, false
			}
		}
		n = len(arr)
	}
	rt := rawTable{headers: append([]string(nil), o.keys...), rows: make([][]rawCell, n)}
	for r := range rt.rows {
		row := make([]rawCell, len(o.keys))
		for j, k := range o.keys {
			row[j] = jsonCell(o.vals[k].([]any)[r])
		}
		rt.rows[r] = row
	}
	return rt, true
}

// largestObjectArray returns the longest field holding only objects, or nil.
func largestObjectArray(o object) []object {
	var best []object
	for _, k := range o.keys {
		arr, ok := o.vals[k].([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		objs := make([]object, 0, len(arr))
		for _, v := range arr {
			m, ok := v.(object)
			if !ok {
				objs = nil
				break
			}
			objs = append(objs, m)
		}
		if len(objs) > len(best) {
			best = objs
		}
	}
	return best
}

// recordsToRaw flattens records and aligns them on the union of their keys
// in first-appearance order. Absent keys are missing cells.
func recordsToRaw(recs []object) rawTable {
	var headers []string
	index := map[string]int{}
	flat := make([]map[string]rawCell, len(recs))
	for i, rec := range recs {
		m := map[string]rawCell{}
		flatten("", rec, m, func(k string) {
			if _, ok := index[k]; !ok {
				index[k] = len(headers)
				headers = append(headers, k)
			}
		})
		flat[i] = m
	}

	rt := rawTable{headers: headers, rows: make([][]rawCell, len(recs))}
	for i, m := range flat {
		row := make([]rawCell, len(headers))
		for k, c := range m {
			row[index[k]] = c
		}
		rt.rows[i] = row
	}
	return rt
}

func flatten(prefix string, o object, out map[string]rawCell, seen func(string)) {
	for _, k := range o.keys {
		key := k
		if prefix != "" {
			key = prefix + flattenSep + k
		}
		if inner, ok := o.vals[k].(object); ok && len(inner.keys) > 0 {
			flatten(key, inner, out, seen)
			continue
		}
		seen(key)
		out[key] = jsonCell(o.vals[k])
	}
}

// jsonCell renders a JSON value as a cell. Arrays and empty objects are kept
// as compact JSON text.
func jsonCell(v any) rawCell {
	switch x := v.(type) {
	case nil:
		return rawCell{}
	case string:
		return textCell(x)
	case json.Number:
		return rawCell{s: x.String(), ok: true}
	case bool:
		if x {
			return rawCell{s: "true", ok: true}
		}
		return rawCell{s: "false", ok: true}
	default:
		return rawCell{s: compactJSON(v), ok: true}
	}
}

func compactJSON(v any) string {
	var b strings.Builder
	writeJSON(&b, v)
	return b.String()
}

func writeJSON(b *strings.Builder, v any) {
	switch x := v.(type) {
	case object:
		b.WriteByte('{')
		for i, k := range x.keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			writeJSON(b, x.vals[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSON(b, e)
		}
		b.WriteByte(']')
	default:
		vb, _ := json.Marshal(x)
		b.Write(vb)
	}
}
