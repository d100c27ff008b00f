package store

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/teranos/easyjob/errors"
)

// Document is one JSON object stored in a collection. Numbers decode as
// json.Number so integer ids survive a round trip unchanged.
type Document map[string]interface{}

// Decode copies the document into out, which is usually a pointer to a struct.
func (d Document) Decode(out interface{}) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode document")
	}
	return nil
}

// Int returns an integer field. ok is false when the field is absent or
// not an integral number.
func (d Document) Int(key string) (int64, bool) {
	switch v := d[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		if f, err := v.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	}
	return 0, false
}

// String returns a string field, or "" when absent or not a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// merge returns a copy of d with every field of patch applied on top.
func (d Document) merge(patch Document) Document {
	out := make(Document, len(d)+len(patch))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// ToDocument converts a struct, map or Document into a fresh Document.
func ToDocument(v interface{}) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	return parseDocument(raw)
}

func parseDocument(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "parse document")
	}
	if doc == nil {
		return nil, errors.New("document must be a JSON object")
	}
	return doc, nil
}

// bindValue turns decoded JSON values into something database/sql binds
// with the same affinity json_extract produces.
func bindValue(v interface{}) interface{} {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case bool:
		if n {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

// keyString normalises a key value so values read back from SQLite and
// values taken from incoming documents compare equal.
func keyString(v interface{}) string {
	switch n := bindValue(v).(type) {
	case nil:
		return ""
	case string:
		return "s:" + n
	case int64:
		return "n:" + strconv.FormatInt(n, 10)
	case int:
		return "n:" + strconv.Itoa(n)
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return "n:" + strconv.FormatInt(int64(n), 10)
		}
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64)
	case []byte:
		return "s:" + string(n)
	default:
		raw, _ := json.Marshal(n)
		return "j:" + string(raw)
	}
}
