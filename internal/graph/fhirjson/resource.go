// Package fhirjson turns FHIR JSON resources into the RDF graphs consumed by
// the fact transducer.
package fhirjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrNotResource = errors.New("not a FHIR resource")

// Resource is one decoded FHIR JSON resource. Numbers are kept as
// json.Number so decimals keep their lexical form.
type Resource struct {
	Type   string
	ID     string
	Fields map[string]interface{}
}

// Decode parses a single resource. A Bundle is returned as-is; use Parse to
// unpack bundle entries.
func Decode(data []byte) (*Resource, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	return fromMap(m)
}

func fromMap(m map[string]interface{}) (*Resource, error) {
	rt, _ := m["resourceType"].(string)
	if rt == "" {
		return nil, fmt.Errorf("%w: missing resourceType", ErrNotResource)
	}
	id, _ := m["id"].(string)
	return &Resource{Type: rt, ID: id, Fields: m}, nil
}

// Parse decodes data as one resource, unpacking Bundle entries in order.
func Parse(data []byte) ([]*Resource, error) {
	r, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if r.Type != "Bundle" {
		return []*Resource{r}, nil
	}

	entries, _ := r.Fields["entry"].([]interface{})
	out := make([]*Resource, 0, len(entries))
	for i, e := range entries {
		em, _ := e.(map[string]interface{})
		rm, ok := em["resource"].(map[string]interface{})
		if !ok {
			continue
		}
		res, err := fromMap(rm)
		if err != nil {
			return nil, fmt.Errorf("bundle entry %d: %w", i, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// ReadNDJSON reads one resource per non-blank line, as produced by bulk
// export.
func ReadNDJSON(r io.Reader) ([]*Resource, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 32*1024*1024)

	var out []*Resource
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		res, err := Parse(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, res...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ndjson: %w", err)
	}
	return out, nil
}

// String returns the string at a dotted path such as "subject.reference".
func (r *Resource) String(path string) (string, bool) {
	v, ok := r.lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func (r *Resource) lookup(path string) (interface{}, bool) {
	var cur interface{} = r.Fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Reference returns the target type and id of the Reference at path,
// accepting "Type/id", absolute URLs ending in "Type/id" and "urn:uuid:" ids.
func (r *Resource) Reference(path string) (typ, id string, ok bool) {
	ref, ok := r.String(path + ".reference")
	if !ok {
		return "", "", false
	}
	return SplitReference(ref)
}

func SplitReference(ref string) (typ, id string, ok bool) {
	if rest, found := strings.CutPrefix(ref, "urn:uuid:"); found {
		return "", rest, rest != ""
	}
	ref = strings.TrimSuffix(ref, "/")
	if i := strings.Index(ref, "/_history/"); i >= 0 {
		ref = ref[:i]
	}
	parts := strings.Split(ref, "/")
	if len(parts) < 2 {
		return "", "", false
	}
	typ, id = parts[len(parts)-2], parts[len(parts)-1]
	return typ, id, typ != "" && id != ""
}
