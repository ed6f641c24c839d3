package europepmc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is a raw search result as returned by the API. Values are kept
// undecoded so projection never alters them.
type Record map[string]json.RawMessage

// SearchResponse is the body of a /search call with format=json
type SearchResponse struct {
	Version string `json:"version"`
	// HitCount is nil when the field is missing, which marks the response
	// as malformed.
	HitCount       *int       `json:"hitCount"`
	NextCursorMark string     `json:"nextCursorMark"`
	ResultList     ResultList `json:"resultList"`
}

// ResultList wraps the page of records
type ResultList struct {
	Result []Record `json:"result"`
}

// Field is one key/value pair of a projected record
type Field struct {
	Key   string
	Value json.RawMessage
}

// ProjectedRecord is a record reduced to the allow-listed fields. It keeps
// the allow-list order when encoded.
type ProjectedRecord []Field

// MarshalJSON encodes the record as an object in field order
func (p ProjectedRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(f.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the raw value for key
func (p ProjectedRecord) Get(key string) (json.RawMessage, bool) {
	for _, f := range p {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// UnmarshalJSON decodes an object, keeping its key order
func (p *ProjectedRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("projected record: expected object, got %v", tok)
	}

	fields := ProjectedRecord{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("projected record: unexpected key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
		fields = append(fields, Field{Key: key, Value: value})
	}
	*p = fields
	return nil
}
