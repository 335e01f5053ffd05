package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FieldCount is the number of addressable fields in a channel.
const FieldCount = 8

// Fields holds the on/off state of fields 1..8. The zero value is all off.
type Fields [FieldCount]bool

// ValidField reports whether i addresses one of the channel fields.
func ValidField(i int) bool {
	return i >= 1 && i <= FieldCount
}

// FieldKey returns the wire name of field i ("field1".."field8").
func FieldKey(i int) string {
	return "field" + strconv.Itoa(i)
}

// Get returns the value of field i (1-based). Out-of-range indexes read as off.
func (f Fields) Get(i int) bool {
	if !ValidField(i) {
		return false
	}
	return f[i-1]
}

// Set assigns field i (1-based). Out-of-range indexes are ignored.
func (f *Fields) Set(i int, on bool) {
	if !ValidField(i) {
		return
	}
	f[i-1] = on
}

// MarshalJSON renders fields as {"field1": true, ...}.
func (f Fields) MarshalJSON() ([]byte, error) {
	m := make(map[string]bool, FieldCount)
	for i := 1; i <= FieldCount; i++ {
		m[FieldKey(i)] = f.Get(i)
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the shape produced by MarshalJSON.
func (f *Fields) UnmarshalJSON(b []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	*f = Fields{}
	for i := 1; i <= FieldCount; i++ {
		f.Set(i, m[FieldKey(i)])
	}
	return nil
}
