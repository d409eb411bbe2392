package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB column helpers. Each structured payload marshals itself to a JSON
// document on write and accepts both []byte and string on read.

func jsonValue(v interface{}) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func jsonScan(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
}

// Metadata is an open key/value document for forward-compatible fields.
type Metadata map[string]interface{}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return jsonValue(map[string]interface{}(m))
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	out := Metadata{}
	if err := jsonScan(src, &out); err != nil {
		return err
	}
	*m = out
	return nil
}
