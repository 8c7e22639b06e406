package store

import (
	json "github.com/goccy/go-json"

	"tandem/internal/types"
)

// PutJSON marshals v and writes it under key.
func PutJSON(s types.PersistentStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// GetJSON reads key and unmarshals into v.
func GetJSON(s types.PersistentStore, key string, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
