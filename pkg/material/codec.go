package material

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Encode serializes the collection into the persisted layout: a JSON array of
// {"id", "item", "price"} objects in display order.
func Encode(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(items)
}

// Decode parses the persisted layout. Anything that is not an array of records
// with numeric ids and prices is rejected.
func Decode(data []byte) ([]Item, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	if data[0] != '[' {
		return nil, errors.New("payload is not a JSON array")
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(raw))
	for i, entry := range raw {
		entry = bytes.TrimSpace(entry)
		if len(entry) == 0 || entry[0] != '{' {
			return nil, fmt.Errorf("entry %d is not an object", i)
		}
		var it Item
		dec := json.NewDecoder(bytes.NewReader(entry))
		if err := dec.Decode(&it); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		items = append(items, it)
	}
	return items, nil
}
