package remote

import (
	"encoding/json"
	"fmt"

	"tokoku/internal/domain"
)

// Accepted spellings of each snapshot field. Older servers return a flat
// object with camelCase keys; current ones nest the data under "data".
var snapshotAliases = map[string][]string{
	"stores":        {"stores"},
	"products":      {"products"},
	"categories":    {"categories"},
	"sales":         {"sales"},
	"returns":       {"returns"},
	"cash_receipts": {"cash_receipts", "cashReceipts", "cash"},
	"server_time":   {"server_time", "serverTime"},
}

var catalogFields = map[string]bool{"stores": true, "products": true, "categories": true}

func decodeSnapshot(body []byte) (domain.Snapshot, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: decode snapshot: %v", ErrTransport, err)
	}

	fields := top
	if raw, ok := top["data"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err != nil {
			return domain.Snapshot{}, fmt.Errorf("%w: decode snapshot data: %v", ErrTransport, err)
		}
		fields = nested
	}

	var snap domain.Snapshot
	targets := map[string]any{
		"stores":        &snap.Stores,
		"products":      &snap.Products,
		"categories":    &snap.Categories,
		"sales":         &snap.Sales,
		"returns":       &snap.Returns,
		"cash_receipts": &snap.CashReceipts,
	}
	for name, dest := range targets {
		raw, ok := lookup(fields, name)
		if !ok {
			// The catalog is replaced wholesale on merge, so a missing
			// collection must not read as an empty one.
			if catalogFields[name] {
				return domain.Snapshot{}, fmt.Errorf("%w: snapshot has no %s collection", ErrTransport, name)
			}
			continue
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return domain.Snapshot{}, fmt.Errorf("%w: decode snapshot %s: %v", ErrTransport, name, err)
		}
	}

	// The envelope's server_time wins over one inside data.
	for _, source := range []map[string]json.RawMessage{top, fields} {
		raw, ok := lookup(source, "server_time")
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &snap.ServerTime); err != nil {
			return domain.Snapshot{}, fmt.Errorf("%w: decode snapshot server_time: %v", ErrTransport, err)
		}
		if snap.ServerTime != 0 {
			break
		}
	}
	return snap, nil
}

func lookup(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	for _, alias := range snapshotAliases[name] {
		raw, ok := fields[alias]
		if ok && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}
