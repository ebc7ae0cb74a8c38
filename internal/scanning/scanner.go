package scanning

import (
	"context"
	"encoding/json"
)

// Scanner is a recognition provider: given a receipt image it returns whatever
// the underlying model produced, untouched. Interpreting that output is the
// job of Normalize.
type Scanner interface {
	// Scan sends the image to the provider and returns its raw answer
	Scan(ctx context.Context, imageData []byte, contentType string) (Raw, error)
	// Close releases provider resources
	Close() error
}

// Raw is an untrusted extraction result. When Object is non-nil it is used as
// the candidate directly, otherwise Text is searched for an embedded JSON object.
type Raw struct {
	Text   string
	Object map[string]any
}

// RawText wraps free-form model output.
func RawText(text string) Raw {
	return Raw{Text: text}
}

// RawObject wraps an already decoded, loosely typed object.
func RawObject(obj map[string]any) Raw {
	if obj == nil {
		obj = map[string]any{}
	}
	return Raw{Object: obj}
}

// RawFrom lifts an arbitrary value into a Raw. Strings and byte slices become
// text, maps and structs become objects. Values that cannot be represented
// yield an empty Raw.
func RawFrom(v any) Raw {
	switch val := v.(type) {
	case nil:
		return Raw{}
	case Raw:
		return val
	case string:
		return RawText(val)
	case []byte:
		return RawText(string(val))
	case json.RawMessage:
		return RawText(string(val))
	case map[string]any:
		return RawObject(val)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Raw{}
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		// Scalars and arrays have no fields to offer.
		return Raw{}
	}
	return RawObject(obj)
}
