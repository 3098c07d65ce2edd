package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/cyqddx/shuyuan/core/fault"
)

const (
	// Structural bounds on accepted documents. A document deeper or
	// wider than this is hostile or broken, not data worth hosting.
	maxDepth        = 20
	maxObjectFields = 1000
	maxArrayLength  = 1000
)

// ValidatePayload checks size and structure of a raw upload and returns
// its canonical compact form. Canonicalization means whitespace and key
// order do not affect the content hash, so equivalent documents dedup
// together. Side-effect free; runs before any hashing or storage work.
func ValidatePayload(raw []byte, sizeLimit int64) ([]byte, error) {
	if sizeLimit > 0 && int64(len(raw)) > sizeLimit {
		return nil, fault.Newf(fault.KindFileTooLarge, "payload is %d bytes, limit is %d", len(raw), sizeLimit)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fault.New(fault.KindInvalidFormat, "empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep numeric literals exact through re-serialization
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "parse payload", err)
	}
	if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
		return nil, fault.New(fault.KindInvalidFormat, "trailing data after document")
	}

	if err := checkStructure(doc, 1); err != nil {
		return nil, err
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "canonicalize payload", err)
	}
	return canonical, nil
}

// checkStructure walks the decoded document. Depth counts container
// levels only; a scalar never adds a level.
func checkStructure(v any, depth int) error {
	switch t := v.(type) {
	case map[string]any:
		if depth > maxDepth {
			return fault.Newf(fault.KindTooDeep, "nesting exceeds %d levels", maxDepth)
		}
		if len(t) > maxObjectFields {
			return fault.Newf(fault.KindTooManyFields, "object has %d keys, limit is %d", len(t), maxObjectFields)
		}
		for _, child := range t {
			if err := checkStructure(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		if depth > maxDepth {
			return fault.Newf(fault.KindTooDeep, "nesting exceeds %d levels", maxDepth)
		}
		if len(t) > maxArrayLength {
			return fault.Newf(fault.KindTooManyFields, "array has %d elements, limit is %d", len(t), maxArrayLength)
		}
		for _, child := range t {
			if err := checkStructure(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
