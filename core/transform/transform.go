// Package transform implements the at-rest payload pipeline: optional
// gzip compression followed by optional authenticated encryption.
// Encode and Decode are inverses; the applied flags are recorded per
// artifact so that retrieval reverses exactly the steps upload applied,
// regardless of how the configuration has changed in between.
package transform

import (
	"github.com/cyqddx/shuyuan/core/fault"
)

// Codec applies the transform chain for one configuration snapshot.
// A Codec is built per request from the current snapshot, so a reload
// never changes behavior mid-flight.
type Codec struct {
	compress bool
	level    int
	key      []byte // 32-byte encryption key, nil when encryption is off
}

// Options selects which transforms a Codec applies.
type Options struct {
	Compress bool
	Level    int
	Key      []byte
}

// NewCodec builds a Codec. A nil or empty key disables encryption.
func NewCodec(opts Options) *Codec {
	c := &Codec{compress: opts.Compress, level: opts.Level}
	if len(opts.Key) > 0 {
		c.key = opts.Key
	}
	return c
}

// Encode runs plain through the configured transforms and reports which
// were actually applied. Compression is skipped for payloads too small
// to benefit and whenever the compressed form would not be smaller.
func (c *Codec) Encode(plain []byte) (out []byte, compressed, encrypted bool, err error) {
	out = plain
	if c.compress {
		packed, ok, err := gzipCompress(out, c.level)
		if err != nil {
			return nil, false, false, err
		}
		if ok {
			out = packed
			compressed = true
		}
	}
	if c.key != nil {
		sealed, err := seal(c.key, out)
		if err != nil {
			return nil, false, false, err
		}
		out = sealed
		encrypted = true
	}
	return out, compressed, encrypted, nil
}

// Decode reverses the transforms recorded for an artifact. Flags come
// from the metadata record, not from the current configuration.
func (c *Codec) Decode(data []byte, compressed, encrypted bool) ([]byte, error) {
	out := data
	if encrypted {
		if c.key == nil {
			return nil, fault.New(fault.KindDecryptionFailed, "artifact is encrypted but no key is configured")
		}
		plain, err := open(c.key, out)
		if err != nil {
			return nil, err
		}
		out = plain
	}
	if compressed {
		plain, err := gzipDecompress(out)
		if err != nil {
			return nil, err
		}
		out = plain
	}
	return out, nil
}
