package transform

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/cyqddx/shuyuan/core/fault"
)

// Payloads below this size never compress well enough to pay for the
// gzip header and decode cost.
const compressMinBytes = 64

// gzipCompress returns the gzip form of plain when doing so helps. The
// second return is false when the payload was left alone.
func gzipCompress(plain []byte, level int) ([]byte, bool, error) {
	if len(plain) < compressMinBytes {
		return plain, false, nil
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, false, fault.Wrap(fault.KindInternal, "init gzip writer", err)
	}
	if _, err := zw.Write(plain); err != nil {
		return nil, false, fault.Wrap(fault.KindInternal, "compress payload", err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fault.Wrap(fault.KindInternal, "finish gzip stream", err)
	}
	if buf.Len() >= len(plain) {
		return plain, false, nil
	}
	return buf.Bytes(), true, nil
}

// gzipDecompress inflates data stored compressed. Corruption here means
// the stored bytes no longer match what upload wrote.
func gzipDecompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageCorrupt, "open gzip stream", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageCorrupt, "inflate payload", err)
	}
	return plain, nil
}
