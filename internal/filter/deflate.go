package filter

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/scigolib/h5vol/internal/utils"
)

// DeflateCodec implements zlib compression (id 1). Its single parameter is
// the compression level.
type DeflateCodec struct{}

// ID returns Deflate.
func (DeflateCodec) ID() ID { return Deflate }

// Name returns "deflate".
func (DeflateCodec) Name() string { return "deflate" }

// Apply compresses data at the configured level.
func (DeflateCodec) Apply(params []uint32, data []byte) ([]byte, error) {
	if len(params) != 1 || params[0] > 9 {
		return nil, fmt.Errorf("deflate parameters %v: %w", params, utils.ErrInvalidArgument)
	}

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, int(params[0]))
	if err != nil {
		return nil, fmt.Errorf("deflate writer creation failed: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("deflate compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate close failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove inflates data.
func (DeflateCodec) Remove(_ []uint32, data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("deflate reader creation failed: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("deflate decompression failed: %w", err)
	}
	return out, nil
}
