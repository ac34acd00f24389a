package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"docdelta/internal/errors"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// compressor zstd-compresses archived snapshots above MinSize.
type compressor struct {
	minSize  int
	encoders sync.Pool
	decoders sync.Pool
}

func newCompressor(minSize, level int) (*compressor, error) {
	// Validate the options once so pool constructors cannot fail later.
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	enc.Close()

	return &compressor{
		minSize: minSize,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil,
					zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
					zstd.WithEncoderConcurrency(1),
				)
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				return dec
			},
		},
	}, nil
}

func (c *compressor) compress(data []byte) []byte {
	if len(data) < c.minSize {
		return data
	}
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func (c *compressor) decompress(data []byte) ([]byte, error) {
	if len(data) < len(zstdMagic) || !bytes.Equal(data[:len(zstdMagic)], zstdMagic) {
		return data, nil
	}
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)
	return dec.DecodeAll(data, nil)
}

type header struct {
	SchemaVersion int `json:"schema_version"`
}

// Decode parses a persisted state. A schema mismatch yields a header-only
// state (only SchemaVersion set) rather than a partial load.
func Decode(data []byte) (*DocState, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.BaselineError(err, "decoding state header")
	}
	if h.SchemaVersion != CurrentSchemaVersion {
		return &DocState{SchemaVersion: h.SchemaVersion}, nil
	}

	var s DocState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.BaselineError(err, "decoding state")
	}
	if s.Files == nil {
		s.Files = make(map[string]FileRecord)
	}
	for path, rec := range s.Files {
		rec.Path = path
		s.Files[path] = rec
	}
	if s.Sections == nil {
		s.Sections = make(map[string]string)
	}
	return &s, nil
}

// Encode validates s and renders it as indented JSON. Invalid states are
// never encoded.
func Encode(s *DocState) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling state: %w", err)
	}
	return data, nil
}
