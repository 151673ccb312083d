package persist

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/nerrad567/relaybox/internal/device"
)

// Encoding names stored alongside each payload.
const (
	EncodingJSON     = "json"
	EncodingJSONZstd = "json+zstd"
)

// zstd encoders and decoders are safe for concurrent use and costly to build.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("persist: zstd encoder initialisation failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("persist: zstd decoder initialisation failed: " + err.Error())
	}
}

func encodeSnapshot(snap device.Snapshot, compress bool) (payload []byte, encoding string, err error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, "", fmt.Errorf("encoding snapshot: %w", err)
	}
	if !compress {
		return raw, EncodingJSON, nil
	}
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), EncodingJSONZstd, nil
}

func decodeSnapshot(payload []byte, encoding string) (device.Snapshot, error) {
	var snap device.Snapshot

	raw := payload
	switch encoding {
	case EncodingJSON:
	case EncodingJSONZstd:
		var err error
		raw, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return snap, fmt.Errorf("decompressing snapshot: %w", err)
		}
	default:
		return snap, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}

	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
