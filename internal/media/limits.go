package media

import (
	"fmt"
	"io"
)

const (
	// MaxAssetBytes is the default max relayed payload size.
	MaxAssetBytes int64 = 50 * 1024 * 1024
)

// ReadAllWithLimit reads from reader and rejects payloads larger than maxBytes.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be greater than 0")
	}
	limited := &io.LimitedReader{
		R: reader,
		N: maxBytes + 1,
	}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	return data, nil
}

// VoiceDurationSeconds estimates the play length of a silk voice payload.
func VoiceDurationSeconds(size int) int {
	return int(float64(size) / (2.95 * 1024))
}
