package media

import "errors"

var (
	// ErrAssetTooLarge indicates the payload exceeds the configured max asset size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrUnsupportedFormat indicates a payload the bridge cannot relay (e.g. animated .tgs stickers).
	ErrUnsupportedFormat = errors.New("media format not supported")
	// ErrTranscoderUnavailable indicates the external transcoder binary is missing.
	ErrTranscoderUnavailable = errors.New("media transcoder unavailable")
)
