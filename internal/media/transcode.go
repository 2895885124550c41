package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/image/webp"
)

// StickerToPNG converts a static WebP sticker into PNG bytes.
func StickerToPNG(data []byte) ([]byte, error) {
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode webp: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Transcoder shells out to ffmpeg for audio conversion.
type Transcoder struct {
	ffmpeg string
	cache  *Cache
	logger *slog.Logger
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewTranscoder creates a transcoder using the ffmpeg binary at path.
func NewTranscoder(path string, cache *Cache, log *slog.Logger) *Transcoder {
	if log == nil {
		log = slog.Default()
	}
	return &Transcoder{
		ffmpeg: strings.TrimSpace(path),
		cache:  cache,
		logger: log.With(slog.String("component", "transcoder")),
		run:    runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Available reports whether the ffmpeg binary can be located.
func (t *Transcoder) Available() bool {
	if t == nil || t.ffmpeg == "" {
		return false
	}
	_, err := exec.LookPath(t.ffmpeg)
	return err == nil
}

// VoiceToMP3 converts a voice note (ogg/opus) to mp3 bytes.
func (t *Transcoder) VoiceToMP3(ctx context.Context, data []byte, inExt string) ([]byte, error) {
	if !t.Available() {
		return nil, ErrTranscoderUnavailable
	}
	if inExt == "" {
		inExt = ".ogg"
	}
	in, err := t.cache.Write(data, inExt)
	if err != nil {
		return nil, err
	}
	defer t.cache.Remove(in)
	out := t.cache.newPath(".mp3")
	defer t.cache.Remove(out)

	output, err := t.run(ctx, t.ffmpeg, "-hide_banner", "-loglevel", "error", "-y", "-i", in, "-vn", "-acodec", "libmp3lame", out)
	if err != nil {
		t.logger.Warn("ffmpeg failed", slog.String("output", strings.TrimSpace(string(output))), slog.Any("error", err))
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	converted, err := os.ReadFile(out)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("ffmpeg produced no output")
		}
		return nil, err
	}
	return converted, nil
}
