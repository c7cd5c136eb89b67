package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"whatsapp-campaign/internal/model"
)

// MaxBytes is the decoded size limit for an inline media payload, matching
// what WhatsApp Web accepts for ordinary attachments.
const MaxBytes = 16 << 20

var ErrMediaTooLarge = errors.New("media payload exceeds size limit")

// Validate checks a payload before a run starts: the data must be valid
// base64 and decode to at most MaxBytes. An empty MimeType is filled in
// from the filename extension.
func Validate(p *model.MediaPayload) error {
	if p == nil {
		return nil
	}
	if strings.TrimSpace(p.Data) == "" {
		return fmt.Errorf("media payload %q has no data", p.Name)
	}

	decoded, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return fmt.Errorf("failed to decode media data for %q: %w", p.Name, err)
	}
	if len(decoded) > MaxBytes {
		return fmt.Errorf("%w: %q decodes to %d bytes, limit is %d", ErrMediaTooLarge, p.Name, len(decoded), MaxBytes)
	}

	if p.MimeType == "" {
		p.MimeType = MimeFromName(p.Name)
	}
	return nil
}

// Materialize writes the decoded payload to a temp file for upload
// injection. The cleanup func removes the file.
func Materialize(p *model.MediaPayload) (string, func(), error) {
	decoded, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode media data for %q: %w", p.Name, err)
	}
	if len(decoded) > MaxBytes {
		return "", nil, fmt.Errorf("%w: %q decodes to %d bytes, limit is %d", ErrMediaTooLarge, p.Name, len(decoded), MaxBytes)
	}

	ext := filepath.Ext(p.Name)
	if ext == "" {
		ext = ".bin"
	}

	file, err := os.CreateTemp("", "wacampaign-media-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp media file: %w", err)
	}

	if _, err := file.Write(decoded); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", nil, fmt.Errorf("failed to write temp media file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", nil, fmt.Errorf("failed to close temp media file: %w", err)
	}

	path := file.Name()
	return path, func() { os.Remove(path) }, nil
}

// LoadFile reads a local file into an inline payload.
func LoadFile(path string) (*model.MediaPayload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("media file not found: %s", path)
	}
	if info.Size() > MaxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrMediaTooLarge, path, info.Size(), MaxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read media file: %w", err)
	}

	name := filepath.Base(path)
	return &model.MediaPayload{
		Name:     name,
		MimeType: MimeFromName(name),
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// MimeFromName maps a filename extension to a MIME type.
func MimeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".ogg":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
