package media

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-campaign/internal/model"
)

func payload(name string, content []byte) *model.MediaPayload {
	return &model.MediaPayload{
		Name: name,
		Data: base64.StdEncoding.EncodeToString(content),
	}
}

func TestValidateFillsMimeType(t *testing.T) {
	p := payload("promo.png", []byte("fake png"))

	require.NoError(t, Validate(p))
	assert.Equal(t, "image/png", p.MimeType)
}

func TestValidateKeepsExplicitMimeType(t *testing.T) {
	p := payload("promo.bin", []byte("data"))
	p.MimeType = "image/jpeg"

	require.NoError(t, Validate(p))
	assert.Equal(t, "image/jpeg", p.MimeType)
}

func TestValidateNilPayload(t *testing.T) {
	assert.NoError(t, Validate(nil))
}

func TestValidateRejectsOversizedPayload(t *testing.T) {
	p := payload("big.bin", bytes.Repeat([]byte{0xA5}, MaxBytes+1))

	err := Validate(p)
	assert.ErrorIs(t, err, ErrMediaTooLarge)
}

func TestValidateAcceptsLimitExactly(t *testing.T) {
	p := payload("edge.bin", bytes.Repeat([]byte{0x01}, MaxBytes))

	assert.NoError(t, Validate(p))
}

func TestValidateRejectsBadBase64(t *testing.T) {
	p := &model.MediaPayload{Name: "x.png", Data: "not!!!base64"}

	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestValidateRejectsEmptyData(t *testing.T) {
	p := &model.MediaPayload{Name: "x.png", Data: "  "}

	require.Error(t, Validate(p))
}

func TestMaterializeRoundTrip(t *testing.T) {
	content := []byte("jpeg bytes here")
	p := payload("promo.jpg", content)

	path, cleanup, err := Materialize(p)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, ".jpg", filepath.Ext(path))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "cleanup must remove the temp file")
}

func TestLoadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flyer.pdf")
	content := []byte("%PDF-1.4 fake")
	require.NoError(t, os.WriteFile(path, content, 0644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "flyer.pdf", p.Name)
	assert.Equal(t, "application/pdf", p.MimeType)

	decoded, err := base64.StdEncoding.DecodeString(p.Data)
	require.NoError(t, err)
	assert.Equal(t, content, decoded)
}

func TestMimeFromName(t *testing.T) {
	tests := map[string]string{
		"a.JPG":    "image/jpeg",
		"b.png":    "image/png",
		"c.mp4":    "video/mp4",
		"d.ogg":    "audio/ogg",
		"e":        "application/octet-stream",
		"f.exotic": "application/octet-stream",
	}

	for name, want := range tests {
		assert.Equal(t, want, MimeFromName(name), "name %s", name)
	}
}
