package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteUnencryptedRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	payload := []byte("fake sqlite catalog snapshot bytes")

	cfg, err := Write(WriteOptions{Dir: dir, Data: bytes.NewReader(payload)})
	require.NoError(t, err)
	assert.False(t, cfg.Encrypted)

	require.NoError(t, Verify(dir))

	got, err := os.ReadFile(filepath.Join(dir, "payload", "data.db"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteEncryptedRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	payload := []byte("a much larger catalog export payload that will span a couple chunks if we want it to, but default chunk size is 256KiB so this stays in one chunk for the test")

	cheapParams := Argon2Params{MemoryKB: 8 * 1024, Iterations: 1, Parallelism: 1}
	cfg, err := Write(WriteOptions{
		Dir:    dir,
		Data:   bytes.NewReader(payload),
		Slots:  []KeySlot{{SlotType: "password", Secret: []byte("correct horse battery staple")}},
		Argon2: cheapParams,
	})
	require.NoError(t, err)
	assert.True(t, cfg.Encrypted)
	require.Len(t, cfg.KeySlots, 1)

	require.NoError(t, Verify(dir))

	loaded, err := ReadConfig(dir)
	require.NoError(t, err)
	plain, err := Decrypt(dir, loaded, []byte("correct horse battery staple"))
	require.NoError(t, err)
	assert.Equal(t, payload, plain)

	_, err = Decrypt(dir, loaded, []byte("wrong passphrase"))
	assert.Error(t, err)
}

func TestVerifyRejectsTraversal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	cfg, err := Write(WriteOptions{Dir: dir, Data: bytes.NewReader([]byte("x"))})
	require.NoError(t, err)
	_ = cfg

	manifestPath := filepath.Join(dir, "integrity.json")
	raw, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	var manifest IntegrityManifest
	require.NoError(t, json.Unmarshal(raw, &manifest))
	manifest.Files["../../../etc/passwd"] = IntegrityFile{SHA256: "deadbeef", Size: 4}
	tampered, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, tampered, 0o644))

	err = Verify(dir)
	require.Error(t, err)
}

func TestVerifyRejectsPercentEncodedTraversal(t *testing.T) {
	for _, path := range []string{"%2e%2e/%2e%2e/etc/passwd", "%252e%252e/etc/passwd", "%c0%ae%c0%ae/etc/passwd"} {
		err := validateRelativePath(path)
		assert.Error(t, err, path)
	}
}

func TestVerifyRejectsAbsoluteAndBackslashAndNull(t *testing.T) {
	assert.Error(t, validateRelativePath("/etc/passwd"))
	assert.Error(t, validateRelativePath("..\\..\\windows\\system32"))
	assert.Error(t, validateRelativePath("payload/chunk\x00.bin"))
}

func TestVerifyDetectsHashMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	_, err := Write(WriteOptions{Dir: dir, Data: bytes.NewReader([]byte("original content"))})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload", "data.db"), []byte("tampered!"), 0o644))

	err = Verify(dir)
	assert.Error(t, err)
}
