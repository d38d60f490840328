// Package export implements the encrypted export bundle writer and the
// integrity/path-safety verifier of spec §4.7/§4.8. Construction follows
// the teacher's dependency-struct-plus-sentinel-error idiom (see
// internal/casserr); the crypto/compression pairing itself
// (Argon2id-derived per-slot KEKs wrapping a random DEK, AES-GCM-256
// chunk encryption, DEFLATE via klauspost/compress) has no direct pack
// precedent and is grounded on golang.org/x/crypto and
// github.com/klauspost/compress, both present across the example pack
// (see DESIGN.md).
package export

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"golang.org/x/crypto/argon2"

	"github.com/cass-dev/cass/internal/casserr"
)

// ChunkSize is the default fixed chunk size per spec §4.7 step 3.
const ChunkSize = 256 * 1024

const (
	configVersion    = 2
	integrityVersion = 1
	dekSize          = 32 // AES-256
	nonceSize        = 12 // 96-bit GCM nonce
	saltSize         = 16
)

// Argon2Params are the Argon2id cost parameters recorded in each key slot;
// callers set them in code.
type Argon2Params struct {
	MemoryKB    uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultArgon2Params matches a conservative interactive-login cost.
var DefaultArgon2Params = Argon2Params{MemoryKB: 64 * 1024, Iterations: 3, Parallelism: 4}

// KeySlot is one way to unlock the bundle: a password or a recovery code.
type KeySlot struct {
	ID       string
	Secret   []byte // caller-supplied passphrase or recovery code bytes; not retained
	SlotType string // "password" | "recovery"
}

// Config mirrors config.json's encrypted-bundle shape (spec §4.7).
type Config struct {
	Version     int             `json:"version"`
	ExportID    string          `json:"export_id"`
	Encrypted   bool            `json:"encrypted"`
	BaseNonce   string          `json:"base_nonce,omitempty"` // hex
	Compression string          `json:"compression,omitempty"`
	KDFDefaults *kdfDefaults    `json:"kdf_defaults,omitempty"`
	Payload     payloadMeta     `json:"payload"`
	KeySlots    []SlotConfig    `json:"key_slots,omitempty"`
}

type kdfDefaults struct {
	MemoryKB    uint32 `json:"memory_kb"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

type payloadMeta struct {
	ChunkSize            int      `json:"chunk_size"`
	ChunkCount           int      `json:"chunk_count"`
	TotalCompressedSize  int64    `json:"total_compressed_size"`
	TotalPlaintextSize   int64    `json:"total_plaintext_size"`
	Files                []string `json:"files"`
}

type SlotConfig struct {
	ID            string       `json:"id"`
	SlotType      string       `json:"slot_type"`
	KDF           string       `json:"kdf"`
	Salt          string       `json:"salt"` // hex
	WrappedDEK    string       `json:"wrapped_dek"` // hex, GCM-sealed
	Nonce         string       `json:"nonce"` // hex
	Argon2Params  Argon2Params `json:"argon2_params"`
}

// IntegrityManifest is integrity.json's shape (spec §4.7 step 6).
type IntegrityManifest struct {
	Version     int                      `json:"version"`
	GeneratedAt time.Time                `json:"generated_at"`
	Files       map[string]IntegrityFile `json:"files"`
}

// IntegrityFile is one manifest entry.
type IntegrityFile struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// viewerAssets are the static files spec §4.7 requires every bundle to
// carry, regardless of encryption. CASS ships minimal stand-ins; the
// full offline-viewer HTML/CSS/JS is an external collaborator per
// SPEC_FULL.md's Non-goals.
var viewerAssets = []string{"index.html", "viewer.js", "auth.js", "styles.css", "sw.js", "robots.txt", ".nojekyll"}

// WriteOptions configures Write.
type WriteOptions struct {
	Dir      string // destination bundle directory, must not already exist
	Data     io.Reader // the database snapshot plus analytics files, pre-serialized
	Slots    []KeySlot // empty means an unencrypted bundle
	Argon2   Argon2Params
}

// Write implements the bundle write procedure of spec §4.7.
func Write(opts WriteOptions) (*Config, error) {
	if len(opts.Slots) == 0 {
		return writeUnencrypted(opts)
	}
	return writeEncrypted(opts)
}

func writeUnencrypted(opts WriteOptions) (*Config, error) {
	if err := os.MkdirAll(filepath.Join(opts.Dir, "payload"), 0o755); err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "creating bundle payload directory")
	}
	dataPath := filepath.Join(opts.Dir, "payload", "data.db")
	f, err := os.Create(dataPath)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "creating payload/data.db")
	}
	n, err := io.Copy(f, opts.Data)
	closeErr := f.Close()
	if err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "writing payload/data.db")
	}
	if closeErr != nil {
		return nil, casserr.Wrap(casserr.KindIO, closeErr, "closing payload/data.db")
	}

	cfg := &Config{
		Version:   configVersion,
		ExportID:  uuid.NewString(),
		Encrypted: false,
		Payload: payloadMeta{
			TotalPlaintextSize: n,
			Files:              []string{"payload/data.db"},
		},
	}
	if err := writeViewerAssets(opts.Dir); err != nil {
		return nil, err
	}
	if err := writeConfigJSON(opts.Dir, cfg); err != nil {
		return nil, err
	}
	if err := writeIntegrityManifest(opts.Dir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeEncrypted(opts WriteOptions) (*Config, error) {
	params := opts.Argon2
	if params == (Argon2Params{}) {
		params = DefaultArgon2Params
	}

	_, compressed, plainSize, err := compressAll(opts.Data)
	if err != nil {
		return nil, err
	}

	dek := make([]byte, dekSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, casserr.Wrap(casserr.KindCrypto, err, "generating DEK")
	}
	baseNonce := make([]byte, nonceSize)
	if _, err := rand.Read(baseNonce); err != nil {
		return nil, casserr.Wrap(casserr.KindCrypto, err, "generating base nonce")
	}

	if err := os.MkdirAll(filepath.Join(opts.Dir, "payload"), 0o755); err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "creating bundle payload directory")
	}

	chunkFiles, chunkCount, err := writeChunks(opts.Dir, compressed, dek, baseNonce)
	if err != nil {
		return nil, err
	}

	slots := make([]SlotConfig, 0, len(opts.Slots))
	for _, slot := range opts.Slots {
		sc, err := wrapDEKForSlot(slot, dek, params)
		if err != nil {
			return nil, err
		}
		slots = append(slots, sc)
	}

	cfg := &Config{
		Version:     configVersion,
		ExportID:    uuid.NewString(),
		Encrypted:   true,
		BaseNonce:   hex.EncodeToString(baseNonce),
		Compression: "deflate",
		KDFDefaults: &kdfDefaults{MemoryKB: params.MemoryKB, Iterations: params.Iterations, Parallelism: params.Parallelism},
		Payload: payloadMeta{
			ChunkSize:           ChunkSize,
			ChunkCount:          chunkCount,
			TotalCompressedSize: int64(len(compressed)),
			TotalPlaintextSize:  plainSize,
			Files:               chunkFiles,
		},
		KeySlots: slots,
	}
	if err := writeViewerAssets(opts.Dir); err != nil {
		return nil, err
	}
	if err := writeConfigJSON(opts.Dir, cfg); err != nil {
		return nil, err
	}
	if err := writeIntegrityManifest(opts.Dir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// compressAll reads all of r and DEFLATEs it at level 6 (spec §4.7 step 2).
func compressAll(r io.Reader) (plain []byte, compressed []byte, plainSize int64, err error) {
	plain, err = io.ReadAll(r)
	if err != nil {
		return nil, nil, 0, casserr.Wrap(casserr.KindIO, err, "reading export snapshot")
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, 6)
	if err != nil {
		return nil, nil, 0, casserr.Wrap(casserr.KindIO, err, "initializing deflate writer")
	}
	if _, err := w.Write(plain); err != nil {
		return nil, nil, 0, casserr.Wrap(casserr.KindIO, err, "compressing export snapshot")
	}
	if err := w.Close(); err != nil {
		return nil, nil, 0, casserr.Wrap(casserr.KindIO, err, "closing deflate writer")
	}
	return plain, buf.Bytes(), int64(len(plain)), nil
}

// writeChunks splits compressed into ChunkSize pieces, encrypts each with
// AES-GCM-256 under nonce = base_nonce XOR chunk_index (spec §4.7 step 5),
// and writes payload/chunk-%05d.bin files.
func writeChunks(dir string, compressed []byte, dek, baseNonce []byte) (files []string, count int, err error) {
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, 0, casserr.Wrap(casserr.KindCrypto, err, "initializing AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, 0, casserr.Wrap(casserr.KindCrypto, err, "initializing GCM")
	}

	offsets := []int{0}
	if len(compressed) > 0 {
		offsets = nil
		for o := 0; o < len(compressed); o += ChunkSize {
			offsets = append(offsets, o)
		}
	}
	for _, offset := range offsets {
		end := offset + ChunkSize
		if end > len(compressed) {
			end = len(compressed)
		}
		chunk := compressed[offset:end]
		nonce := xorNonce(baseNonce, count)
		sealed := gcm.Seal(nil, nonce, chunk, nil)

		rel := fmt.Sprintf("payload/chunk-%05d.bin", count)
		if err := os.WriteFile(filepath.Join(dir, rel), sealed, 0o644); err != nil {
			return nil, 0, casserr.Wrap(casserr.KindIO, err, "writing "+rel)
		}
		files = append(files, rel)
		count++
	}
	return files, count, nil
}

// xorNonce packs idx, big-endian, into the last 4 bytes of base, XORed
// in, exactly as spec §4.7 step 5 specifies.
func xorNonce(base []byte, idx int) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	n := len(nonce)
	nonce[n-1] ^= byte(idx)
	nonce[n-2] ^= byte(idx >> 8)
	nonce[n-3] ^= byte(idx >> 16)
	nonce[n-4] ^= byte(idx >> 24)
	return nonce
}

// wrapDEKForSlot derives a KEK via Argon2id from the slot secret and
// wraps dek with AES-GCM-256 under a fresh slot nonce (spec §4.7 step 4).
func wrapDEKForSlot(slot KeySlot, dek []byte, params Argon2Params) (SlotConfig, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return SlotConfig{}, casserr.Wrap(casserr.KindCrypto, err, "generating slot salt")
	}
	kek := argon2.IDKey(slot.Secret, salt, params.Iterations, params.MemoryKB, params.Parallelism, dekSize)

	block, err := aes.NewCipher(kek)
	if err != nil {
		return SlotConfig{}, casserr.Wrap(casserr.KindCrypto, err, "initializing slot cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return SlotConfig{}, casserr.Wrap(casserr.KindCrypto, err, "initializing slot GCM")
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return SlotConfig{}, casserr.Wrap(casserr.KindCrypto, err, "generating slot nonce")
	}
	wrapped := gcm.Seal(nil, nonce, dek, nil)

	id := slot.ID
	if id == "" {
		id = uuid.NewString()
	}
	return SlotConfig{
		ID:           id,
		SlotType:     slot.SlotType,
		KDF:          "argon2id",
		Salt:         hex.EncodeToString(salt),
		WrappedDEK:   hex.EncodeToString(wrapped),
		Nonce:        hex.EncodeToString(nonce),
		Argon2Params: params,
	}, nil
}

// UnwrapDEK reverses wrapDEKForSlot given the matching secret.
func UnwrapDEK(slot SlotConfig, secret []byte) ([]byte, error) {
	salt, err := hex.DecodeString(slot.Salt)
	if err != nil {
		return nil, casserr.New(casserr.KindCrypto, "malformed slot salt", slot.ID)
	}
	wrapped, err := hex.DecodeString(slot.WrappedDEK)
	if err != nil {
		return nil, casserr.New(casserr.KindCrypto, "malformed wrapped DEK", slot.ID)
	}
	nonce, err := hex.DecodeString(slot.Nonce)
	if err != nil {
		return nil, casserr.New(casserr.KindCrypto, "malformed slot nonce", slot.ID)
	}
	kek := argon2.IDKey(secret, salt, slot.Argon2Params.Iterations, slot.Argon2Params.MemoryKB, slot.Argon2Params.Parallelism, dekSize)
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCrypto, err, "initializing unwrap cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCrypto, err, "initializing unwrap GCM")
	}
	dek, err := gcm.Open(nil, nonce, wrapped, nil)
	if err != nil {
		return nil, casserr.New(casserr.KindCrypto, "incorrect passphrase or corrupted slot", slot.ID)
	}
	return dek, nil
}

func writeViewerAssets(dir string) error {
	for _, name := range viewerAssets {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(placeholderAsset(name)), 0o644); err != nil {
			return casserr.Wrap(casserr.KindIO, err, "writing "+name)
		}
	}
	return nil
}

func placeholderAsset(name string) string {
	switch name {
	case "index.html":
		return "<!doctype html><title>CASS export</title>"
	case ".nojekyll", "robots.txt":
		return ""
	default:
		return "// generated by cass export\n"
	}
}

func writeConfigJSON(dir string, cfg *Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return casserr.Wrap(casserr.KindIO, err, "marshaling config.json")
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), b, 0o644); err != nil {
		return casserr.Wrap(casserr.KindIO, err, "writing config.json")
	}
	return nil
}

// writeIntegrityManifest hashes every file already written to dir
// (excluding integrity.json itself) and writes integrity.json (spec §4.7
// step 6).
func writeIntegrityManifest(dir string) error {
	manifest := IntegrityManifest{
		Version:     integrityVersion,
		GeneratedAt: time.Now().UTC(),
		Files:       make(map[string]IntegrityFile),
	}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "integrity.json" {
			return nil
		}
		sum, size, err := sha256File(path)
		if err != nil {
			return err
		}
		manifest.Files[filepath.ToSlash(rel)] = IntegrityFile{SHA256: sum, Size: size}
		return nil
	})
	if err != nil {
		return casserr.Wrap(casserr.KindIO, err, "hashing bundle files")
	}
	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return casserr.Wrap(casserr.KindIO, err, "marshaling integrity.json")
	}
	return os.WriteFile(filepath.Join(dir, "integrity.json"), b, 0o644)
}

func sha256File(path string) (sum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
