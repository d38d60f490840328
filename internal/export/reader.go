package export

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"

	"github.com/cass-dev/cass/internal/casserr"
)

// ReadConfig loads and parses config.json from a bundle directory.
func ReadConfig(dir string) (*Config, error) {
	b, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "reading config.json")
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, casserr.New(casserr.KindParse, "config.json does not parse", err.Error())
	}
	return &cfg, nil
}

// Decrypt implements the read procedure of spec §4.7: unwrap the DEK
// using the slot matching secret, decrypt every chunk with
// nonce = base_nonce XOR chunk_index, concatenate, and inflate.
func Decrypt(dir string, cfg *Config, secret []byte) ([]byte, error) {
	if !cfg.Encrypted {
		return os.ReadFile(filepath.Join(dir, "payload", "data.db"))
	}

	var dek []byte
	var lastErr error
	for _, slot := range cfg.KeySlots {
		d, err := UnwrapDEK(slot, secret)
		if err == nil {
			dek = d
			break
		}
		lastErr = err
	}
	if dek == nil {
		if lastErr == nil {
			lastErr = casserr.New(casserr.KindCrypto, "no key slots configured", "")
		}
		return nil, lastErr
	}

	baseNonce, err := hex.DecodeString(cfg.BaseNonce)
	if err != nil {
		return nil, casserr.New(casserr.KindIntegrity, "malformed base_nonce in config.json", "")
	}
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCrypto, err, "initializing AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCrypto, err, "initializing GCM")
	}

	var compressed []byte
	for i, rel := range cfg.Payload.Files {
		sealed, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, casserr.Wrap(casserr.KindIO, err, "reading "+rel)
		}
		nonce := xorNonce(baseNonce, i)
		plain, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			return nil, casserr.New(casserr.KindIntegrity, "chunk authentication failed: "+rel, "bundle may be corrupted or tampered")
		}
		compressed = append(compressed, plain...)
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindIntegrity, err, "inflating bundle payload")
	}
	return plain, nil
}
