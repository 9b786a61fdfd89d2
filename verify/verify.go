// Package verify checks freshly written destination regions against the
// RSA-PSS signatures published in the update manifest. Verification always
// re-reads the destination, never the source stream: the source bytes were
// already trusted when the archive was built, so only the post-write region
// proves the write path, the seek arithmetic and the storage layer.
//
// Wire contract, fixed: SHA-256 digest, PKCS#1 PSS padding, MGF1 with
// SHA-256, zero-length salt. crypto/rsa recovers the salt length embedded in
// the signature during verification, which accepts the contract's zero-salt
// signatures.
package verify

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	log "log/slog"
	"os"

	"github.com/fwbank/swupdate"
	"github.com/fwbank/swupdate/archive"
	"github.com/fwbank/swupdate/fs"
)

// LoadPublicKey reads a PEM encoded RSA public key from path. Both PKIX
// ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY") blocks are accepted. One key
// applies to all blocks of an update.
func LoadPublicKey(ctx context.Context, path string) (*rsa.PublicKey, error) {
	ba, err := fs.NewFileIO().ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading public key %s failed: %w", path, err)
	}
	block, _ := pem.Decode(ba)
	if block == nil {
		return nil, fmt.Errorf("%s holds no PEM block", path)
	}
	if block.Type == "RSA PUBLIC KEY" {
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing public key %s failed: %w", path, err)
		}
		return key, nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s failed: %w", path, err)
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s is not an RSA public key", path)
	}
	return key, nil
}

// Verifier verifies destination regions under one public key. Safe for
// concurrent use; the key is read-only.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier returns a Verifier bound to the update's public key.
func NewVerifier(key *rsa.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// Block re-reads the destination region in sector-sized chunks, digests it
// and checks the manifest signature. A destination that cannot deliver the
// full region yields LogicalBlockRead; a rejected signature yields
// VerificationFailed.
func (v *Verifier) Block(ctx context.Context, region swupdate.Region, info archive.LogicalBlockInfo) error {
	f, err := os.Open(region.Path)
	if err != nil {
		return errRead(info.ID, err)
	}
	defer f.Close()
	if _, err := f.Seek(int64(region.Offset), io.SeekStart); err != nil {
		return errRead(info.ID, err)
	}

	h := sha256.New()
	buf := make([]byte, fs.BlockSize)
	remaining := region.Size
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := uint64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		n, err := io.ReadFull(f, buf[:chunk])
		if err != nil {
			return errRead(info.ID, fmt.Errorf("destination delivered %d of %d remaining bytes: %w", n, remaining, err))
		}
		h.Write(buf[:n])
		remaining -= uint64(n)
	}

	if err := v.CheckDigest(info.ID, info.Signature, h.Sum(nil)); err != nil {
		return err
	}
	log.Debug(fmt.Sprintf("verified %s at %s", info, region))
	return nil
}

// CheckDigest decodes the manifest signature and verifies it against an
// already computed SHA-256 digest of the destination region. Callers that
// stream the read-back themselves (the async driver) finish through here so
// every strategy shares one signature check.
func (v *Verifier) CheckDigest(id string, signature string, digest []byte) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return swupdate.Error{
			Code:           swupdate.VerificationFailed,
			LogicalBlockID: id,
			Err:            fmt.Errorf("signature is not valid base64: %w", err),
		}
	}
	if err := rsa.VerifyPSS(v.key, crypto.SHA256, digest, sig, &rsa.PSSOptions{Hash: crypto.SHA256}); err != nil {
		return swupdate.Error{
			Code:           swupdate.VerificationFailed,
			LogicalBlockID: id,
			Err:            err,
		}
	}
	return nil
}

func errRead(id string, err error) error {
	return swupdate.Error{Code: swupdate.LogicalBlockRead, LogicalBlockID: id, Err: err}
}
