package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

const sigTagEd25519 = "ed25519"

// TaggedPublicKey formats a raw Ed25519 public key as "ed25519:<hex>",
// matching the team_public_key field of a signed manifest.
func TaggedPublicKey(pub ed25519.PublicKey) string {
	return sigTagEd25519 + ":" + hex.EncodeToString(pub)
}

// ParsePublicKey decodes a "ed25519:<hex>" tagged public key.
func ParsePublicKey(tagged string) (ed25519.PublicKey, error) {
	tag, hexKey, ok := splitTag(tagged)
	if !ok || tag != sigTagEd25519 {
		return nil, fmt.Errorf("crypto: unsupported public key tag in %q", tagged)
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: public key has wrong length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ParseSignature decodes a "ed25519:<hex>" tagged signature.
func ParseSignature(tagged string) ([]byte, error) {
	tag, hexSig, ok := splitTag(tagged)
	if !ok || tag != sigTagEd25519 {
		return nil, fmt.Errorf("crypto: unsupported signature tag in %q", tagged)
	}
	raw, err := hex.DecodeString(hexSig)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("crypto: signature has wrong length %d", len(raw))
	}
	return raw, nil
}

// Sign produces a "ed25519:<hex>" tagged signature over message.
func Sign(priv ed25519.PrivateKey, message []byte) string {
	sig := ed25519.Sign(priv, message)
	return sigTagEd25519 + ":" + hex.EncodeToString(sig)
}

// Verify checks a tagged signature over message against a tagged public key.
func Verify(taggedPub, taggedSig string, message []byte) (bool, error) {
	pub, err := ParsePublicKey(taggedPub)
	if err != nil {
		return false, err
	}
	sig, err := ParseSignature(taggedSig)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, message, sig), nil
}

// isPlaceholderSignature reports whether a signature field is the
// local-development placeholder rather than a real Ed25519 signature,
// matching the unsigned manifests produced by a dev sign-manifest run.
func isPlaceholderSignature(tagged string) bool {
	return strings.EqualFold(strings.TrimSpace(tagged), "LOCAL_DEV_PLACEHOLDER_SIGNATURE")
}
