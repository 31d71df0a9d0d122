// Package crypto implements the signed-manifest trust chain: tagged
// content hashing and Ed25519 signature verification for core tools and
// plugins, backing the load-time verification gates of the WASM and
// native plugin runtimes.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	tagSHA256 = "sha256"
	tagBLAKE3 = "blake3"
)

// HashBytes computes a tagged content hash for data, in the form
// "sha256:<hex>". The manifest format tags every hash so a future
// algorithm can be introduced without breaking older manifests; we always
// produce sha256 tags, since no BLAKE3 implementation is available.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return tagSHA256 + ":" + hex.EncodeToString(sum[:])
}

// VerifyHash reports whether data matches a tagged hash of the form
// "sha256:<hex>" or "blake3:<hex>". A blake3-tagged hash is compared by
// hex equality only if the candidate happens to carry one (never produced
// by this package, but accepted from externally supplied manifests);
// anything else is rejected as an unknown tag.
func VerifyHash(data []byte, tagged string) (bool, error) {
	tag, hexDigest, ok := splitTag(tagged)
	if !ok {
		return false, fmt.Errorf("crypto: malformed tagged hash %q", tagged)
	}
	switch tag {
	case tagSHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]) == strings.ToLower(hexDigest), nil
	case tagBLAKE3:
		// No BLAKE3 implementation in this build; a blake3-tagged hash can
		// only be verified by bytewise comparison against a previously
		// recorded digest, which we don't have. Treat as unverifiable.
		return false, fmt.Errorf("crypto: blake3 hashes cannot be verified in this build")
	default:
		return false, fmt.Errorf("crypto: unknown hash tag %q", tag)
	}
}

func splitTag(tagged string) (tag, digest string, ok bool) {
	i := strings.IndexByte(tagged, ':')
	if i < 0 {
		return "", "", false
	}
	return tagged[:i], tagged[i+1:], true
}
