// Package checksum computes the digest set tracked for repository content.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// Algorithm names, matching the keys stored in asset checksum sets and
// the extensions of checksum side-files.
const (
	SHA1   = "sha1"
	SHA256 = "sha256"
	SHA512 = "sha512"
	MD5    = "md5"
)

// Primary is computed first during checksum rebuilds; Secondary
// algorithms run only when the primary digest actually changed.
var (
	Primary   = SHA1
	Secondary = []string{SHA256, SHA512, MD5}
	All       = []string{SHA1, SHA256, SHA512, MD5}
)

// Sum returns the hex-encoded digest of data for the given algorithm.
func Sum(algorithm string, data []byte) (string, error) {
	switch algorithm {
	case SHA1:
		h := sha1.Sum(data)
		return hex.EncodeToString(h[:]), nil
	case SHA256:
		h := sha256.Sum256(data)
		return hex.EncodeToString(h[:]), nil
	case SHA512:
		h := sha512.Sum512(data)
		return hex.EncodeToString(h[:]), nil
	case MD5:
		h := md5.Sum(data)
		return hex.EncodeToString(h[:]), nil
	default:
		return "", fmt.Errorf("checksum: unknown algorithm %q", algorithm)
	}
}

// SumAll returns the full digest set of data keyed by algorithm name.
func SumAll(data []byte) map[string]string {
	out := make(map[string]string, len(All))
	for _, algo := range All {
		digest, _ := Sum(algo, data)
		out[algo] = digest
	}
	return out
}
