// Package sha256 computes checksums for archived job documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
)

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Manifest renders a single sha256sum(1) line for an object, so archives can be
// verified with `sha256sum -c` after download.
func Manifest(data []byte, objectPath string) []byte {
	return []byte(fmt.Sprintf("%s  %s\n", Checksum(data), path.Base(objectPath)))
}
