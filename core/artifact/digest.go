package artifact

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashAlgorithm labels the digest stored alongside every record. The
// label travels with the record so a future algorithm change never
// confuses old hashes with new ones.
const HashAlgorithm = "blake3"

// Digest fingerprints canonical validated bytes for deduplication:
// 16 bytes of BLAKE3, lowercase hex. BLAKE3 outputs are prefixes of the
// extended output, so truncating the 256-bit sum is the 128-bit digest.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
