package client

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint builds a canonical, deterministic cache key from the request
// parts: the hex SHA-256 of their JSON encodings. encoding/json writes map
// keys in sorted order, so semantically identical parameter maps always
// produce the same digest and distinct requests do not collide.
func Fingerprint(parts ...interface{}) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, p := range parts {
		// Encoding into a hash cannot fail for JSON-encodable inputs;
		// a non-encodable part contributes nothing, which still yields a
		// deterministic key for that caller.
		_ = enc.Encode(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
