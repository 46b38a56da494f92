package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

func TinyHash(input string) string {
	hash := sha256.Sum256([]byte(input))

	// Take the first 4 bytes from the hash and convert to an integer
	hashInt := int(hash[0])<<24 | int(hash[1])<<16 | int(hash[2])<<8 | int(hash[3])

	// Encode the integer as base62
	return base62Encode(hashInt)
}

func base62Encode(num int) string {
	const charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var result []byte
	for num > 0 {
		result = append([]byte{charset[num%62]}, result...)
		num /= 62
	}
	return string(result)
}

// HashTagParams derives a short, stable tag suffix from action parameters.
// Keys are sorted, empty values are skipped, and the first 12 hex characters
// of the sha256 of "k:v,k:v" are returned.
func HashTagParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s:%v", k, params[k])
	}

	hash := sha256.Sum256([]byte(strings.Join(pairs, ",")))

	return hex.EncodeToString(hash[:])[:12]
}

// Tag builds a submission tag of the form "<action>-<hash>".
func Tag(action string, params map[string]any) string {
	return action + "-" + HashTagParams(params)
}
