// Package ids generates short lowercase session identifiers.
package ids

import (
	"crypto/rand"
	"fmt"
)

// Length is the standard length for generated session IDs.
const Length = 8

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// Generate returns a random ID of Length lowercase letters.
func Generate() string {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand on supported platforms never fails.
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}

// GenerateUnused draws fresh IDs until one is not claimed by used.
func GenerateUnused(used func(id string) bool) string {
	for {
		id := Generate()
		if !used(id) {
			return id
		}
	}
}
