package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// roomIDAlphabet matches the URL-safe alphabet nanoid uses, so room ids look
// the same to clients that joined rooms created by the legacy backend.
const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

const roomIDLength = 21

// GenerateRoomID returns a collision-resistant, URL-safe room id.
func GenerateRoomID() string {
	b := make([]byte, roomIDLength)
	rand.Read(b)
	for i := range b {
		b[i] = roomIDAlphabet[int(b[i])&63]
	}
	return string(b)
}

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}
