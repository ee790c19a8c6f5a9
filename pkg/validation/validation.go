// Package validation holds the input checks applied at the signaling and
// HTTP boundaries.
package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

var (
	// RoomIDRegex matches server-issued room ids: 21 URL-safe characters.
	RoomIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{21}$`)

	// PeerNameRegex rejects control characters; anything printable is a
	// legal display name.
	peerNameControl = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ValidateRoomID checks the room id format before any lookup happens.
func ValidateRoomID(id string) error {
	if id == "" {
		return fmt.Errorf("room id is required")
	}
	if !RoomIDRegex.MatchString(id) {
		return fmt.Errorf("invalid room id format")
	}
	return nil
}

// ValidatePeerName checks a display name. Empty is allowed; the caller
// decides the fallback.
func ValidatePeerName(name string, maxLength int) error {
	if name == "" {
		return nil
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name is not valid UTF-8")
	}
	if utf8.RuneCountInString(name) > maxLength {
		return fmt.Errorf("name is too long (max %d characters)", maxLength)
	}
	if peerNameControl.MatchString(name) {
		return fmt.Errorf("name contains control characters")
	}
	return nil
}
