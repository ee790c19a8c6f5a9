package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRoomIDShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRoomID()
		assert.Len(t, id, 21)
		for _, r := range id {
			assert.Contains(t, roomIDAlphabet, string(r))
		}
		assert.False(t, seen[id], "room id %s repeated", id)
		seen[id] = true
	}
}

func TestGenerateIDCarriesPrefix(t *testing.T) {
	id := GenerateID("transport")
	assert.True(t, strings.HasPrefix(id, "transport_"))
	assert.NotEqual(t, id, GenerateID("transport"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "alice", SanitizeString("  alice  "))
	assert.Equal(t, "alice", SanitizeString("al\x00ice"))
	assert.Equal(t, "a\tb", SanitizeString("a\tb"), "tabs survive")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "exact", TruncateString("exact", 5))
	assert.Equal(t, "lo...", TruncateString("longer than five", 5))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
}
