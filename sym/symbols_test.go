package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllGlyphsAreDistinct(t *testing.T) {
	seen := make(map[string]string)
	for _, g := range All() {
		if prev, ok := seen[g.Symbol]; ok {
			t.Fatalf("glyph %q used by both %q and %q", g.Symbol, prev, g.Description)
		}
		seen[g.Symbol] = g.Description
		assert.NotEmpty(t, g.Description)
	}
	assert.Len(t, seen, 7)
}
