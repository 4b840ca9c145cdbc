package idgen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestToken_FormatAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		tok := Token()
		if !hex64.MatchString(tok) {
			t.Fatalf("token %q is not 64 lowercase hex chars", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token after %d generations", i)
		}
		seen[tok] = struct{}{}
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("org_")
	assert.True(t, strings.HasPrefix(id, "org_"))
	assert.Len(t, id, len("org_")+24)
}
