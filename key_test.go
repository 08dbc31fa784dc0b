package socketflow

import (
	"encoding/base64"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Key and accept value from RFC 6455, section 1.3.
func TestComputeAcceptKey(t *testing.T) {
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got := computeAcceptKey(key); got != want {
		t.Errorf("computeAcceptKey(%q) = %q, want %q", key, got, want)
	}
}

func TestGenerateChallengeKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		key, err := generateChallengeKey()
		if err != nil {
			t.Fatalf("generateChallengeKey: %v", err)
		}
		p, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			t.Errorf("key %q is not valid base64: %v", key, err)
			continue
		}
		if len(p) != 16 {
			t.Errorf("key %q decodes to %d bytes, want 16", key, len(p))
		}
		if seen[key] {
			t.Errorf("key %q repeated", key)
		}
		seen[key] = true
	}
}

func TestAcceptKeyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("deterministic for equal keys", prop.ForAll(
		func(key string) bool {
			return computeAcceptKey(key) == computeAcceptKey(key)
		},
		gen.AnyString(),
	))

	properties.Property("accept value is a base64 SHA-1 digest", prop.ForAll(
		func(key string) bool {
			accept := computeAcceptKey(key)
			if len(accept) != 28 {
				return false
			}
			p, err := base64.StdEncoding.DecodeString(accept)
			return err == nil && len(p) == 20
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
