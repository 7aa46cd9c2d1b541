package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintVersion is folded into the digest so a change to the
// normalization rules invalidates previously cached keys.
const fingerprintVersion = "v2"

// Fingerprint derives the deterministic idempotency key of a request. All
// parts are case-folded, trimmed and have their whitespace runs collapsed,
// so semantically identical submissions hash equal regardless of formatting
// noise.
func Fingerprint(req AnalysisRequest) string {
	parts := []string{
		fingerprintVersion,
		normalizeField(req.ShopName),
		normalizeField(req.ShopSpecialization),
		normalizeField(req.PolicyType),
		normalizeText(req.PolicyText),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// ContentHash hashes the policy text alone. Together with the policy type it
// keys the degradation fallback store, so a retried analysis of the same text
// under a different shop name still finds the cached result.
func ContentHash(policyText string) string {
	sum := sha256.Sum256([]byte(normalizeText(policyText)))
	return hex.EncodeToString(sum[:])
}

func normalizeField(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
