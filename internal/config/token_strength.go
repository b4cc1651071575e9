package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

// Tokens scoring below this zxcvbn score (0-4 scale) are flagged at startup.
const minTokenScore = 3

// IsWeakToken reports whether the GNM_API_TOKEN value is too guessable to
// protect the read API. The empty token disables auth entirely and is not
// scored; callers warn about that case separately.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < minTokenScore
}
