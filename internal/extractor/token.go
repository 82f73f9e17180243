package extractor

import (
	"regexp"
	"strings"

	"extraction-service/internal/apperror"
)

const (
	MinTokenLength = 8
	MaxTokenLength = 256
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)

// ValidateTokenFormat rejects tokens that can never authenticate, without
// any I/O. Empty tokens are a validation failure; malformed ones an auth failure.
func ValidateTokenFormat(token string) error {
	if strings.TrimSpace(token) == "" {
		return apperror.Validation("API token cannot be empty", map[string]string{
			"api_token": "This field is required and cannot be blank.",
		})
	}
	if len(token) < MinTokenLength || len(token) > MaxTokenLength {
		return apperror.InvalidToken("API token has an invalid length", nil)
	}
	if !tokenPattern.MatchString(token) {
		return apperror.InvalidToken("API token contains invalid characters", nil)
	}
	return nil
}

// MaskToken keeps a short prefix for display: "test_token..."
func MaskToken(token string) string {
	if len(token) <= 10 {
		return "***"
	}
	return token[:10] + "..."
}
