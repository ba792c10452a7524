// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package password

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxBytes is the longest password bcrypt accepts.
const MaxBytes = 72

// Policy decides whether a new password is acceptable. The zero Policy only
// enforces MaxBytes.
type Policy struct {
	MinLength           int
	RejectNumeric       bool
	CheckUserSimilarity bool
}

// DefaultPolicy returns the strength rules enabled by --password-policy.
func DefaultPolicy() *Policy {
	return &Policy{
		MinLength:           8,
		RejectNumeric:       true,
		CheckUserSimilarity: true,
	}
}

// Violation describes one failed policy rule.
type Violation struct {
	Code    string
	Message string
}

// ValidationError lists every rule a password broke.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "password validation failed"
	}
	return e.Violations[0].Message
}

// Messages returns all violation messages.
func (e *ValidationError) Messages() []string {
	messages := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		messages[i] = v.Message
	}
	return messages
}

// Validate checks password against the policy. userAttributes are the name
// and email of the account; a password resembling them is rejected.
// It returns nil or a *ValidationError.
func (p *Policy) Validate(password string, userAttributes ...string) error {
	var violations []Violation

	if len(password) > MaxBytes {
		violations = append(violations, Violation{
			Code:    "max_length",
			Message: fmt.Sprintf("Password cannot be longer than %d bytes.", MaxBytes),
		})
	}

	if utf8.RuneCountInString(password) < p.MinLength {
		violations = append(violations, Violation{
			Code:    "min_length",
			Message: fmt.Sprintf("Password must be at least %d characters long.", p.MinLength),
		})
	}

	if p.RejectNumeric && isEntirelyNumeric(password) {
		violations = append(violations, Violation{
			Code:    "entirely_numeric",
			Message: "Password cannot be entirely numeric.",
		})
	}

	if p.CheckUserSimilarity && isSimilarToUserAttributes(password, userAttributes) {
		violations = append(violations, Violation{
			Code:    "too_similar",
			Message: "Password is too similar to your personal information.",
		})
	}

	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func isEntirelyNumeric(password string) bool {
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return password != ""
}

func isSimilarToUserAttributes(password string, attributes []string) bool {
	passwordLower := strings.ToLower(password)
	if passwordLower == "" {
		return false
	}

	candidates := make([]string, 0, len(attributes)*2)
	for _, attr := range attributes {
		attrLower := strings.ToLower(strings.TrimSpace(attr))
		candidates = append(candidates, attrLower)
		// Compare against the local part of an email as well
		if at := strings.IndexByte(attrLower, '@'); at > 0 {
			candidates = append(candidates, attrLower[:at])
		}
	}

	for _, attrLower := range candidates {
		if len(attrLower) < 3 {
			continue
		}

		if strings.Contains(passwordLower, attrLower) || strings.Contains(attrLower, passwordLower) {
			return true
		}

		if similarity(passwordLower, attrLower) > 0.7 {
			return true
		}
	}

	return false
}

func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	lcs := longestCommonSubsequence(a, b)
	return float64(lcs) / float64(max(len(a), len(b)))
}

func longestCommonSubsequence(a, b string) int {
	m, n := len(a), len(b)
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[n]
}
