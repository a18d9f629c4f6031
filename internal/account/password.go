package account

import "strings"

const minPasswordLength = 8

// PasswordPolicy is what a rejected password is told to provide.
var PasswordPolicy = []string{
	"at least 8 characters",
	"a mixture of both uppercase and lowercase letters",
	"a mixture of letters and numbers",
	"at least one special character from !, @, #, ?",
}

// strongPassword reports whether the password has at least 8 characters,
// mixed case, letters and digits, and one of the special characters !@#?.
func strongPassword(password string) bool {
	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, c := range password {
		switch {
		case c >= 'a' && c <= 'z':
			hasLower = true
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		case c >= '0' && c <= '9':
			hasDigit = true
		case strings.ContainsRune("!@#?", c):
			hasSpecial = true
		}
	}
	return len(password) >= minPasswordLength && hasLower && hasUpper && hasDigit && hasSpecial
}
