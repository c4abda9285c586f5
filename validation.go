package authcore

import (
	"strings"
	"unicode/utf8"
)

// normalizeEmail is the lookup key for an email: trimmed and lowercased.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail accepts local@domain with a non-empty local part and a domain
// containing a dot that neither starts nor ends it.
func validEmail(email string) bool {
	if len(email) > 254 || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	dot := strings.IndexByte(domain, '.')
	return dot > 0 && !strings.HasSuffix(domain, ".") && !strings.Contains(domain, "..")
}

// validateSignup checks, in order, email shape, password length and
// confirmation. Duplicates are the store's concern.
func (e *Engine) validateSignup(email, password, confirmation string) error {
	if email == "" {
		return fieldError(ErrValidation, "email", ReasonBlank, 0)
	}
	if !validEmail(email) {
		return fieldError(ErrValidation, "email", ReasonInvalid, 0)
	}
	return e.validatePassword(password, confirmation)
}

func (e *Engine) validatePassword(password, confirmation string) error {
	n := utf8.RuneCountInString(password)
	if minLen := e.config.Password.MinLength; n < minLen {
		return fieldError(ErrValidation, "password", ReasonTooShort, minLen)
	}
	if maxLen := e.config.Password.MaxLength; n > maxLen {
		return fieldError(ErrValidation, "password", ReasonTooLong, maxLen)
	}
	if confirmation == "" {
		return fieldError(ErrMismatch, "password_confirmation", ReasonBlank, 0)
	}
	if confirmation != password {
		return fieldError(ErrMismatch, "password_confirmation", ReasonMismatch, 0)
	}
	return nil
}
