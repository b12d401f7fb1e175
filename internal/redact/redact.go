package redact

import (
	"regexp"
	"strings"
)

// Flag values recorded when an entity class is found and masked.
const (
	FlagEmail         = "email_detected"
	FlagPhone         = "phone_detected"
	FlagSSN           = "ssn_detected"
	FlagCreditCard    = "credit_card_detected"
	FlagExternalEmail = "external_email"
)

// Placeholder tokens substituted for matched entities.
const (
	placeholderEmail = "[EMAIL_REDACTED]"
	placeholderPhone = "[PHONE_REDACTED]"
	placeholderSSN   = "[SSN_REDACTED]"
	placeholderCard  = "[CARD_REDACTED]"
)

// Patterns are fixed and compiled once. Replacement order matters: cards
// before phones so a 16-digit run is not half-consumed as a phone number,
// and emails first so digits inside an address never leak into the
// numeric patterns.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
)

type entityClass struct {
	pattern     *regexp.Regexp
	placeholder string
	flag        string
}

var entityClasses = []entityClass{
	{emailPattern, placeholderEmail, FlagEmail},
	{cardPattern, placeholderCard, FlagCreditCard},
	{ssnPattern, placeholderSSN, FlagSSN},
	{phonePattern, placeholderPhone, FlagPhone},
}

// DefaultInternalDomains is the allow-list used when no configuration is
// supplied. Reporter addresses outside these domains are flagged external.
var DefaultInternalDomains = []string{
	"company.com",
	"internal.company.com",
	"corp.company.com",
}

// Engine masks sensitive entities in free text. Redaction itself is a
// pure function over the input; the configured domain allow-list only
// affects IsExternalDomain.
type Engine struct {
	internalDomains []string
}

// NewEngine builds a redaction engine with the supplied internal domain
// allow-list, falling back to DefaultInternalDomains when empty.
func NewEngine(internalDomains []string) *Engine {
	cleaned := make([]string, 0, len(internalDomains))
	for _, domain := range internalDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			cleaned = append(cleaned, domain)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultInternalDomains...)
	}
	return &Engine{internalDomains: cleaned}
}

// Redact replaces every instance of each detected entity class with its
// placeholder token and returns the flag per matched class. Absence of a
// match is a normal, silent outcome; redacting already-redacted text
// returns the same text with no additional flags.
func (e *Engine) Redact(text string) (string, []string) {
	if text == "" {
		return "", nil
	}
	var flags []string
	sanitized := text
	for _, class := range entityClasses {
		if !class.pattern.MatchString(sanitized) {
			continue
		}
		sanitized = class.pattern.ReplaceAllString(sanitized, class.placeholder)
		flags = append(flags, class.flag)
	}
	return sanitized, flags
}

// IsExternalDomain classifies a reporter address as external when its
// domain is not covered by the internal allow-list. Malformed addresses
// are treated as internal rather than rejected.
func (e *Engine) IsExternalDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	for _, allowed := range e.internalDomains {
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return false
		}
	}
	return true
}
