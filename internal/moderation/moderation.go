// Package moderation implements the gateway's text policy: forbidden-term
// redaction and external-link domain allowlisting.
//
// Both checks are pure and case-insensitive. A Policy is immutable once
// built, so a single instance can be shared by every goroutine.
package moderation

import (
	"regexp"
	"strings"
)

// Mask replaces every redacted occurrence regardless of its length.
const Mask = "***"

var linkPattern = regexp.MustCompile(`(?i)https?://`)

// Policy holds the static tables driving redaction and link checks.
type Policy struct {
	terms   []*regexp.Regexp
	domains []string
}

// NewPolicy compiles a Policy from forbidden terms and allowed link domains.
// Blank entries are ignored. Term order is preserved because redaction is
// applied term by term.
func NewPolicy(forbiddenTerms, allowedDomains []string) *Policy {
	p := &Policy{}
	for _, term := range forbiddenTerms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		p.terms = append(p.terms, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(term)))
	}
	for _, domain := range allowedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		p.domains = append(p.domains, domain)
	}
	return p
}

// Default returns the built-in policy.
func Default() *Policy {
	return NewPolicy(DefaultForbiddenTerms, DefaultAllowedDomains)
}

// Redact masks every case-insensitive occurrence of each forbidden term.
// Later terms operate on the output of earlier ones.
func (p *Policy) Redact(text string) string {
	for _, term := range p.terms {
		text = term.ReplaceAllLiteralString(text, Mask)
	}
	return text
}

// IsLinkAllowed reports whether text may be relayed under the link policy.
// Text without an http:// or https:// link is always allowed; text with one
// needs at least one allowed domain somewhere in it.
func (p *Policy) IsLinkAllowed(text string) bool {
	if !linkPattern.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	for _, domain := range p.domains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// Terms returns the number of forbidden terms in the policy.
func (p *Policy) Terms() int {
	return len(p.terms)
}

// Domains returns a copy of the allowed domains.
func (p *Policy) Domains() []string {
	return append([]string(nil), p.domains...)
}
