package moderation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultForbiddenTerms is used when no policy file is configured.
var DefaultForbiddenTerms = []string{
	"mierda",
	"puta",
	"joder",
	"cabrón",
	"cabron",
	"pendejo",
	"gilipollas",
	"imbécil",
	"imbecil",
	"idiota",
}

// DefaultAllowedDomains lists the link domains accepted by default.
var DefaultAllowedDomains = []string{
	"rifaneon.netlify.app",
}

// File is the on-disk YAML form of a Policy.
type File struct {
	ForbiddenTerms []string `yaml:"forbidden_terms"`
	AllowedDomains []string `yaml:"allowed_domains"`
}

// Load reads a YAML policy file. Keys missing from the file keep their
// built-in defaults; an explicitly empty list disables that table.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Policy from YAML bytes.
func Parse(data []byte) (*Policy, error) {
	f := File{
		ForbiddenTerms: DefaultForbiddenTerms,
		AllowedDomains: DefaultAllowedDomains,
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return NewPolicy(f.ForbiddenTerms, f.AllowedDomains), nil
}
