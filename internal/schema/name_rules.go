// file: internal/schema/name_rules.go
package schema

import (
	"net/url"
	"regexp"

	"github.com/cockroachdb/errors"
)

// EntityType is a kind of registry entry whose key has naming conventions.
type EntityType string

const (
	EntityTypeTool     EntityType = "tool"
	EntityTypeResource EntityType = "resource"
	EntityTypePrompt   EntityType = "prompt"
)

// NameRule describes the conventions for one entity type's key.
type NameRule struct {
	Pattern     *regexp.Regexp
	Description string
	MaxLength   int
}

var nameRules = map[EntityType]NameRule{
	EntityTypeTool: {
		Pattern:     regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`),
		Description: "must start with a letter, followed by letters, digits, '_' or '-'",
		MaxLength:   64,
	},
	EntityTypePrompt: {
		Pattern:     regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`),
		Description: "must start with a letter, followed by letters, digits, '_' or '-'",
		MaxLength:   64,
	},
}

// GetNameRule returns the rule for entityType. Resources have no pattern rule; their keys
// are checked as URIs.
func GetNameRule(entityType EntityType) (NameRule, bool) {
	rule, ok := nameRules[entityType]
	return rule, ok
}

// ValidateName reports whether name follows the conventions for entityType. Violations
// are advisory: registries accept any key and only warn.
func ValidateName(entityType EntityType, name string) error {
	if name == "" {
		return errors.Newf("empty %s name is not allowed", entityType)
	}
	if entityType == EntityTypeResource {
		u, err := url.Parse(name)
		if err != nil {
			return errors.Wrapf(err, "invalid resource uri '%s'", name)
		}
		if u.Scheme == "" {
			return errors.Newf("invalid resource uri '%s': missing scheme", name)
		}
		return nil
	}
	rule, ok := nameRules[entityType]
	if !ok {
		return errors.Newf("unknown entity type: %s", entityType)
	}
	if len(name) > rule.MaxLength {
		return errors.Newf("%s name exceeds maximum length of %d characters", entityType, rule.MaxLength)
	}
	if !rule.Pattern.MatchString(name) {
		return errors.Newf("invalid %s name '%s': %s", entityType, name, rule.Description)
	}
	return nil
}
