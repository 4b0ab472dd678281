package sqlstore

import (
	"fmt"
	"strings"
)

// ValidateIdentifier accepts letters, digits and underscores, with optional
// dot-separated qualification (schema.table).
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return fmt.Errorf("%w: %s", ErrInvalidIdentifier, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return fmt.Errorf("%w: %s", ErrInvalidIdentifier, name)
		}
	}

	return nil
}

// QuoteWith quotes each dot-separated part of name with q.
func QuoteWith(name, q string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = q + part + q
	}

	return strings.Join(parts, ".")
}
