package database

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeOwnerID trims the identity and converts it to Unicode NFC so that the
// same file name typed or decoded differently maps to one owner.
func NormalizeOwnerID(id string) (string, error) {
	id = norm.NFC.String(strings.TrimSpace(id))
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwner)
	}
	return id, nil
}
