package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EncodeCursor serialises a repository cursor into an opaque page token.
// Cursors are plain structs naming the order-by values of the last item on
// the page, such as the order repository's createdAt plus document ID pair.
func EncodeCursor(cursor any) (string, error) {
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a page token produced by EncodeCursor into the
// repository's cursor struct.
func DecodeCursor(token string, cursor any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidPageToken)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if err := json.Unmarshal(decoded, cursor); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return nil
}

// ValidateToken checks that a client-supplied token is structurally a page
// token without binding it to a cursor shape.
func ValidateToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if !json.Valid(decoded) {
		return fmt.Errorf("%w: token payload is not valid", ErrInvalidPageToken)
	}
	return nil
}
