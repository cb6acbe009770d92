package mailbox

import (
	"encoding/base64"
	"fmt"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// decodeBody walks the MIME tree and returns the decoded text of the best
// part: text/html when present, otherwise text/plain. Part data is
// base64url; it is decoded straight to UTF-8 text. Reinterpreting the
// decoded bytes through percent-escapes (as some clients do) corrupts
// multi-byte sequences, so no such round trip happens here.
func decodeBody(payload *gmail.MessagePart) (body, mimeType string, err error) {
	if payload == nil {
		return "", "", fmt.Errorf("message has no payload")
	}

	if part := findPart(payload, "text/html"); part != nil {
		body, err = decodePartData(part.Body.Data)
		return body, "text/html", err
	}
	if part := findPart(payload, "text/plain"); part != nil {
		body, err = decodePartData(part.Body.Data)
		return body, "text/plain", err
	}
	// Single-part messages carry the data on the payload itself.
	if payload.Body != nil && payload.Body.Data != "" {
		body, err = decodePartData(payload.Body.Data)
		return body, payload.MimeType, err
	}
	return "", "", fmt.Errorf("no text part found")
}

func findPart(part *gmail.MessagePart, mimeType string) *gmail.MessagePart {
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		return part
	}
	for _, child := range part.Parts {
		if found := findPart(child, mimeType); found != nil {
			return found
		}
	}
	return nil
}

func decodePartData(data string) (string, error) {
	// Gmail emits unpadded base64url; tolerate padded input too.
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", fmt.Errorf("base64url decode: %w", err)
	}
	return string(decoded), nil
}
