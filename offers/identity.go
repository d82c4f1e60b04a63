package offers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// maxEmbeddedBytes caps the decoded identity payload. The attribute is
// controlled by the host page and is treated as untrusted input.
const maxEmbeddedBytes = 4096

const domainPattern = `^[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`

var reDomain = regexp.MustCompile(domainPattern)

const embeddedSchemaURL = "https://offerlens.local/schemas/embedded-identity.json"

var embeddedSchema = jsonschema.MustCompileString(embeddedSchemaURL, `{
  "type": "object",
  "required": ["merchantTLD"],
  "properties": {
    "merchantTLD": {"type": "string", "maxLength": 253, "pattern": "`+strings.ReplaceAll(domainPattern, `\`, `\\`)+`"}
  }
}`)

// decodeEmbeddedIdentity decodes the base64 JSON payload carried in the card's
// identity attribute and returns the validated merchant domain.
func decodeEmbeddedIdentity(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty payload", ErrMalformedEmbedded)
	}
	if len(raw) > base64.StdEncoding.EncodedLen(maxEmbeddedBytes) {
		return "", fmt.Errorf("%w: payload exceeds %d bytes", ErrMalformedEmbedded, maxEmbeddedBytes)
	}
	data, err := decodeBase64(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEmbedded, err)
	}
	if len(data) > maxEmbeddedBytes {
		return "", fmt.Errorf("%w: payload exceeds %d bytes", ErrMalformedEmbedded, maxEmbeddedBytes)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEmbedded, err)
	}
	if err := embeddedSchema.Validate(v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEmbedded, err)
	}
	obj := v.(map[string]interface{})
	return normalizeMerchantKey(obj["merchantTLD"].(string)), nil
}

func decodeBase64(s string) ([]byte, error) {
	encs := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encs {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// identityFromURL reads a merchant domain out of a query parameter.
func identityFromURL(raw, param string) string {
	if raw == "" || param == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	v := strings.TrimSpace(u.Query().Get(param))
	if v == "" || len(v) > 253 || !reDomain.MatchString(v) {
		return ""
	}
	return normalizeMerchantKey(v)
}

// NormalizeMerchantKey lower-cases a merchant domain and drops a leading
// "www." so that favorites and cards agree on identity.
func NormalizeMerchantKey(s string) string { return normalizeMerchantKey(s) }

func normalizeMerchantKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "www.")
}
