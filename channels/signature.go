package channels

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// CanonicalJSON serializes v with object keys sorted at every depth and no
// HTML escaping, so both sides of a signature agree byte for byte.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign returns the hex HMAC-SHA256 of data.
func Sign(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignValue signs the canonical serialization of v. An empty secret yields
// an empty signature.
func SignValue(secret string, v any) (string, error) {
	if secret == "" {
		return "", nil
	}
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return Sign(secret, data), nil
}

// Verify compares a received hex signature against data in constant time.
func Verify(secret string, data []byte, received string) bool {
	received = strings.ToLower(strings.TrimSpace(received))
	if r, found := strings.CutPrefix(received, "sha256="); found {
		received = r
	}
	if received == "" {
		return false
	}
	expected := Sign(secret, data)
	return hmac.Equal([]byte(expected), []byte(received))
}
