// Package auth implements the shared-secret request signing scheme used by
// machine callers and the cookie-backed login used by humans. A signed
// request carries three headers: the client id, a unix-seconds timestamp and
// a hex HMAC-SHA256 over a canonical rendering of the request.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quantbridge/quantbridge/pkg/errors"
)

// Request headers of the signing scheme.
const (
	HeaderClientID  = "X-Client-ID"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// DefaultTolerance is how far a request timestamp may drift from server time
// before the request is rejected as a replay.
const DefaultTolerance = 5 * time.Minute

// CanonicalBody renders a JSON body into its canonical form: object keys
// sorted lexicographically at every level, no insignificant whitespace. Both
// sides of the signature must agree on this byte sequence regardless of how
// their JSON encoders order keys.
func CanonicalBody(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidParameter, "request body is not valid JSON", err)
	}

	canonical, err := marshalCanonical(decoded)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidParameter, "request body cannot be canonicalized", err)
	}

	return canonical, nil
}

// marshalCanonical renders a decoded JSON value with sorted object keys.
// encoding/json already escapes strings and formats numbers the same way on
// both sides; only key order needs pinning.
func marshalCanonical(v any) (string, error) {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		var b strings.Builder

		b.WriteByte('{')

		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}

			keyJSON, err := json.Marshal(k)
			if err != nil {
				return "", err
			}

			b.Write(keyJSON)
			b.WriteByte(':')

			inner, err := marshalCanonical(value[k])
			if err != nil {
				return "", err
			}

			b.WriteString(inner)
		}

		b.WriteByte('}')

		return b.String(), nil
	case []any:
		var b strings.Builder

		b.WriteByte('[')

		for i, item := range value {
			if i > 0 {
				b.WriteByte(',')
			}

			inner, err := marshalCanonical(item)
			if err != nil {
				return "", err
			}

			b.WriteString(inner)
		}

		b.WriteByte(']')

		return b.String(), nil
	default:
		out, err := json.Marshal(value)
		if err != nil {
			return "", err
		}

		return string(out), nil
	}
}

// SigningInput is everything the signature covers.
type SigningInput struct {
	Method    string
	Path      string
	RawQuery  string
	Body      []byte // raw JSON body; canonicalized before signing
	Timestamp int64  // unix seconds
	ClientID  string
}

// stringToSign joins the canonical request fields with newlines. An attacker
// cannot move bytes between fields without breaking the join.
func stringToSign(in SigningInput, canonicalBody string) string {
	return strings.Join([]string{
		strings.ToUpper(in.Method),
		in.Path,
		in.RawQuery,
		canonicalBody,
		strconv.FormatInt(in.Timestamp, 10),
		in.ClientID,
	}, "\n")
}

// Sign computes the hex signature for a request.
func Sign(in SigningInput, secret string) (string, error) {
	canonicalBody, err := CanonicalBody(in.Body)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringToSign(in, canonicalBody)))

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verifier checks signed requests against a static client table.
type Verifier struct {
	secrets   map[string]string // client id -> secret
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier over the configured clients. A zero tolerance
// selects DefaultTolerance.
func NewVerifier(secrets map[string]string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	return &Verifier{
		secrets:   secrets,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify checks the signature and timestamp of a request. All failure modes
// return a structured auth error; the HTTP layer maps them all to 401 so the
// response does not reveal which check failed.
func (v *Verifier) Verify(in SigningInput, signature string) error {
	if in.ClientID == "" || signature == "" {
		return errors.New(errors.ErrCodeSignatureMissing, "missing signature headers")
	}

	secret, ok := v.secrets[in.ClientID]
	if !ok {
		return errors.Newf(errors.ErrCodeUnknownClient, "unknown client %q", in.ClientID)
	}

	drift := v.now().Unix() - in.Timestamp
	if drift < 0 {
		drift = -drift
	}

	if time.Duration(drift)*time.Second > v.tolerance {
		return errors.Newf(errors.ErrCodeTimestampExpired, "timestamp outside %s tolerance", v.tolerance)
	}

	expected, err := Sign(in, secret)
	if err != nil {
		return err
	}

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return errors.New(errors.ErrCodeSignatureInvalid, "signature mismatch")
	}

	return nil
}

// ParseTimestamp parses the timestamp header value.
func ParseTimestamp(raw string) (int64, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeSignatureMissing, err, "bad timestamp %q", raw)
	}

	return ts, nil
}
