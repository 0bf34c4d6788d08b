package iotmqtt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Crypto primitives (crypto/hmac, crypto/sha256, encoding/hex) are the one
// place this module reaches for the standard library over a pack
// dependency: spec.md §1 places "the cryptographic primitives used by the
// URL signer" out of scope as external collaborators, and no repo in the
// retrieval pack vendors its own HMAC/SHA-256 implementation.

const (
	sigv4Service   = "iotdata"
	sigv4Algorithm = "AWS4-HMAC-SHA256"
	sigv4Request   = "aws4_request"
	wssSubprotocol = "mqttv3.1"
)

// Clock returns the current time, corrected for any measured skew against
// the broker's advertised time. SigV4 signatures are time-sensitive
// (AWS rejects requests whose X-Amz-Date drifts too far from server
// time), so callers that have measured device clock skew should return a
// compensated value here rather than the raw local clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the uncorrected wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// SkewCorrectedClock adjusts SystemClock (or any wrapped Clock) by a fixed
// offset, e.g. one measured from a prior TLS handshake's server time or an
// HTTP Date header.
type SkewCorrectedClock struct {
	Base   Clock
	Offset time.Duration
}

func (c SkewCorrectedClock) Now() time.Time {
	base := c.Base
	if base == nil {
		base = SystemClock{}
	}
	return base.Now().Add(c.Offset)
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// signingKey derives the SigV4 signing key per spec.md §4.1:
// kSecret -> kDate -> kRegion -> kService -> kSigning.
func signingKey(secretKey, dateStamp, region string) []byte {
	kSecret := []byte("AWS4" + secretKey)
	kDate := hmac.New(sha256.New, kSecret)
	kDate.Write([]byte(dateStamp))

	kRegion := hmacSHA256(kDate.Sum(nil), region)
	kService := hmacSHA256(kRegion, sigv4Service)
	return hmacSHA256(kService, sigv4Request)
}

// SignWebSocketURL produces a SigV4-signed wss:// URL for connecting an
// MQTT-over-WebSocket session to an AWS IoT endpoint, per spec.md §4.1.
// Returns ErrSigningFailed only if the underlying primitives fail to
// produce output, which does not happen in normal operation.
func SignWebSocketURL(spec SignedWebSocketSpec, creds Credentials, clock Clock) (string, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	now := clock.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	const path = "/mqtt"
	credentialScope := fmt.Sprintf("%s/%s/%s/%s", dateStamp, spec.Region, sigv4Service, sigv4Request)

	query := fmt.Sprintf(
		"X-Amz-Algorithm=%s&X-Amz-Credential=%s&X-Amz-Date=%s&X-Amz-SignedHeaders=host",
		sigv4Algorithm,
		url.QueryEscape(creds.AccessKeyID+"/"+credentialScope),
		amzDate,
	)

	canonicalRequest := strings.Join([]string{
		"GET",
		path,
		query,
		"host:" + spec.Endpoint,
		"",
		"host",
		sha256Hex(""),
	}, "\n")

	stringToSign := strings.Join([]string{
		sigv4Algorithm,
		amzDate,
		credentialScope,
		sha256Hex(canonicalRequest),
	}, "\n")

	key := signingKey(creds.SecretAccessKey, dateStamp, spec.Region)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))
	if len(signature) != sha256.Size*2 {
		return "", ErrSigningFailed
	}

	var b strings.Builder
	b.WriteString("wss://")
	b.WriteString(spec.Endpoint)
	b.WriteString(path)
	b.WriteString("?")
	b.WriteString(query)
	if creds.SessionToken != "" {
		b.WriteString("&X-Amz-Security-Token=")
		b.WriteString(url.QueryEscape(creds.SessionToken))
	}
	b.WriteString("&X-Amz-Signature=")
	b.WriteString(signature)

	return b.String(), nil
}
