// Package totp derives the time-based keys used by the mobile confirmation
// endpoints from an account's identity secret.
package totp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// maximum amount of tag bytes mixed into a confirmation key
const maxTagLength = 32

var hexSecret = regexp.MustCompile(`(?i)[0-9a-f]{40}`)

// ParseSecret decodes an identity secret given either as 40 hex characters or
// as base64.
func ParseSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty identity secret")
	}
	if hexSecret.MatchString(secret) {
		return hex.DecodeString(hexSecret.FindString(secret))
	}
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err == nil {
		return decoded, nil
	}
	decoded, rawErr := base64.RawStdEncoding.DecodeString(secret)
	if rawErr == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("decode identity secret: %w", err)
}

// ConfirmationKey derives the key for the given unix time and tag.
func ConfirmationKey(secret []byte, t int64, tag string) string {
	if len(tag) > maxTagLength {
		tag = tag[:maxTagLength]
	}

	buffer := make([]byte, 8+len(tag))
	binary.BigEndian.PutUint64(buffer, uint64(t))
	copy(buffer[8:], tag)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buffer)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// DeviceID returns the mobile device id the confirmation endpoints expect
// for the given 64 bit steam id.
func DeviceID(steamID uint64) string {
	sum := sha1.Sum([]byte(strconv.FormatUint(steamID, 10)))
	digest := hex.EncodeToString(sum[:])
	return fmt.Sprintf(
		"android:%s-%s-%s-%s-%s",
		digest[0:8],
		digest[8:12],
		digest[12:16],
		digest[16:20],
		digest[20:32],
	)
}

// Unix returns the given time in whole seconds shifted by offset seconds.
func Unix(now time.Time, offset int64) int64 {
	return now.Unix() + offset
}

// Provider derives keys locally from a secret, it satisfies the key provider
// contract of the confirmation poller.
type Provider struct {
	secret []byte
	now    func() time.Time
	offset int64
}

func NewProvider(secret []byte, now func() time.Time, offset int64) Provider {
	if now == nil {
		now = time.Now
	}
	return Provider{secret: secret, now: now, offset: offset}
}

func (p Provider) ConfirmationKey(ctx context.Context, tag string) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	t := Unix(p.now(), p.offset)
	return t, ConfirmationKey(p.secret, t, tag), nil
}
