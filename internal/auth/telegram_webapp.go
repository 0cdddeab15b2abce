package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInitDataTTL caps the accepted age of initData's auth_date.
// Telegram regenerates initData on every mini-app open, so five minutes
// is plenty.
const DefaultInitDataTTL = 5 * time.Minute

// initDataClockSkew tolerates auth_date slightly ahead of local time.
const initDataClockSkew = time.Minute

var (
	ErrInitDataNoHash  = errors.New("hash is missing from initData")
	ErrInitDataExpired = errors.New("initData expired")
	ErrInitDataBadHash = errors.New("initData signature mismatch")
)

// ValidateTelegramWebAppData checks the HMAC signature and freshness of
// initData received from a Telegram WebApp and returns the parsed
// values on success.
// https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
func ValidateTelegramWebAppData(initData string, botToken string, maxAge time.Duration) (url.Values, error) {
	if maxAge <= 0 {
		maxAge = DefaultInitDataTTL
	}

	vals, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("invalid initData format: %w", err)
	}

	receivedHash := vals.Get("hash")
	if receivedHash == "" {
		return nil, ErrInitDataNoHash
	}

	if err := checkAuthDate(vals.Get("auth_date"), maxAge); err != nil {
		return nil, err
	}

	expected := signInitData(vals, botToken)
	if !hmac.Equal([]byte(expected), []byte(receivedHash)) {
		return nil, ErrInitDataBadHash
	}

	return vals, nil
}

func checkAuthDate(raw string, maxAge time.Duration) error {
	if raw == "" {
		return errors.New("auth_date is missing from initData")
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return errors.New("auth_date is not a valid unix timestamp")
	}
	authDate := time.Unix(unix, 0)
	if age := time.Since(authDate); age > maxAge {
		return fmt.Errorf("%w: auth_date is %s old (max %s)", ErrInitDataExpired, age.Round(time.Second), maxAge)
	}
	if authDate.After(time.Now().Add(initDataClockSkew)) {
		return errors.New("auth_date is in the future")
	}
	return nil
}

// signInitData computes Telegram's data-check-string signature:
// secret_key = HMAC-SHA256("WebAppData", bot_token), then
// hex(HMAC-SHA256(secret_key, sorted "k=v" pairs joined by \n)).
func signInitData(vals url.Values, botToken string) string {
	pairs := make([]string, 0, len(vals))
	for key, values := range vals {
		if key == "hash" {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, key+"="+v)
		}
	}
	sort.Strings(pairs)

	secretKey := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	sum := hmacSHA256(secretKey, []byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(sum)
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
