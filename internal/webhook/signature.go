package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance задаёт допустимое расхождение метки времени подписи с текущим временем.
const DefaultTolerance = 5 * time.Minute

var (
	errNoSecret       = errors.New("webhook secret is not configured")
	errHeaderMissing  = errors.New("signature header is missing")
	errHeaderInvalid  = errors.New("signature header is malformed")
	errTimestampStale = errors.New("signature timestamp is outside the tolerance")
	errNoMatch        = errors.New("no signature matches the payload")
)

// Verify проверяет заголовок вида "t=<unix>,v1=<hex>[,v1=...]": HMAC-SHA256 от "<t>.<payload>"
// на ключе secret. Подходит любая из подписей v1.
func Verify(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return errNoSecret
	}
	if strings.TrimSpace(header) == "" {
		return errHeaderMissing
	}

	var (
		ts         int64
		haveTS     bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return errHeaderInvalid
			}
			ts, haveTS = v, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if !haveTS || len(signatures) == 0 {
		return errHeaderInvalid
	}

	if tolerance > 0 {
		diff := now.Sub(time.Unix(ts, 0))
		if diff > tolerance || diff < -tolerance {
			return errTimestampStale
		}
	}

	expected := computeSignature(payload, secret, ts)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return errNoMatch
}

// SignatureHeader формирует заголовок подписи для payload. Нужен для отправки
// тестовых событий и для проверки обработчиков.
func SignatureHeader(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature(payload, secret, ts)))
}

func computeSignature(payload []byte, secret string, ts int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
