package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// vietnamZone is GMT+7 without DST, the zone every domestic provider stamps with.
var vietnamZone = time.FixedZone("GMT+7", 7*60*60)

// GenerateUUID generates a UUID v4 string.
func GenerateUUID() string {
	return uuid.New().String()
}

// CompactID strips the dashes from a UUID so it fits alphanumeric-only provider refs.
func CompactID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// ExpandID restores a dashed UUID from its compact or dashed form.
func ExpandID(ref string) (string, bool) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// RandomHex generates a random hex string of n bytes.
func RandomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ParseInt64 safely converts string to int64.
func ParseInt64(s string, defaultVal int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return defaultVal
	}
	return v
}

// FormatNumber adds dot separators to an amount, as VND is usually printed.
func FormatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var result strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteRune('.')
		}
		result.WriteRune(c)
	}
	if neg {
		return "-" + result.String()
	}
	return result.String()
}

// InVietnam converts t to GMT+7.
func InVietnam(t time.Time) time.Time {
	return t.In(vietnamZone)
}

// FormatCompactTime renders t as yyyyMMddHHmmss in GMT+7.
func FormatCompactTime(t time.Time) string {
	return InVietnam(t).Format("20060102150405")
}

// DatePrefix renders t as yymmdd in GMT+7.
func DatePrefix(t time.Time) string {
	return InVietnam(t).Format("060102")
}
