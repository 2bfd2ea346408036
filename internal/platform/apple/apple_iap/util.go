package apple_iap

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const (
	uuidHexLen      = 32
	maxUserIDHexLen = 30
	padChar         = "a"
)

// AppAccountToken is the UUID the client attaches to a purchase so store
// transactions can be traced back to the buyer. UUID user ids are used as
// is; short hex ids from older clients go through the length-prefixed codec.
func AppAccountToken(userID string) (string, error) {
	if id, err := uuid.Parse(userID); err == nil {
		return id.String(), nil
	}
	return UserIDToUUID(userID)
}

// UserIDFromAppAccountToken reverses AppAccountToken.
func UserIDFromAppAccountToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("app account token is empty")
	}
	if userID, err := UUIDToUserID(token); err == nil {
		return userID, nil
	}
	id, err := uuid.Parse(token)
	if err != nil {
		return "", fmt.Errorf("invalid app account token: %w", err)
	}
	return id.String(), nil
}

// UserIDToUUID packs a hex user id into UUID form:
// [2-hex len][hex userID][padding to 32 with 'a'].
func UserIDToUUID(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is empty")
	}

	normalized := strings.ToLower(userID)
	if !isHex(normalized) {
		return "", fmt.Errorf("string is not valid hex")
	}
	if len(normalized) > maxUserIDHexLen {
		return "", fmt.Errorf("hex string too long: max length is %d", maxUserIDHexLen)
	}

	packed := fmt.Sprintf("%02x", len(normalized)) + normalized
	packed += strings.Repeat(padChar, uuidHexLen-len(packed))
	return packed[:8] + "-" + packed[8:12] + "-" + packed[12:16] + "-" + packed[16:20] + "-" + packed[20:], nil
}

// UUIDToUserID unpacks a UUID produced by UserIDToUUID.
func UUIDToUserID(token string) (string, error) {
	clean := strings.ToLower(strings.ReplaceAll(token, "-", ""))
	if len(clean) != uuidHexLen || !isHex(clean) {
		return "", fmt.Errorf("invalid uuid format")
	}

	n, err := strconv.ParseUint(clean[:2], 16, 8)
	if err == nil && n > 0 && n <= maxUserIDHexLen {
		end := 2 + int(n)
		if strings.Trim(clean[end:], padChar) == "" {
			return clean[2:end], nil
		}
	}
	return "", fmt.Errorf("uuid is not encoded by known user id scheme")
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !(unicode.IsDigit(ch) || ('a' <= ch && ch <= 'f') || ('A' <= ch && ch <= 'F')) {
			return false
		}
	}
	return true
}
