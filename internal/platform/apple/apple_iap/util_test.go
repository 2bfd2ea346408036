package apple_iap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserIDCodec_RoundTrip(t *testing.T) {
	for _, userID := range []string{"1234567890", "a1bcdef234", "ABCDEF"} {
		token, err := UserIDToUUID(userID)
		require.NoError(t, err)
		require.Len(t, token, 36)

		decoded, err := UUIDToUserID(token)
		require.NoError(t, err)
		require.Equal(t, strings.ToLower(userID), decoded)
	}
}

func TestUserIDToUUID_Rejects(t *testing.T) {
	_, err := UserIDToUUID("")
	require.Error(t, err)
	_, err = UserIDToUUID("not-hex")
	require.Error(t, err)
	_, err = UserIDToUUID("0123456789abcdef0123456789abcdef")
	require.Error(t, err)
}

func TestUUIDToUserID_RejectsUnknownScheme(t *testing.T) {
	_, err := UUIDToUserID("4b825dc6-5f3b-4f8e-b9d6-4f4f2d8c1122")
	require.Error(t, err)
	// left-padded with 'a' and no length prefix
	_, err = UUIDToUserID("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaa1234")
	require.Error(t, err)
}

func TestAppAccountToken(t *testing.T) {
	userID := "0190f1a2-3b4c-7d5e-8f60-718293a4b5c6"
	token, err := AppAccountToken(userID)
	require.NoError(t, err)
	require.Equal(t, userID, token)

	back, err := UserIDFromAppAccountToken("0190F1A2-3B4C-7D5E-8F60-718293A4B5C6")
	require.NoError(t, err)
	require.Equal(t, userID, back)

	legacy, err := AppAccountToken("beef01")
	require.NoError(t, err)
	back, err = UserIDFromAppAccountToken(legacy)
	require.NoError(t, err)
	require.Equal(t, "beef01", back)

	_, err = UserIDFromAppAccountToken("")
	require.Error(t, err)
	_, err = UserIDFromAppAccountToken("nope")
	require.Error(t, err)
}
