package persistence

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{Date: "2025-10-13", ID: "user-1_2025-10-13"}
	token := EncodeCursor(in)
	require.NotEmpty(t, token)

	out, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeCursorEmptyAndInvalid(t *testing.T) {
	out, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, out)
	require.Equal(t, "", EncodeCursor(nil))

	_, err = DecodeCursor("%%%")
	require.Error(t, err)

	_, err = DecodeCursor(base64.RawURLEncoding.EncodeToString([]byte("no-separator")))
	require.Error(t, err)

	_, err = DecodeCursor(base64.RawURLEncoding.EncodeToString([]byte("13-10-2025|id")))
	require.Error(t, err)
}
