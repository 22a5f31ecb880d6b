package mpesa

import (
	"testing"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"local format", "0712345678", "254712345678"},
		{"international with plus and spaces", "+254 712 345 678", "254712345678"},
		{"already normalized", "254712345678", "254712345678"},
		{"bare local number", "712345678", "254712345678"},
		{"hyphenated", "0712-345-678", "254712345678"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhone(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizePhoneRejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"too short", "07123"},
		{"too long", "2547123456789"},
		{"letters", "07abc45678"},
		{"punctuation", "0712.345.678"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizePhone(tc.in)
			assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
		})
	}
}
