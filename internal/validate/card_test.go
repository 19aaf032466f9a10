package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLuhn(t *testing.T) {
	cases := []struct {
		name   string
		number string
		want   bool
	}{
		{"visa test number", "4111111111111111", true},
		{"mastercard test number", "5555555555554444", true},
		{"amex test number", "378282246310005", true},
		{"with spaces", "4111 1111 1111 1111", true},
		{"with dashes", "4111-1111-1111-1111", true},
		{"bad checksum", "4111111111111112", false},
		{"too short", "41111111111", false},
		{"letters", "4111a11111111111", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Luhn(tc.number))
		})
	}
}

func TestCardNetwork(t *testing.T) {
	cases := []struct {
		number string
		want   string
	}{
		{"4111111111111111", "visa"},
		{"5105105105105100", "mastercard"},
		{"5555555555554444", "mastercard"},
		{"378282246310005", "amex"},
		{"341111111111111", "amex"},
		{"6011111111111117", "rupay"},
		{"6521111111111117", "rupay"},
		{"8111111111111111", "rupay"},
		{"5611111111111111", "unknown"},
		{"9111111111111111", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CardNetwork(tc.number), tc.number)
	}
}

func TestExpiryValid(t *testing.T) {
	now := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)

	assert.True(t, ExpiryValid("06", "2026", now))
	assert.True(t, ExpiryValid("12", "26", now))
	assert.True(t, ExpiryValid("1", "2030", now))
	assert.False(t, ExpiryValid("05", "2026", now))
	assert.False(t, ExpiryValid("12", "25", now))
	assert.False(t, ExpiryValid("13", "2027", now))
	assert.False(t, ExpiryValid("0", "2027", now))
	assert.False(t, ExpiryValid("ab", "2027", now))
	assert.False(t, ExpiryValid("06", "xx", now))
}

func TestVPAValid(t *testing.T) {
	assert.True(t, VPAValid("alice@upi"))
	assert.True(t, VPAValid("john.doe-1_x@oksbi"))
	assert.False(t, VPAValid("alice"))
	assert.False(t, VPAValid("@upi"))
	assert.False(t, VPAValid("alice@"))
	assert.False(t, VPAValid("alice@ok sbi"))
	assert.False(t, VPAValid("al ice@upi"))
}
