package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleStandardDelays(t *testing.T) {
	s := Schedule{}
	assert.Equal(t, 60*time.Second, s.Delay(1))
	assert.Equal(t, 300*time.Second, s.Delay(2))
	assert.Equal(t, 1800*time.Second, s.Delay(3))
	assert.Equal(t, 7200*time.Second, s.Delay(4))
	// attempts past the table reuse the last interval
	assert.Equal(t, 7200*time.Second, s.Delay(5))
	assert.Equal(t, 7200*time.Second, s.Delay(99))
	// out of range attempt clamps to the first interval
	assert.Equal(t, 60*time.Second, s.Delay(0))
}

func TestScheduleTestDelays(t *testing.T) {
	s := Schedule{Test: true}
	assert.Equal(t, 5*time.Second, s.Delay(1))
	assert.Equal(t, 10*time.Second, s.Delay(2))
	assert.Equal(t, 15*time.Second, s.Delay(3))
	assert.Equal(t, 20*time.Second, s.Delay(4))
	assert.Equal(t, 20*time.Second, s.Delay(10))
}

func TestSignRoundTrip(t *testing.T) {
	payload := []byte(`{"payment":{"id":"pay_1234567890abcdef"}}`)
	sig := Sign("whsec_test", payload)
	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature("whsec_test", payload, sig))
	assert.False(t, VerifySignature("whsec_other", payload, sig))
	assert.False(t, VerifySignature("whsec_test", []byte(`{}`), sig))
	assert.False(t, VerifySignature("whsec_test", payload, "zz"))
}
