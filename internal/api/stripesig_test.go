package api

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_abc"
	now := time.Now()

	sig := computeSignature(now.Unix(), payload, secret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sig)

	require.NoError(t, verifySignature(header, payload, secret, now))
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()
	sig := computeSignature(now.Unix(), payload, "whsec_abc")
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sig)

	assert.Error(t, verifySignature(header, []byte(`{"id":"evt_2"}`), "whsec_abc", now))
	assert.Error(t, verifySignature(header, payload, "whsec_other", now))
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{}`)
	secret := "whsec_abc"
	then := time.Now().Add(-10 * time.Minute)

	sig := computeSignature(then.Unix(), payload, secret)
	header := fmt.Sprintf("t=%d,v1=%s", then.Unix(), sig)

	assert.Error(t, verifySignature(header, payload, secret, time.Now()))
}

func TestVerifySignatureRejectsMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "t=abc,v1=def", "v1=def", "t=123"} {
		assert.Error(t, verifySignature(header, []byte(`{}`), "whsec_abc", time.Now()), "header %q", header)
	}
}

func TestVerifySignatureAcceptsExtraSignatures(t *testing.T) {
	payload := []byte(`{}`)
	secret := "whsec_abc"
	now := time.Now()

	sig := computeSignature(now.Unix(), payload, secret)
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s", now.Unix(), "0000", sig)

	require.NoError(t, verifySignature(header, payload, secret, now))
}
