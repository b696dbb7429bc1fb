package util

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestVerifyHMACHexRoundTrip(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := SignHMACHex(payload, "abc")
	if !VerifyHMACHex(payload, sig, "abc") {
		t.Fatal("valid signature rejected")
	}
}

func TestVerifyHMACHexWrongSecret(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := SignHMACHex(payload, "abc")
	if VerifyHMACHex(payload, sig, "xyz") {
		t.Fatal("signature for secret abc accepted under secret xyz")
	}
}

func TestVerifyHMACHexMutatedPayload(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := SignHMACHex(payload, "abc")
	mutated := []byte(`{"a":2}`)
	if VerifyHMACHex(mutated, sig, "abc") {
		t.Fatal("mutated payload accepted")
	}
}

func TestVerifyHMACHexMutatedSignature(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := SignHMACHex(payload, "abc")
	// Flip one nibble.
	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	if VerifyHMACHex(payload, string(flipped), "abc") {
		t.Fatal("mutated signature accepted")
	}
}

func TestVerifyHMACHexMalformedInput(t *testing.T) {
	payload := []byte(`{"a":1}`)
	for _, sig := range []string{"", "zzzz", "deadbeef", strings.Repeat("0", 63)} {
		if VerifyHMACHex(payload, sig, "abc") {
			t.Fatalf("malformed signature %q accepted", sig)
		}
	}
	if VerifyHMACHex(payload, SignHMACHex(payload, ""), "") {
		t.Fatal("empty secret must fail closed")
	}
}

func TestVerifySvixSignature(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("test-signing-key"))
	payload := []byte(`{"type":"subscription.active"}`)
	id, ts := "msg_123", "1712000000"

	header, err := SignSvix(id, ts, payload, secret)
	if err != nil {
		t.Fatalf("SignSvix: %v", err)
	}
	if !VerifySvixSignature(id, ts, payload, header, secret) {
		t.Fatal("valid svix signature rejected")
	}
	if VerifySvixSignature(id, "1712000001", payload, header, secret) {
		t.Fatal("signature accepted for a different timestamp")
	}
	if VerifySvixSignature(id, ts, payload, "v1,not-base64!!", secret) {
		t.Fatal("malformed signature entry accepted")
	}
	if VerifySvixSignature(id, ts, payload, header, "whsec_%%%") {
		t.Fatal("undecodable secret must fail closed")
	}
	// A rotation header with one stale and one valid entry still verifies.
	rotated := "v1,AAAA " + header
	if !VerifySvixSignature(id, ts, payload, rotated, secret) {
		t.Fatal("valid entry among rotated signatures rejected")
	}
}

func TestIdempotencyKeyDeterminism(t *testing.T) {
	a := IdempotencyKey("sub_1", "active", 1712000000000)
	b := IdempotencyKey("sub_1", "active", 1712000000000)
	if a != b {
		t.Fatalf("same transition produced different keys: %s vs %s", a, b)
	}
	if a == IdempotencyKey("sub_1", "canceled", 1712000000000) {
		t.Fatal("different status must produce a different key")
	}
	if a == IdempotencyKey("sub_1", "active", 1712000000001) {
		t.Fatal("different timestamp must produce a different key")
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ref := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   any
		want int64
	}{
		{"millis", ref.UnixMilli(), ref.UnixMilli()},
		{"seconds", ref.Unix(), ref.UnixMilli()},
		{"json number seconds", float64(ref.Unix()), ref.UnixMilli()},
		{"rfc3339", ref.Format(time.RFC3339), ref.UnixMilli()},
		{"native time", ref, ref.UnixMilli()},
		{"nil falls back to now", nil, now.UnixMilli()},
		{"garbage falls back to now", "not-a-time", now.UnixMilli()},
		{"unsupported type falls back to now", struct{}{}, now.UnixMilli()},
	}
	for _, tc := range cases {
		if got := NormalizeTimestamp(tc.in, now); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}
