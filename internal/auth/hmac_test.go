package auth

import "testing"

func TestSignProducesStableLengthSignature(t *testing.T) {
	t.Parallel()
	s := NewSigner(Credentials{ApiKey: "key", Secret: "c2VjcmV0LWJ5dGVz", Passphrase: "pass"})

	sig, ts, err := s.Sign()
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig == "" {
		t.Error("expected a non-empty signature")
	}
	if ts == "" {
		t.Error("expected a non-empty timestamp")
	}
}

func TestSignRejectsUndecodableSecret(t *testing.T) {
	t.Parallel()
	s := NewSigner(Credentials{ApiKey: "key", Secret: "not base64 at all!!", Passphrase: "pass"})

	if _, _, err := s.Sign(); err == nil {
		t.Error("expected an error for an undecodable secret")
	}
}

func TestSignIsDeterministicGivenTimestamp(t *testing.T) {
	t.Parallel()
	s := NewSigner(Credentials{ApiKey: "key", Secret: "c2VjcmV0LWJ5dGVz", Passphrase: "pass"})

	sigA, err := s.buildHMAC("1700000000", "GET", "/ws/user")
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	sigB, err := s.buildHMAC("1700000000", "GET", "/ws/user")
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	if sigA != sigB {
		t.Errorf("expected identical signatures for identical input, got %q and %q", sigA, sigB)
	}
}
