package secret

import "testing"

func TestRoundTrip(t *testing.T) {
	box, err := NewBox("master-key")
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := box.Encrypt("s3-secret-access-key")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if sealed == "s3-secret-access-key" {
		t.Fatal("ciphertext equals plaintext")
	}

	opened, err := box.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if opened != "s3-secret-access-key" {
		t.Errorf("round trip mismatch: %q", opened)
	}
}

func TestEncryptionsDiffer(t *testing.T) {
	box, _ := NewBox("master-key")
	a, _ := box.Encrypt("same")
	b, _ := box.Encrypt("same")
	if a == b {
		t.Error("two encryptions of the same plaintext must differ")
	}
}

func TestWrongKeyFails(t *testing.T) {
	box, _ := NewBox("master-key")
	sealed, _ := box.Encrypt("secret")

	other, _ := NewBox("different-key")
	if _, err := other.Decrypt(sealed); err == nil {
		t.Error("decryption with the wrong master key must fail")
	}
}

func TestMalformedEnvelope(t *testing.T) {
	box, _ := NewBox("master-key")
	for _, in := range []string{"", "not-base64!!!", "QQ=="} {
		if _, err := box.Decrypt(in); err == nil {
			t.Errorf("Decrypt(%q) expected error", in)
		}
	}
}

func TestEmptyMasterKeyRejected(t *testing.T) {
	if _, err := NewBox(""); err == nil {
		t.Error("empty master key must be rejected")
	}
}
