package channels

import (
	"strings"
	"testing"
)

func TestCanonicalJSONSortsKeysAtEveryDepth(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"z": "<x>", "y": []any{2, 1}}}
	got, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"a":{"y":[2,1],"z":"<x>"},"b":1}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestCanonicalJSONKeepsLargeIntegers(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{"id": uint64(9007199254740993)})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(got) != `{"id":9007199254740993}` {
		t.Fatalf("integer precision lost: %s", got)
	}
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"unitId":7}`)
	sig := Sign("secret", body)
	if len(sig) != 64 {
		t.Fatalf("expected hex sha256, got %q", sig)
	}
	if !Verify("secret", body, sig) {
		t.Fatalf("signature should verify")
	}
	if !Verify("secret", body, "sha256="+strings.ToUpper(sig)) {
		t.Fatalf("prefixed upper-case signature should verify")
	}
	if Verify("other", body, sig) || Verify("secret", []byte(`{"unitId":8}`), sig) || Verify("secret", body, "") {
		t.Fatalf("mismatches must not verify")
	}
}

func TestSignValueWithoutSecret(t *testing.T) {
	sig, err := SignValue("", map[string]any{"a": 1})
	if err != nil || sig != "" {
		t.Fatalf("expected empty signature, got %q %v", sig, err)
	}
	s1, _ := SignValue("k", map[string]any{"a": 1, "b": 2})
	s2, _ := SignValue("k", map[string]any{"b": 2, "a": 1})
	if s1 != s2 {
		t.Fatalf("signature must not depend on key order")
	}
}
