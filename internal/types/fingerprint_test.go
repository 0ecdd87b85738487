package types

import "testing"

func TestComputeFingerprintHeaderOrderIndependence(t *testing.T) {
	h1 := Header{}
	h1.Set("Accept", "text/html")
	h1.Set("Accept-Encoding", "gzip")
	h1.Set("X-Request-Id", "abc") // not whitelisted

	h2 := Header{}
	h2.Set("accept-encoding", "gzip")
	h2.Set("accept", "text/html")
	h2.Set("x-request-id", "different") // unlisted header, must not matter

	url := NormalizeURL("https", "example.com", "443", "/foo", "")
	fp1 := ComputeFingerprint("GET", url, h1, nil)
	fp2 := ComputeFingerprint("get", url, h2, nil)

	if fp1 != fp2 {
		t.Fatalf("fingerprints differ for header-order/unlisted-header variance: %v vs %v", fp1, fp2)
	}
}

func TestComputeFingerprintBodySensitivity(t *testing.T) {
	url := NormalizeURL("https", "example.com", "443", "/foo", "")
	fp1 := ComputeFingerprint("POST", url, Header{}, []byte("a"))
	fp2 := ComputeFingerprint("POST", url, Header{}, []byte("b"))
	if fp1 == fp2 {
		t.Fatalf("expected different fingerprints for different bodies")
	}
}

func TestNormalizeURLDropsDefaultPort(t *testing.T) {
	got := NormalizeURL("HTTPS", "Example.COM", "443", "/a", "")
	want := "https://example.com/a"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFingerprintStringLength(t *testing.T) {
	var fp Fingerprint
	fp[0], fp[1] = 1, 2
	if len(fp.String()) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(fp.String()))
	}
}
