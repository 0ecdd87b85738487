package types

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"strings"
)

// fingerprintHeaders is the default whitelist of headers that participate
// in the fingerprint (spec §3: "canonical request headers whitelisted by
// policy"). Headers outside this set never affect the fingerprint, which
// is what makes fp(R) == fp(R') hold across unlisted-header presence
// (spec §8 Fingerprint determinism).
var fingerprintHeaders = map[string]bool{
	"accept":          true,
	"accept-encoding": true,
	"accept-language": true,
	"authorization":   true,
	"cookie":          true,
	"range":           true,
}

// ComputeFingerprint derives the deterministic 128-bit fingerprint for a
// request (spec §3, §8). Only method, normalized URL, whitelisted headers
// (sorted, so header insertion order never matters), and an optional body
// hash feed the digest.
func ComputeFingerprint(method, normalizedURL string, headers Header, body []byte) Fingerprint {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(normalizedURL))
	h.Write([]byte{0})

	keys := make([]string, 0, len(headers))
	for k := range headers {
		if fingerprintHeaders[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		vals := append([]string(nil), headers[k]...)
		sort.Strings(vals)
		h.Write([]byte(strings.Join(vals, ",")))
		h.Write([]byte{0})
	}

	if len(body) > 0 {
		bodySum := sha256.Sum256(body)
		h.Write(bodySum[:])
	}

	sum := h.Sum(nil) // 32 bytes; fold down to 16
	var fp Fingerprint
	fp[0] = binary.BigEndian.Uint64(sum[0:8]) ^ binary.BigEndian.Uint64(sum[16:24])
	fp[1] = binary.BigEndian.Uint64(sum[8:16]) ^ binary.BigEndian.Uint64(sum[24:32])
	return fp
}

// NormalizeURL lowercases scheme and host, drops a default port, and
// leaves path/query untouched. Callers pass the result of
// internal/admission's parse step so the fingerprint and the HostKey
// agree on what "the same request" means.
func NormalizeURL(scheme, host, port, path, query string) string {
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(host)
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if port != "" {
		b.WriteByte(':')
		b.WriteString(port)
	}
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String()
}
