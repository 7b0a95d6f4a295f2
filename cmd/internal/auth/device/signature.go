package device

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppSignatureVerifier decides whether a client build is genuine.
type AppSignatureVerifier interface {
	Verify(platform, signature string) bool
}

// AllowListVerifier accepts signing-certificate fingerprints listed per platform.
type AllowListVerifier struct {
	platforms map[string][]string
}

type allowListFile struct {
	Platforms map[string][]string `yaml:"platforms"`
}

// LoadAllowList reads a YAML allow-list of the form:
//
//	platforms:
//	  android:
//	    - "AB:CD:..."
//	  ios:
//	    - "0f1e..."
func LoadAllowList(path string) (*AllowListVerifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read app signature allow-list: %w", err)
	}
	return ParseAllowList(raw)
}

// ParseAllowList parses allow-list YAML.
func ParseAllowList(raw []byte) (*AllowListVerifier, error) {
	var f allowListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse app signature allow-list: %w", err)
	}

	v := &AllowListVerifier{platforms: make(map[string][]string, len(f.Platforms))}
	for platform, sigs := range f.Platforms {
		p := normalizePlatform(platform)
		for _, s := range sigs {
			if n := normalizeFingerprint(s); n != "" {
				v.platforms[p] = append(v.platforms[p], n)
			}
		}
	}
	return v, nil
}

// Verify compares the fingerprint against every entry for the platform in constant time.
func (v *AllowListVerifier) Verify(platform, signature string) bool {
	if v == nil {
		return false
	}
	got := normalizeFingerprint(signature)
	if got == "" {
		return false
	}

	ok := 0
	for _, want := range v.platforms[normalizePlatform(platform)] {
		if len(want) == len(got) {
			ok |= subtle.ConstantTimeCompare([]byte(want), []byte(got))
		}
	}
	return ok == 1
}

// Platforms returns how many fingerprints are configured per platform.
func (v *AllowListVerifier) Platforms() map[string]int {
	out := make(map[string]int, len(v.platforms))
	for p, s := range v.platforms {
		out[p] = len(s)
	}
	return out
}

func normalizePlatform(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func normalizeFingerprint(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, ":", "")
}
