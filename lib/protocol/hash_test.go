package protocol

import (
	"hash/fnv"
	"testing"
)

func TestTrimHashTag(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		hashTag string
		want    string
	}{
		{"no tag configured", "{user}:name", "", "{user}:name"},
		{"tag too long", "{user}:name", "{}}", "{user}:name"},
		{"tag at start", "{user:1}:name", "{}", "user:1"},
		{"tag in middle", "a{b}c", "{}", "b"},
		{"empty tag", "abc{}de", "{}", "abc{}de"},
		{"no closing delimiter", "{user:name", "{}", "{user:name"},
		{"no opening delimiter", "user}:name", "{}", "user}:name"},
		{"first pair wins", "{a}{b}", "{}", "a"},
		{"custom delimiters", "x#k1$y", "#$", "k1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(TrimHashTag([]byte(tt.key), []byte(tt.hashTag)))
			if got != tt.want {
				t.Errorf("TrimHashTag(%q, %q) = %q, want %q", tt.key, tt.hashTag, got, tt.want)
			}
		})
	}
}

// TestFNV1a64 compares against the standard library implementation
func TestFNV1a64(t *testing.T) {
	for _, key := range []string{"", "a", "foo", "user:1234", "{tag}rest"} {
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))
		if got, want := FNV1a64([]byte(key)), h.Sum64(); got != want {
			t.Errorf("FNV1a64(%q) = %d, want %d", key, got, want)
		}
	}
}

func TestGetHashFunc(t *testing.T) {
	for _, name := range []string{"", HashFNV1a64, HashCRC32, HashXXHash} {
		f, err := GetHashFunc(name)
		if err != nil {
			t.Errorf("GetHashFunc(%q) error: %v", name, err)
			continue
		}
		// hashes must be deterministic
		if f([]byte("key")) != f([]byte("key")) {
			t.Errorf("hash %q is not deterministic", name)
		}
	}

	if _, err := GetHashFunc("md5"); err == nil {
		t.Error("GetHashFunc(md5) expected error")
	}
}

func TestCRC32KnownValue(t *testing.T) {
	// crc32 IEEE of "123456789" is 0xCBF43926
	if got := CRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("CRC32 = %#x, want 0xcbf43926", got)
	}
}
