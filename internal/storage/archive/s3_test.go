// internal/storage/archive/s3_test.go
package archive

import (
	"strings"
	"testing"
)

func TestS3Config_Key(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "file.txt", "file.txt"},
		{"archive", "file.txt", "archive/file.txt"},
		{"archive/", "file.txt", "archive/file.txt"},
	}

	for _, tt := range tests {
		s := &S3Storage{prefix: strings.TrimSuffix(tt.prefix, "/")}
		got := s.key(tt.path)
		if got != tt.want {
			t.Errorf("key(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.want)
		}
	}
}

func TestNewS3(t *testing.T) {
	if _, err := NewS3(S3Config{}); err == nil {
		t.Error("expected error without bucket")
	}

	s, err := NewS3(S3Config{Bucket: "reports", Endpoint: "http://localhost:9000", Prefix: "barsim/"})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	if s.bucket != "reports" || s.prefix != "barsim" {
		t.Errorf("unexpected storage %+v", s)
	}
}

func TestContentType(t *testing.T) {
	if got := contentType("a/b/run.json"); got != "application/json" {
		t.Errorf("json: got %s", got)
	}
	if got := contentType("a/b/run.bin"); got != "application/octet-stream" {
		t.Errorf("bin: got %s", got)
	}
}
