package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/vcall/dispatch"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	opts := cfg.DispatchOptions()
	if opts != dispatch.DefaultOptions() {
		t.Errorf("DispatchOptions = %+v, want %+v", opts, dispatch.DefaultOptions())
	}
	if cfg.LogFile() != nil {
		t.Error("default LogFile should be nil (stderr)")
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
[cache]
bits = 8
max-entries = 1000

[promotion]
threshold = 3

[heap]
region-size = 8192
max-bytes = 1048576

[log]
verbosity = 2
file = "vcall.log"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := dispatch.Options{
		PromotionThreshold: 3,
		CacheBits:          8,
		MaxCacheEntries:    1000,
		RegionSize:         8192,
		MaxHeapBytes:       1 << 20,
	}
	if got := cfg.DispatchOptions(); got != want {
		t.Errorf("DispatchOptions = %+v, want %+v", got, want)
	}
	if cfg.Log.Verbosity != 2 {
		t.Errorf("Verbosity = %d, want 2", cfg.Log.Verbosity)
	}
	if f := cfg.LogFile(); f == nil || *f != "vcall.log" {
		t.Errorf("LogFile = %v", f)
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("[promotion]\nthreshold = 7\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Promotion.Threshold != 7 {
		t.Errorf("Threshold = %d, want 7", cfg.Promotion.Threshold)
	}
	if cfg.Cache.Bits != dispatch.DefaultCacheBits {
		t.Errorf("Bits = %d, want default %d", cfg.Cache.Bits, dispatch.DefaultCacheBits)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"bits too small", "[cache]\nbits = 2\n"},
		{"bits too large", "[cache]\nbits = 30\n"},
		{"negative threshold", "[promotion]\nthreshold = -1\n"},
		{"negative heap limit", "[heap]\nmax-bytes = -5\n"},
		{"verbosity out of range", "[log]\nverbosity = 9\n"},
		{"unknown key", "[cache]\nbucket-count = 4096\n"},
		{"unknown table", "[jit]\nenabled = true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("[cache\nbits = 8"))
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if errors.Is(err, ErrInvalid) {
		t.Error("syntax errors should not be reported as ErrInvalid")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, FileName)
	if err := os.WriteFile(path, []byte("[promotion]\nthreshold = 11\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if cfg.Promotion.Threshold != 11 {
		t.Errorf("Threshold = %d, want 11", cfg.Promotion.Threshold)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q, want %q", cfg.Path, path)
	}
}

func TestLoadReportsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("[cache]\nbits = 99\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load error = %v, want ErrInvalid", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("loading a missing file should fail")
	}
}
