package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSafeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Andromeda Galaxy", "andromeda_galaxy"},
		{"M31", "m31"},
		{"  NGC 7000 / North America  ", "ngc_7000_north_america"},
		{"///", "target"},
		{"", "target"},
		{"Barnard's Loop", "barnard_s_loop"},
	}
	for _, tc := range cases {
		if got := SafeName(tc.in); got != tc.want {
			t.Fatalf("SafeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsImageFile(t *testing.T) {
	if !IsImageFile("a/b/mosaic.PNG") || !IsImageFile("x.jpg") {
		t.Fatalf("image extensions rejected")
	}
	if IsImageFile("notes.txt") || IsImageFile("x.fits") {
		t.Fatalf("non-image extension accepted")
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := EnsureDir(sub); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	for _, name := range []string{"a.png", "b.txt", "sub/c.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	files, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d image files, want 2: %v", len(files), files)
	}
}
