package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/etc/visiond/models.yaml", "/etc/visiond/models.yaml"},
		{"~", home},
		{"~/models.yaml", filepath.Join(home, "models.yaml")},
	}
	for _, c := range cases {
		got, err := ExpandHome(c.in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ExpandHome(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x")
	if PathExists(p) {
		t.Fatal("missing path reported as existing")
	}
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !PathExists(p) {
		t.Fatal("existing path reported as missing")
	}
}
