package naming

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"photo.JPG", "photo.jpg"},
		{"My Holiday Photo.png", "my_holiday_photo.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\bob\cat.gif`, "cat.gif"},
		{"report (final)!!.pdf", "report_final.pdf"},
		{"weird***name.txt", "weird_name.txt"},
		{"a__b___c.txt", "a_b_c.txt"},
	}
	for _, tc := range cases {
		got, err := SanitizeFilename(tc.in)
		if err != nil {
			t.Errorf("SanitizeFilename(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFilenameRejects(t *testing.T) {
	for _, in := range []string{"", ".", "..", "   ", "dir/", `dir\`} {
		if _, err := SanitizeFilename(in); !errors.Is(err, ErrEmptyName) {
			t.Errorf("SanitizeFilename(%q): want ErrEmptyName, got %v", in, err)
		}
	}
}

func TestSanitizeFilenameHiddenGetsGenerated(t *testing.T) {
	got, err := SanitizeFilename(".htaccess")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "file_") {
		t.Errorf("hidden name should be regenerated, got %q", got)
	}
}

func TestSanitizeFilenameTruncates(t *testing.T) {
	long := strings.Repeat("a", 500) + ".jpeg"
	got, err := SanitizeFilename(long)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) > MaxNameLength {
		t.Errorf("len = %d, want <= %d", len(got), MaxNameLength)
	}
	if !strings.HasSuffix(got, ".jpeg") {
		t.Errorf("extension lost: %q", got)
	}
}

func TestValidateFolderName(t *testing.T) {
	for _, name := range []string{"docs", "Holiday 2025", "a-b_c"} {
		if err := ValidateFolderName(name); err != nil {
			t.Errorf("ValidateFolderName(%q): unexpected error %v", name, err)
		}
	}
	bad := []string{"", ".", "..", ".hidden", "a/b", `a\b`, ThumbsDir, QOIDir, strings.Repeat("x", MaxNameLength+1)}
	for _, name := range bad {
		if err := ValidateFolderName(name); err == nil {
			t.Errorf("ValidateFolderName(%q): expected error", name)
		}
	}
}

func TestWithSuffix(t *testing.T) {
	if got := WithSuffix("photo.jpg", "ab12cd"); got != "photo-ab12cd.jpg" {
		t.Errorf("WithSuffix = %q", got)
	}
	if got := WithSuffix("notes", "ab12cd"); got != "notes-ab12cd" {
		t.Errorf("WithSuffix without extension = %q", got)
	}
}

func TestUniqueSuffixDistinct(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		s := UniqueSuffix()
		if len(s) != 8 {
			t.Fatalf("suffix length = %d", len(s))
		}
		if seen[s] {
			t.Fatalf("duplicate suffix %q", s)
		}
		seen[s] = true
	}
}
