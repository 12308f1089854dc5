package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

// capture redirects stdout around fn and returns what was printed.
func capture(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()
	w.Close()

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestLevels_CarryTagAndMessage(t *testing.T) {
	out := capture(t, func() {
		Info("EXEC", "request started")
		Success("EXEC", "request finished")
		Warn("KEEPA", "token balance low")
		Error("AUTH", "refresh rejected")
	})

	for _, want := range []string{"[EXEC]", "[KEEPA]", "[AUTH]", "request started", "token balance low", "refresh rejected", "WARN", "ERROR"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBanner_IncludesVersion(t *testing.T) {
	out := capture(t, func() { Banner("v1.2.3") })
	if !strings.Contains(out, "v1.2.3") {
		t.Errorf("banner missing version:\n%s", out)
	}

	out = capture(t, func() { Banner("") })
	if !strings.Contains(out, "dev") {
		t.Errorf("empty version should fall back to dev:\n%s", out)
	}
}

func TestSectionAndStats(t *testing.T) {
	out := capture(t, func() {
		Section("Results")
		Stats("Analyzed", 42)
		Stats("Top score", "B000000001 (91.5)")
	})
	for _, want := range []string{"Results", "Analyzed", "42", "B000000001 (91.5)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
