package logsink

import (
	"strings"
	"testing"
	"time"
)

func TestFormatValidate(t *testing.T) {
	if err := (Format{}).Validate(); err != nil {
		t.Fatalf("empty template should be valid: %v", err)
	}
	if err := (Format{Template: "%(asctime)s %(message)s"}).Validate(); err != nil {
		t.Fatalf("valid template rejected: %v", err)
	}
	if err := (Format{Template: "%(asctime)s only"}).Validate(); err == nil {
		t.Fatal("template without message token must be rejected")
	}
}

func TestFormatRender(t *testing.T) {
	ts := time.Date(2024, 3, 5, 13, 14, 15, 0, time.UTC)
	f := Format{Template: "%(asctime)s | %(message)s"}
	got := f.Render("hello", ts)
	want := "2024-03-05 13:14:15 | hello"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormatRenderCustomDateFormat(t *testing.T) {
	ts := time.Date(2024, 3, 5, 13, 14, 15, 0, time.UTC)
	f := Format{Template: "%(asctime)s %(message)s", DateFormat: "%H:%M"}
	if got := f.Render("x", ts); got != "13:14 x" {
		t.Fatalf("got %q", got)
	}
}

func TestFormatRenderEmptyTemplatePassesMessage(t *testing.T) {
	if got := (Format{}).Render("raw", time.Now()); got != "raw" {
		t.Fatalf("got %q", got)
	}
}

func TestTerminateNormalizesNewlines(t *testing.T) {
	var f Format
	now := time.Now()
	cases := map[string]string{
		"plain":          "plain\n",
		"terminated\n":   "terminated\n",
		"inner\nnewline": "inner\nnewline\n",
		"":               "\n",
	}
	for in, want := range cases {
		if got := f.terminate(in, now); got != want {
			t.Fatalf("terminate(%q): got %q want %q", in, got, want)
		}
	}
	// Only one trailing newline is trimmed before re-terminating.
	if got := f.terminate("a\n\n", now); got != "a\n\n" {
		t.Fatalf("got %q", got)
	}
	if !strings.HasSuffix(f.terminate("x", now), "\n") {
		t.Fatal("records must end with a newline")
	}
}
