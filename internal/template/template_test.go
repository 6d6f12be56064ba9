package template_test

import (
	"strings"
	"testing"

	"github.com/synthbox/capture-proxy/internal/template"
)

func TestRender_JoinData(t *testing.T) {
	got := template.Render("result = join(' | ', data)", []string{"abc", "3600"})
	if got != "abc | 3600" {
		t.Fatalf("got %q", got)
	}
}

func TestRender_StringLiteral(t *testing.T) {
	got := template.Render("result = 'hello'", nil)
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestRender_FStringIndex(t *testing.T) {
	got := template.Render(`result = f'token={data[0]}'`, []string{"abc", "3600"})
	if got != "token=abc" {
		t.Fatalf("got %q", got)
	}
}

func TestRender_UnknownHelperIsExecutionError(t *testing.T) {
	got := template.Render("result = eval('1+1')", nil)
	if !strings.HasPrefix(got, "[EXECUTION ERROR:") {
		t.Fatalf("expected execution error, got %q", got)
	}
}

func TestRender_MissingAssignmentIsExecutionError(t *testing.T) {
	got := template.Render("data[0]", []string{"x"})
	if !strings.HasPrefix(got, "[EXECUTION ERROR:") {
		t.Fatalf("expected execution error, got %q", got)
	}
}

func TestRender_IndexOutOfRange(t *testing.T) {
	got := template.Render("result = data[5]", []string{"x"})
	if !strings.HasPrefix(got, "[EXECUTION ERROR:") {
		t.Fatalf("expected execution error, got %q", got)
	}
}

func TestRender_RandHelpersProduceRequestedLength(t *testing.T) {
	got := template.Render("result = rand_hex(16)", nil)
	if len(got) != 16 {
		t.Fatalf("expected 16 hex chars, got %q (%d)", got, len(got))
	}
}

func TestRender_ZipJoin(t *testing.T) {
	got := template.Render("result = zip_join(':', data[0], data[1])", []string{"a", "b"})
	if got != "a:b" {
		t.Fatalf("got %q", got)
	}
}
