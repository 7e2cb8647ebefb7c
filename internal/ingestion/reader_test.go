package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
)

func testLogger() *pterm.Logger {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	return logger
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open test file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("Failed to append to test file: %v", err)
	}
}

func TestIncrementalReader_ReadsCompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	writeFile(t, path, "line one\nline two\npartial")

	reader := NewIncrementalReader(path, 0, 0, "", testLogger())
	lines, pos, _, lastLine, err := reader.ReadBatch(100)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "line one" || lines[1] != "line two" {
		t.Errorf("Unexpected lines: %v", lines)
	}
	if lastLine != "line two" {
		t.Errorf("Expected last line %q, got %q", "line two", lastLine)
	}
	if pos != int64(len("line one\nline two\n")) {
		t.Errorf("Expected position %d, got %d", len("line one\nline two\n"), pos)
	}
}

func TestIncrementalReader_ResumesAfterAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	writeFile(t, path, "first\n")

	reader := NewIncrementalReader(path, 0, 0, "", testLogger())
	lines, _, _, _, err := reader.ReadBatch(100)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(lines) != 1 || lines[0] != "first" {
		t.Fatalf("Unexpected initial lines: %v", lines)
	}

	// Nothing new yet
	lines, _, _, _, err = reader.ReadBatch(100)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("Expected no lines, got %v", lines)
	}

	appendFile(t, path, "second\nthird\n")
	lines, _, _, lastLine, err := reader.ReadBatch(100)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(lines) != 2 || lines[0] != "second" || lines[1] != "third" {
		t.Errorf("Unexpected appended lines: %v", lines)
	}
	if lastLine != "third" {
		t.Errorf("Expected last line %q, got %q", "third", lastLine)
	}
}

func TestIncrementalReader_RespectsMax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	writeFile(t, path, "a\nb\nc\nd\n")

	reader := NewIncrementalReader(path, 0, 0, "", testLogger())
	lines, _, _, _, err := reader.ReadBatch(2)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Fatalf("Unexpected first batch: %v", lines)
	}

	lines, _, _, _, err = reader.ReadBatch(2)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(lines) != 2 || lines[0] != "c" || lines[1] != "d" {
		t.Errorf("Unexpected second batch: %v", lines)
	}
}

func TestIncrementalReader_DetectsTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	writeFile(t, path, "old line one\nold line two\n")

	reader := NewIncrementalReader(path, 0, 0, "", testLogger())
	if _, _, _, _, err := reader.ReadBatch(100); err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}

	// Truncate in place, shorter than the remembered position
	writeFile(t, path, "new\n")

	lines, pos, _, _, err := reader.ReadBatch(100)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(lines) != 1 || lines[0] != "new" {
		t.Errorf("Expected restart from beginning, got %v", lines)
	}
	if pos != int64(len("new\n")) {
		t.Errorf("Expected position %d, got %d", len("new\n"), pos)
	}
}

func TestIncrementalReader_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	writeFile(t, path, "one\n\n\ntwo\r\n")

	reader := NewIncrementalReader(path, 0, 0, "", testLogger())
	lines, _, _, _, err := reader.ReadBatch(100)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Errorf("Expected blank lines skipped and CRLF trimmed, got %v", lines)
	}
}

func TestIncrementalReader_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.log")

	reader := NewIncrementalReader(path, 0, 0, "", testLogger())
	if _, _, _, _, err := reader.ReadBatch(100); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}
