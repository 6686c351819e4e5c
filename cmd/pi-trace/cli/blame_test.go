package cli

import "testing"

func TestParseLineRange_NoRangeArgMeansWholeFile(t *testing.T) {
	start, end, err := parseLineRange([]string{"file.go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 0 || end != 0 {
		t.Fatalf("got (%d, %d), want (0, 0)", start, end)
	}
}

func TestParseLineRange_SingleLine(t *testing.T) {
	start, end, err := parseLineRange([]string{"file.go", "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 42 || end != 42 {
		t.Fatalf("got (%d, %d), want (42, 42)", start, end)
	}
}

func TestParseLineRange_StartEnd(t *testing.T) {
	start, end, err := parseLineRange([]string{"file.go", "10-20"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 10 || end != 20 {
		t.Fatalf("got (%d, %d), want (10, 20)", start, end)
	}
}

func TestParseLineRange_InvalidStartIsError(t *testing.T) {
	if _, _, err := parseLineRange([]string{"file.go", "abc-20"}); err == nil {
		t.Fatal("expected error for non-numeric start")
	}
}

func TestParseLineRange_InvalidEndIsError(t *testing.T) {
	if _, _, err := parseLineRange([]string{"file.go", "10-xyz"}); err == nil {
		t.Fatal("expected error for non-numeric end")
	}
}
