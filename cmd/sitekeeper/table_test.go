package main

import "testing"

func TestFormatTable(t *testing.T) {
	got := formatTable(
		[]string{"SESSION", "SITE"},
		[][]string{
			{"widgets-1", "bow"},
			{"pantssss", "uci"},
		},
	)
	want := "SESSION    SITE\n" +
		"widgets-1  bow\n" +
		"pantssss   uci\n"
	if got != want {
		t.Errorf("formatTable mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatTableEmpty(t *testing.T) {
	got := formatTable([]string{"SITE", "NAME"}, nil)
	want := "SITE  NAME\n"
	if got != want {
		t.Errorf("formatTable = %q, want %q", got, want)
	}
}
