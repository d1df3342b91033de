package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelsValidate(t *testing.T) {
	dir := t.TempDir()
	body := "name: Level 1\nquestions:\n  - key: jollibee\n    answers: [jollibee]\n  - key: sm\n    answers: [sm]\n"
	if err := os.WriteFile(filepath.Join(dir, "level-1.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	if err := app.Run(context.Background(), []string{"plqbot", "levels", "validate", dir}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "level-1\tLevel 1\t2 questions") {
		t.Fatalf("output = %q", got)
	}
}

func TestLevelsValidateRejectsBadLevel(t *testing.T) {
	dir := t.TempDir()
	body := "name: Broken\nquestions:\n  - key: jollibee\n"
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	app := newApp()
	app.Writer = &bytes.Buffer{}
	if err := app.Run(context.Background(), []string{"plqbot", "levels", "validate", dir}); err == nil {
		t.Fatal("expected validation error for a question without answers")
	}
}

func TestShippedLevelsAreValid(t *testing.T) {
	var out bytes.Buffer
	if err := validateLevels(&out, filepath.Join("..", "..", "levels")); err != nil {
		t.Fatalf("shipped levels: %v", err)
	}
}
