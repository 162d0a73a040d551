package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSchemeLookup_BuiltinCatalog(t *testing.T) {
	tool, err := NewSchemeLookupTool("")
	if err != nil {
		t.Fatal(err)
	}

	out, err := tool.Execute(context.Background(), map[string]any{"topic": "crop insurance"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Fasal Bima") {
		t.Fatalf("expected crop insurance scheme in output:\n%s", out)
	}
}

func TestSchemeLookup_NoMatch(t *testing.T) {
	tool, err := NewSchemeLookupTool("")
	if err != nil {
		t.Fatal(err)
	}
	out, err := tool.Execute(context.Background(), map[string]any{"topic": "zzzzzz"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No schemes found") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestSchemeLookup_CustomCatalogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schemes.yaml")
	catalog := `
- name: Test Solar Pump Subsidy
  summary: Subsidy for solar water pumps.
  eligibility: Farmers with grid-remote fields.
  keywords: [solar, pump]
`
	if err := os.WriteFile(path, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	tool, err := NewSchemeLookupTool(path)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tool.Execute(context.Background(), map[string]any{"topic": "solar pump"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Solar Pump Subsidy") {
		t.Fatalf("custom catalog not used: %s", out)
	}
}
