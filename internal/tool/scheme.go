package tool

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scheme is one government support program in the lookup catalog.
type Scheme struct {
	Name        string   `yaml:"name"`
	Summary     string   `yaml:"summary"`
	Eligibility string   `yaml:"eligibility"`
	Keywords    []string `yaml:"keywords"`
}

// SchemeLookupTool searches a catalog of government schemes by keyword.
// The catalog ships with a built-in set and can be replaced by a YAML
// file per deployment.
type SchemeLookupTool struct {
	schemes []Scheme
}

// NewSchemeLookupTool loads the catalog from path, or falls back to the
// built-in catalog when path is empty.
func NewSchemeLookupTool(path string) (*SchemeLookupTool, error) {
	if path == "" {
		return &SchemeLookupTool{schemes: builtinSchemes}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scheme catalog: %w", err)
	}
	var schemes []Scheme
	if err := yaml.Unmarshal(raw, &schemes); err != nil {
		return nil, fmt.Errorf("parse scheme catalog: %w", err)
	}
	return &SchemeLookupTool{schemes: schemes}, nil
}

func (t *SchemeLookupTool) Name() string { return "find_schemes" }

func (t *SchemeLookupTool) Description() string {
	return "Find government support schemes matching a topic such as crop insurance, credit, or irrigation subsidies."
}

func (t *SchemeLookupTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"topic": {Type: "string", Description: "What the user needs help with, e.g. 'crop insurance'"},
		},
		[]string{"topic"},
	)
}

func (t *SchemeLookupTool) Execute(_ context.Context, args map[string]any) (string, error) {
	topic := strings.ToLower(strings.TrimSpace(ArgsString(args, "topic")))
	if topic == "" {
		return "", fmt.Errorf("missing argument: topic")
	}

	words := strings.Fields(topic)
	var matches []Scheme
	for _, s := range t.schemes {
		if schemeMatches(s, words) {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No schemes found for %q.", topic), nil
	}

	var sb strings.Builder
	for _, s := range matches {
		fmt.Fprintf(&sb, "%s: %s Eligibility: %s\n", s.Name, s.Summary, s.Eligibility)
	}
	return sb.String(), nil
}

func schemeMatches(s Scheme, words []string) bool {
	haystack := strings.ToLower(s.Name + " " + s.Summary + " " + strings.Join(s.Keywords, " "))
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}

var builtinSchemes = []Scheme{
	{
		Name:        "PM-KISAN",
		Summary:     "Income support of Rs 6000 per year paid in three installments to landholding farmer families.",
		Eligibility: "All landholding farmer families, subject to exclusion criteria for higher income groups.",
		Keywords:    []string{"income", "support", "cash", "installment"},
	},
	{
		Name:        "Pradhan Mantri Fasal Bima Yojana",
		Summary:     "Crop insurance covering yield losses from drought, flood, pests and disease at subsidised premiums.",
		Eligibility: "Farmers growing notified crops in notified areas, including sharecroppers and tenant farmers.",
		Keywords:    []string{"insurance", "crop", "loss", "drought", "flood", "pest"},
	},
	{
		Name:        "Kisan Credit Card",
		Summary:     "Short-term credit for cultivation and allied activities at subsidised interest rates.",
		Eligibility: "Farmers, sharecroppers and self-help groups with land records or crop arrangements.",
		Keywords:    []string{"credit", "loan", "interest", "kcc"},
	},
	{
		Name:        "Per Drop More Crop",
		Summary:     "Subsidy for micro-irrigation systems such as drip and sprinkler installations.",
		Eligibility: "All farmer categories; subsidy share varies by state and landholding size.",
		Keywords:    []string{"irrigation", "drip", "sprinkler", "water", "subsidy"},
	},
	{
		Name:        "Soil Health Card",
		Summary:     "Free soil testing with crop-wise fertiliser recommendations every two years.",
		Eligibility: "All farmers.",
		Keywords:    []string{"soil", "fertiliser", "testing", "nutrient"},
	},
}
