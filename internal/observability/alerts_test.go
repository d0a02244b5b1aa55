package observability

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	jobmetrics "github.com/odyssey-erp/customer-portal/internal/jobs"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

var metricRef = regexp.MustCompile(`portal_[a-z_]+`)

func loadPortalRules(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "portal.yml"))
	if err != nil {
		t.Fatalf("read alert file: %v", err)
	}
	var file alertFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("parse alert file: %v", err)
	}
	for _, g := range file.Groups {
		if g.Name == "portal" {
			return g.Rules
		}
	}
	t.Fatal("portal alert group missing")
	return nil
}

// exportedNames gathers every metric family the portal and worker expose,
// after touching each vector so that it is emitted.
func exportedNames(t *testing.T) map[string]bool {
	t.Helper()
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	jobs.Track("statement:render").End(nil)
	jobs.Track("statement:render").End(errors.New("render failed"))
	jobs.AddBytes("statement:render", 1)
	metrics.ObserveCacheLookup(true)
	metrics.ObserveExport("pdf", nil)
	metrics.requestsTotal.WithLabelValues("/", "200").Inc()
	metrics.requestDuration.WithLabelValues("/").Observe(0.1)

	families, err := metrics.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func runbookAnchors(t *testing.T) map[string]bool {
	t.Helper()
	file, err := os.Open(filepath.Join("..", "..", "docs", "runbook.md"))
	if err != nil {
		t.Fatalf("open runbook: %v", err)
	}
	defer file.Close()
	anchors := map[string]bool{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if heading, ok := strings.CutPrefix(scanner.Text(), "## "); ok {
			anchors[strings.ReplaceAll(strings.ToLower(heading), " ", "-")] = true
		}
	}
	return anchors
}

func TestPortalAlertRules(t *testing.T) {
	rules := loadPortalRules(t)
	names := exportedNames(t)
	anchors := runbookAnchors(t)

	want := map[string]string{
		"HighErrorRate":            "critical",
		"HighLatency":              "warning",
		"StatementRenderFailures":  "warning",
		"MonthEndStatementMissing": "warning",
	}
	if len(rules) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(rules))
	}

	for _, rule := range rules {
		severity, ok := want[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != severity {
			t.Errorf("%s: severity %q, want %q", rule.Alert, rule.Labels["severity"], severity)
		}
		if rule.For == "" || rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Errorf("%s: missing hold duration or annotations", rule.Alert)
		}

		doc, anchor, _ := strings.Cut(rule.Annotations["runbook"], "#")
		if doc != "docs/runbook.md" || !anchors[anchor] {
			t.Errorf("%s: runbook link %q has no matching heading", rule.Alert, rule.Annotations["runbook"])
		}

		refs := metricRef.FindAllString(rule.Expr, -1)
		if len(refs) == 0 {
			t.Errorf("%s: expression references no portal metric", rule.Alert)
		}
		for _, ref := range refs {
			base := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(ref, "_bucket"), "_sum"), "_count")
			if !names[base] {
				t.Errorf("%s: expression uses %s, which is not exported", rule.Alert, ref)
			}
		}
	}
}
