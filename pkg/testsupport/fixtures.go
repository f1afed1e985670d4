package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-query-cache/factdb"
	"github.com/goliatone/go-query-cache/internal/scenario"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureYAML loads YAML test data from a fixture file and unmarshals it.
func LoadFixtureYAML(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := yaml.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal YAML fixture from %s: %v", path, err)
	}
}

// LoadGraph loads a YAML or TOML graph document.
func LoadGraph(t testing.TB, path string) scenario.Graph {
	t.Helper()

	g, err := scenario.LoadGraph(path)
	if err != nil {
		t.Fatalf("failed to load graph from %s: %v", path, err)
	}

	return g
}

// Seed transacts g into conn and returns the report.
func Seed(t testing.TB, conn *factdb.Conn, g scenario.Graph) *factdb.TxReport {
	t.Helper()

	data, err := g.TxData()
	if err != nil {
		t.Fatalf("invalid graph: %v", err)
	}

	report, err := conn.Transact(context.Background(), data, factdb.Metadata{factdb.MetaOrigin: "fixture"})
	if err != nil {
		t.Fatalf("failed to seed graph: %v", err)
	}

	return report
}

// NewConn returns a connection seeded with the graph fixture at path.
func NewConn(t testing.TB, path string) *factdb.Conn {
	t.Helper()

	conn := factdb.NewConn(factdb.DefaultSchema())
	Seed(t, conn, LoadGraph(t, path))
	return conn
}

// Resolve returns the id of a page name, block uuid or "#<id>" reference,
// failing the test when it does not resolve.
func Resolve(t testing.TB, db *factdb.DB, ref string) factdb.EID {
	t.Helper()

	r, err := scenario.Ref(ref)
	if err != nil {
		t.Fatalf("invalid reference %q: %v", ref, err)
	}

	id, ok := db.Resolve(r)
	if !ok {
		t.Fatalf("reference %q does not resolve", ref)
	}

	return id
}

// LoadGolden loads expected test output from a golden file.
// The path is relative to the test package directory.
func LoadGolden(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load golden file from %s: %v", path, err)
	}

	return data
}

// WriteGolden writes test output to a golden file.
// This should typically only be called when updating golden files.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// CompareWithGolden compares actual data with expected data from a golden file.
// If the golden file doesn't exist, it creates one with the actual data.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("Golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if string(actual) != string(expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// CompareWithGoldenYAML renders v as YAML and compares it with a golden file.
func CompareWithGoldenYAML(t testing.TB, path string, v any) {
	t.Helper()

	data, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal YAML for golden file %s: %v", path, err)
	}

	CompareWithGolden(t, path, data)
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
