package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/goliatone/go-query-cache/factdb"
)

func TestLoadFixture(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	testContent := []byte("test fixture content")

	if err := os.WriteFile(testFile, testContent, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	result := LoadFixture(t, testFile)
	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
}

func TestLoadFixtureYAML(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.yaml")

	if err := os.WriteFile(testFile, []byte("name: test\nvalue: 42\nitems: [a, b, c]\n"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	var result map[string]any
	LoadFixtureYAML(t, testFile, &result)

	if result["name"] != "test" {
		t.Errorf("expected name=test, got %v", result["name"])
	}
	if result["value"] != 42 { // YAML unmarshals small integers as int
		t.Errorf("expected value=42, got %v", result["value"])
	}
}

func TestLoadGraph(t *testing.T) {
	g := LoadGraph(t, FixturePath("graph.yaml"))

	if len(g.Pages) != 2 {
		t.Errorf("expected 2 pages, got %d", len(g.Pages))
	}
	if len(g.Blocks) != 2 {
		t.Errorf("expected 2 blocks, got %d", len(g.Blocks))
	}
	if g.Pages[1].JournalDay != 20261016 {
		t.Errorf("expected journal day 20261016, got %d", g.Pages[1].JournalDay)
	}
}

func TestNewConn(t *testing.T) {
	conn := NewConn(t, FixturePath("graph.yaml"))
	db := conn.DB()

	if db.Size() != 4 {
		t.Errorf("expected 4 entities, got %d", db.Size())
	}

	topic := Resolve(t, db, "Topic")
	block := Resolve(t, db, "00000000-0000-4000-8000-000000000002")

	ent, ok := db.Entity(block)
	if !ok {
		t.Fatal("block should exist")
	}
	if refs := ent.Refs(factdb.AttrRefs); len(refs) != 1 || refs[0] != topic {
		t.Errorf("expected block to reference %d, got %v", topic, refs)
	}

	if again := Resolve(t, db, "#"+strconv.FormatInt(int64(topic), 10)); again != topic {
		t.Errorf("expected #id to resolve to %d, got %d", topic, again)
	}
}

func TestSeed_Upserts(t *testing.T) {
	conn := NewConn(t, FixturePath("graph.yaml"))
	before := conn.DB().Size()

	Seed(t, conn, LoadGraph(t, FixturePath("graph.yaml")))

	if after := conn.DB().Size(); after != before {
		t.Errorf("expected seeding twice to keep %d entities, got %d", before, after)
	}
}

func TestLoadGolden(t *testing.T) {
	tmpDir := t.TempDir()
	goldenFile := filepath.Join(tmpDir, "test.golden")
	goldenContent := []byte("expected output content")

	if err := os.WriteFile(goldenFile, goldenContent, 0644); err != nil {
		t.Fatalf("failed to create golden file: %v", err)
	}

	result := LoadGolden(t, goldenFile)
	if string(result) != string(goldenContent) {
		t.Errorf("expected %q, got %q", goldenContent, result)
	}
}

func TestWriteGolden(t *testing.T) {
	tmpDir := t.TempDir()
	goldenFile := filepath.Join(tmpDir, "subdir", "test.golden")
	testContent := []byte("test golden content")

	// should create directories
	WriteGolden(t, goldenFile, testContent)

	result, err := os.ReadFile(goldenFile)
	if err != nil {
		t.Fatalf("failed to read written golden file: %v", err)
	}

	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
}

func TestCompareWithGolden(t *testing.T) {
	tmpDir := t.TempDir()
	goldenFile := filepath.Join(tmpDir, "test.golden")
	testContent := []byte("test content")

	// missing golden file is created
	CompareWithGolden(t, goldenFile, testContent)

	result, err := os.ReadFile(goldenFile)
	if err != nil {
		t.Fatalf("failed to read created golden file: %v", err)
	}

	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}

	// matching content passes
	CompareWithGolden(t, goldenFile, testContent)
}

func TestCompareWithGoldenYAML(t *testing.T) {
	goldenFile := filepath.Join(t.TempDir(), "report.yaml")
	report := map[string]any{"watch": "journals", "changed": true}

	CompareWithGoldenYAML(t, goldenFile, report)

	var loaded map[string]any
	LoadFixtureYAML(t, goldenFile, &loaded)
	if loaded["watch"] != "journals" || loaded["changed"] != true {
		t.Errorf("unexpected golden content %v", loaded)
	}

	CompareWithGoldenYAML(t, goldenFile, report)
}

func TestFixturePath(t *testing.T) {
	result := FixturePath("graph.yaml")
	expected := filepath.Join("testdata", "graph.yaml")

	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestGoldenPath(t *testing.T) {
	result := GoldenPath("output.txt")
	expected := filepath.Join("testdata", "golden", "output.txt")

	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}
