package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/models"
	"go.uber.org/zap"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after positionals are moved first",
			args:     []string{"query.jpg", "-k", "5"},
			expected: []string{"-k", "5", "query.jpg"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-k", "5", "query.jpg"},
			expected: []string{"-k", "5", "query.jpg"},
		},
		{
			name:     "positional only returns unchanged",
			args:     []string{"query.jpg"},
			expected: []string{"query.jpg"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"red", "dress", "-limit", "5"},
			expected: []string{"-limit", "5", "red", "dress"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"dress"}, "dress"},
		{[]string{"red", "dress"}, "red dress"},
		{[]string{"red dress"}, "red dress"},
		{[]string{"  "}, ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := buildQuery(tt.args); got != tt.want {
			t.Errorf("buildQuery(%q)=%q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestReadInputs_ExpandsDirectories(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{"a.jpg": "a", "b.PNG": "b", "notes.txt": "n", "c_crop.jpg": "c"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	single := filepath.Join(t.TempDir(), "single.webp")
	if err := os.WriteFile(single, []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}

	inputs, err := readInputs([]string{dir, single}, "summer", "acme")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, in := range inputs {
		ids = append(ids, in.ID)
		if in.Folder != "summer" || in.Customer != "acme" {
			t.Errorf("%s metadata=%q/%q", in.ID, in.Folder, in.Customer)
		}
	}
	want := []string{"a.jpg", "b.PNG", "single.webp"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids=%v, want %v", ids, want)
	}

	if _, err := readInputs([]string{filepath.Join(dir, "missing.jpg")}, "", ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := []byte(`
storage:
  index_dir: ./data/index
  image_dir: ./data/images
  database_path: ./data/catalog.db
  keyword_index_path: ./data/names
feature:
  mock: true
  dimensions: 8
index:
  flush:
    policy: always
`)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, cfg, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_PrefersWorkingDirectoryConfig(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)
	t.Chdir(dir)

	cfg, path, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "config.yaml" || !cfg.Feature.Mock {
		t.Errorf("loaded %q mock=%v", path, cfg.Feature.Mock)
	}
	if cfg.Storage.ImageDir != filepath.Join(dir, "data", "images") {
		t.Errorf("image dir=%q", cfg.Storage.ImageDir)
	}
}

func TestLoadConfig_ExplicitMissingFileFails(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestInitializeComponents_DirectMode(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(writeTestConfig(t, dir))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	components, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	var b backend = localBackend{components.Service}
	inputs := []*models.ImageInput{
		{ID: "red-dress.jpg", Folder: "summer", Data: []byte("red dress")},
		{ID: "blue-skirt.jpg", Folder: "summer", Data: []byte("blue skirt")},
	}
	if res, err := b.AddBatch(ctx, inputs); err != nil || res.Added != 2 {
		t.Fatalf("AddBatch=%+v, %v", res, err)
	}
	res, err := b.Search(ctx, []byte("blue skirt"), 1)
	if err != nil || len(res.IDs) != 1 || res.IDs[0] != "blue-skirt.jpg" {
		t.Fatalf("Search=%+v, %v", res, err)
	}
	components.Close()

	reopened, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	st, err := localBackend{reopened.Service}.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.IndexSize != 2 || st.CatalogImages != 2 || st.ImageBackend != "local" {
		t.Errorf("status after reopen=%+v", st)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "images", "red-dress.jpg")); err != nil {
		t.Errorf("image bytes not stored: %v", err)
	}
}

func TestVectorTypeFallsBackWithoutFAISS(t *testing.T) {
	if got := vectorType("flat", zap.NewNop()); got != "flat" {
		t.Errorf("vectorType(flat)=%q", got)
	}
}
