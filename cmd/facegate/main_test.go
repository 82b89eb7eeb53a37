package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/facegate/internal/auth"
	"github.com/hyperjump/facegate/internal/cli"
	"github.com/hyperjump/facegate/internal/config"
	"github.com/hyperjump/facegate/internal/embedding"
	"github.com/hyperjump/facegate/internal/models"
)

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  driver: memory
extractor:
  type: mock
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  driver: memory
extractor:
  type: mock
match:
  verify_threshold: 0.5
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Match.VerifyThreshold != 0.5 {
		t.Errorf("verify threshold = %v, want 0.5", cfg.Match.VerifyThreshold)
	}
}

func TestLoadConfig_rejectsInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("storage:\n  driver: cassandra\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadConfig(configPath); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"bob.PNG", "alice.jpg", "notes.txt", ".hidden.png", "carol.jpeg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0700); err != nil {
		t.Fatal(err)
	}

	got, err := listImages(dir, []string{".jpg", ".jpeg", ".png"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "alice.jpg"),
		filepath.Join(dir, "bob.PNG"),
		filepath.Join(dir, "carol.jpeg"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listImages() = %v, want %v", got, want)
	}

	if _, err := listImages(filepath.Join(dir, "missing"), nil); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestImportSummary_record(t *testing.T) {
	var s importSummary
	s.record("a.png", nil)
	s.record("b.png", auth.ErrUserExists)
	s.record("c.png", &auth.DuplicateFaceError{UserID: "a", Distance: 0.1})
	s.record("d.png", fmt.Errorf("extract: %w", embedding.ErrNoFaceDetected))
	s.record("e.png", errors.New("boom"))

	if s.Registered != 1 || s.Exists != 1 || s.Duplicate != 1 || s.NoFace != 1 || s.Failed != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	// existing users are not errors worth listing
	if len(s.Errors) != 3 {
		t.Errorf("errors = %v, want 3 entries", s.Errors)
	}

	var buf bytes.Buffer
	s.write(&buf)
	if !strings.Contains(buf.String(), "e.png: boom") {
		t.Errorf("summary missing error line:\n%s", buf.String())
	}
}

func writePNG(t *testing.T, path string, height int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, height))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
}

func testComponents(t *testing.T) *Components {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Driver = config.DriverMemory
	cfg.Extractor.Type = config.ExtractorMock
	cfg.Extractor.Model = ""
	cfg.Extractor.Dimensions = 64

	c, err := initializeComponents(context.Background(), cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestImportFiles(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "alice.png"), 1)
	writePNG(t, filepath.Join(dir, "bob.png"), 2)
	// same bytes as alice under another name
	writePNG(t, filepath.Join(dir, "zed.png"), 1)
	if err := os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not an image"), 0600); err != nil {
		t.Fatal(err)
	}

	c := testComponents(t)
	ctx := context.Background()
	files, err := listImages(dir, c.Config.Inbox.Extensions)
	if err != nil {
		t.Fatal(err)
	}

	first := importFiles(ctx, c, files, nil)
	if first.Total != 4 || first.Registered != 2 || first.Duplicate != 1 || first.Failed != 1 {
		t.Errorf("first import: %+v", first)
	}
	if _, err := c.Auth.Get(ctx, "alice"); err != nil {
		t.Errorf("alice not enrolled: %v", err)
	}
	if _, err := c.Auth.Get(ctx, "zed"); err == nil {
		t.Error("zed should have been rejected as a duplicate of alice")
	}

	second := importFiles(ctx, c, files, nil)
	if second.Registered != 0 || second.Exists != 2 || second.Duplicate != 1 {
		t.Errorf("second import: %+v", second)
	}
}

func TestImportFiles_stopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "alice.png"), 1)
	c := testComponents(t)
	files, _ := listImages(dir, c.Config.Inbox.Extensions)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := importFiles(ctx, c, files, nil)
	if s.Registered != 0 || len(s.Errors) != 0 {
		t.Errorf("cancelled import did work: %+v", s)
	}
}

func TestWriteResponse_missReturnsNotRecognized(t *testing.T) {
	var buf bytes.Buffer
	cmd := versionCmd
	cmd.SetOut(&buf)
	defer cmd.SetOut(nil)

	miss := &models.StandardResponse{Success: false, Message: models.MessageNotRecognized,
		Data: map[string]interface{}{"distance": nil, "scanned": 0}}
	if err := writeResponse(cmd, miss, cli.OutputText); !errors.Is(err, errNotRecognized) {
		t.Errorf("miss error = %v, want errNotRecognized", err)
	}
	if !strings.Contains(buf.String(), "Face not recognized") {
		t.Errorf("miss report not printed:\n%s", buf.String())
	}

	hit := &models.StandardResponse{Success: true, Message: models.MessageLoginSuccessful}
	if err := writeResponse(cmd, hit, cli.OutputText); err != nil {
		t.Errorf("hit error = %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)
	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(buf.String(), "facegate dev") {
		t.Errorf("version output = %q", buf.String())
	}
}
