package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/claimbot/claimbot/internal/batch"
	"github.com/claimbot/claimbot/internal/config"
	"github.com/claimbot/claimbot/internal/platform/selectors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"interrupted", fmt.Errorf("%w: 3 left", errInterrupted), exitInterrupted},
		{"cancelled", context.Canceled, exitInterrupted},
		{"missing credentials", config.ErrMissingCredentials, exitSetup},
		{"browser launch", errors.New("launch browser: exec: not found"), exitSetup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestPrintWorkList(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local)

	var out bytes.Buffer
	if err := printWorkList(&out, dir, day); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No work-list") {
		t.Errorf("output = %q", out.String())
	}

	store, err := batch.NewWorkListStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(day, []string{"1001", "1002"}); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := printWorkList(&out, dir, day); err != nil {
		t.Fatal(err)
	}
	want := "invoices_to_submit_2026-03-04.json: 2 invoice(s) remaining\n1001\n1002\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestWorklistCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.Local)
	store, err := batch.NewWorkListStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(day, []string{"42"}); err != nil {
		t.Fatal(err)
	}

	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"worklist", "--date", "2026-03-04"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("worklist: %v", err)
	}
	if !strings.HasSuffix(out.String(), "\n42\n") {
		t.Errorf("output = %q", out.String())
	}

	cmd = rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"worklist", "--date", "03/04/2026"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected an error for a malformed date")
	}
}

func TestRunBatch_SetupErrors(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			RevUsername:   "front",
			RevPassword:   "secret",
			VSPUsername:   "vsp-main",
			VSPPassword:   "secret",
			VSPLocation:   "primary",
			DataDir:       t.TempDir(),
			ArtifactDir:   t.TempDir(),
			SelectorsFile: filepath.Join(t.TempDir(), "missing.yaml"),
			DriverTimeout: time.Second,
		}
	}

	t.Run("missing credentials", func(t *testing.T) {
		cfg := base()
		cfg.VSPPassword = ""
		err := runBatch(context.Background(), cfg, zerolog.Nop())
		if !errors.Is(err, config.ErrMissingCredentials) {
			t.Fatalf("expected ErrMissingCredentials, got %v", err)
		}
		if exitCode(err) != exitSetup {
			t.Errorf("exit code = %d", exitCode(err))
		}
	})

	t.Run("selector catalog unreadable", func(t *testing.T) {
		err := runBatch(context.Background(), base(), zerolog.Nop())
		if err == nil || !strings.Contains(err.Error(), "selector catalog") {
			t.Fatalf("expected a catalog error, got %v", err)
		}
	})
}

func TestExampleSelectorCatalog(t *testing.T) {
	cat, err := selectors.Load(filepath.Join("..", "..", "configs", "selectors.example.yaml"))
	if err != nil {
		t.Fatalf("load example catalog: %v", err)
	}
	for _, section := range []string{"rev", "vsp"} {
		if _, err := cat.Section(section).Text("urls.login"); err != nil {
			t.Errorf("%s: %v", section, err)
		}
	}
}
