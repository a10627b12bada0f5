package hooks

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/lookup"
)

type dataSink map[string]map[string]any

func (d dataSink) SetHookData(key string, data map[string]any) { d[key] = data }

func boolPtr(v bool) *bool { return &v }

func testOptions(t *testing.T, out *bytes.Buffer, data dataSink) Options {
	t.Helper()
	reg := lookup.NewRegistry()
	reg.Register(lookup.EnvHandler, lookup.EnvResolver{"Env": "dev"})
	return Options{
		Dir:      t.TempDir(),
		Resolver: reg,
		Data:     data,
		Logger:   logr.Discard(),
		Out:      out,
		Env:      []string{"PATH=" + os.Getenv("PATH")},
	}
}

func TestRun_ResolvesArgsIntoEnvironment(t *testing.T) {
	var out bytes.Buffer
	opts := testOptions(t, &out, dataSink{})
	err := Run(context.Background(), PreBuild, []config.HookDef{{
		Name:    "package",
		Command: `sh -c 'echo "$STACKCTL_HOOK_STAGE $TARGET_ENV" > marker; echo packaged'`,
		Args:    map[string]string{"TARGET_ENV": "${env Env}"},
	}}, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(opts.Dir, "marker"))
	if err != nil {
		t.Fatalf("hook did not run in Dir: %v", err)
	}
	if strings.TrimSpace(string(raw)) != "pre_build dev" {
		t.Fatalf("marker=%q", raw)
	}
	if !strings.Contains(out.String(), "hook-output package: packaged") {
		t.Fatalf("output=%q", out.String())
	}
}

func TestRun_RequiredFailureStops(t *testing.T) {
	var out bytes.Buffer
	opts := testOptions(t, &out, dataSink{})
	err := Run(context.Background(), PostBuild, []config.HookDef{
		{Name: "optional", Command: "sh -c 'exit 3'", Required: boolPtr(false)},
		{Name: "disabled", Command: "sh -c 'exit 1'", Enabled: boolPtr(false)},
		{Name: "notify", Command: "sh -c 'echo broken >&2; exit 2'"},
		{Name: "after", Command: "sh -c 'touch after'"},
	}, opts)
	var he *HookError
	if !errors.As(err, &he) || he.Hook != "notify" || he.Stage != PostBuild {
		t.Fatalf("expected notify to fail the stage, got %v", err)
	}
	if !strings.Contains(out.String(), "hook-output notify: broken") {
		t.Fatalf("stderr not forwarded: %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(opts.Dir, "after")); !os.IsNotExist(err) {
		t.Fatalf("hooks after a required failure must not run")
	}
}

func TestRun_DataKeyStoresJSON(t *testing.T) {
	data := dataSink{}
	var out bytes.Buffer
	opts := testOptions(t, &out, data)
	err := Run(context.Background(), PreBuild, []config.HookDef{{
		Command: `sh -c 'echo "{\"Key\": \"code/app.zip\", \"Size\": 42}"'`,
		DataKey: "lambda",
	}}, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := data["lambda"]; got["Key"] != "code/app.zip" || got["Size"] != float64(42) {
		t.Fatalf("data=%v", got)
	}
	if out.Len() != 0 {
		t.Fatalf("data output must not be echoed: %q", out.String())
	}

	err = Run(context.Background(), PreBuild, []config.HookDef{{Command: "sh -c 'echo not-json'", DataKey: "bad"}}, opts)
	if err == nil || !strings.Contains(err.Error(), "not a JSON object") {
		t.Fatalf("expected JSON error, got %v", err)
	}
}

func TestRun_UnresolvedArgs(t *testing.T) {
	var out bytes.Buffer
	opts := testOptions(t, &out, dataSink{})
	err := Run(context.Background(), PreBuild, []config.HookDef{{
		Command: "true",
		Args:    map[string]string{"X": "${env Missing}"},
	}}, opts)
	if err == nil || !strings.Contains(err.Error(), "Missing") {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestWorkDir(t *testing.T) {
	cases := []struct{ base, dir, want string }{
		{"/cfg", "", "/cfg"},
		{"/cfg", "lambda", "/cfg/lambda"},
		{"/cfg", "/abs", "/abs"},
		{"", "rel", "rel"},
	}
	for _, tc := range cases {
		if got := workDir(tc.base, tc.dir); got != tc.want {
			t.Fatalf("workDir(%q, %q)=%q want %q", tc.base, tc.dir, got, tc.want)
		}
	}
}
