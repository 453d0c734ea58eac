package cmd

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"dexaccess/internal/dex"
	"dexaccess/internal/dex/dextest"
	"dexaccess/internal/engine"
	"dexaccess/internal/policy"
)

func sampleDex() []byte {
	return dextest.Build(
		dextest.Class{
			Descriptor: "Lcom/example/Secret;",
			Flags:      uint32(dex.AccFinal),
			Fields: []dextest.Field{
				{Name: "token", Flags: uint32(dex.AccPrivate | dex.AccFinal)},
			},
			Methods: []dextest.Method{
				{Name: "<init>", Flags: uint32(dex.AccConstructor), Direct: true},
				{Name: "hidden", Flags: uint32(dex.AccPrivate | dex.AccFinal), Direct: true},
			},
		},
		dextest.Class{
			Descriptor: "Lcom/example/Open;",
			Flags:      uint32(dex.AccPublic),
			Methods: []dextest.Method{
				{Name: "run", Flags: uint32(dex.AccPublic)},
			},
		},
	)
}

func writeDex(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicy(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "policy.json")
	config := `{"stripFinalFields": true, "classFilters": ["Landroid/"]}`
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want policy.Policy
	}{
		{
			name: "defaults",
			want: policy.Default(),
		},
		{
			name: "strip final fields",
			args: []string{"--strip-final-fields"},
			want: policy.Policy{MakePublic: true, StripFinalClasses: true, StripFinalMethods: true, StripFinalFields: true},
		},
		{
			name: "no public and keep private direct",
			args: []string{"--no-public", "--keep-private-direct"},
			want: policy.Policy{StripFinalClasses: true, StripFinalMethods: true, KeepPrivateDirect: true},
		},
		{
			name: "filters",
			args: []string{"-F", "Landroid/", "--filter", "Ljava/"},
			want: policy.Policy{MakePublic: true, StripFinalClasses: true, StripFinalMethods: true, ClassFilters: []string{"Landroid/", "Ljava/"}},
		},
		{
			name: "config file",
			args: []string{"--config", configPath},
			want: policy.Policy{MakePublic: true, StripFinalClasses: true, StripFinalMethods: true, StripFinalFields: true, ClassFilters: []string{"Landroid/"}},
		},
		{
			name: "flags override config",
			args: []string{"-c", configPath, "--keep-final-fields", "-F", "Ljava/"},
			want: policy.Policy{MakePublic: true, StripFinalClasses: true, StripFinalMethods: true, ClassFilters: []string{"Landroid/", "Ljava/"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cobra.Command{Use: "test"}
			addPolicyFlags(c)
			if err := c.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags(%v) error: %v", tt.args, err)
			}
			got, err := loadPolicy(c)
			if err != nil {
				t.Fatalf("loadPolicy() error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("loadPolicy() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadPolicyBadConfig(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	addPolicyFlags(c)
	if err := c.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.json")}); err != nil {
		t.Fatal(err)
	}
	if _, err := loadPolicy(c); err == nil {
		t.Error("loadPolicy() with a missing config succeeded")
	}
}

func TestBuildReport(t *testing.T) {
	path := writeDex(t, "classes.dex", sampleDex())

	r, err := buildReport(path, policy.Default(), false)
	if err != nil {
		t.Fatalf("buildReport() error: %v", err)
	}
	if r.Version != "035" || r.Integrity != "ok" {
		t.Errorf("version %q integrity %q", r.Version, r.Integrity)
	}
	if r.Stats.Classes != 2 || r.Stats.Fields != 1 || r.Stats.Methods != 3 {
		t.Errorf("stats = %+v", r.Stats)
	}
	// Secret: class, token, <init>, hidden.
	if r.Stats.Changed != 4 {
		t.Errorf("Changed = %d, want 4", r.Stats.Changed)
	}

	secret := r.Classes[0]
	if secret.Name != "com.example.Secret" {
		t.Errorf("Name = %q", secret.Name)
	}
	if secret.Before.Raw != uint32(dex.AccFinal) || secret.After.Raw != uint32(dex.AccPublic) {
		t.Errorf("Secret flags %#x -> %#x", secret.Before.Raw, secret.After.Raw)
	}
	if len(secret.Members) != 3 {
		t.Errorf("Secret lists %d members, want 3 changed", len(secret.Members))
	}
	if open := r.Classes[1]; len(open.Members) != 0 || open.touched() {
		t.Errorf("Open = %+v, want untouched with no listed members", open)
	}

	md := r.Markdown(false)
	if !strings.Contains(md, "com.example.Secret") {
		t.Error("report is missing the changed class")
	}
	if strings.Contains(md, "com.example.Open") {
		t.Error("report lists an unchanged class without --all")
	}
	if !strings.Contains(r.Markdown(true), "com.example.Open") {
		t.Error("report with all is missing the unchanged class")
	}

	all, err := buildReport(path, policy.Default(), true)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(all.Classes[1].Members); got != 1 {
		t.Errorf("with all, Open lists %d members, want 1", got)
	}
}

func TestBuildReportErrors(t *testing.T) {
	_, err := buildReport(filepath.Join(t.TempDir(), "missing.dex"), policy.Default(), false)
	var ioErr *engine.IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("missing file error = %v, want *engine.IOError", err)
	}

	path := writeDex(t, "junk.dex", []byte("PK\x03\x04 definitely not dex"))
	if _, err := buildReport(path, policy.Default(), false); !errors.Is(err, dex.ErrInvalidMagic) {
		t.Errorf("junk error = %v, want ErrInvalidMagic", err)
	}
}

func TestReportJSON(t *testing.T) {
	path := writeDex(t, "classes.dex", sampleDex())
	r, err := buildReport(path, policy.Default(), false)
	if err != nil {
		t.Fatal(err)
	}
	s, err := r.JSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded Report
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if !reflect.DeepEqual(&decoded, r) {
		t.Errorf("decoded report differs:\n got %+v\nwant %+v", decoded, *r)
	}
}

func TestRunNoTUI(t *testing.T) {
	path := writeDex(t, "classes.dex", sampleDex())
	var buf bytes.Buffer
	if err := runNoTUI(&buf, path, false, false, policy.Default()); err != nil {
		t.Fatalf("runNoTUI() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"dexaccess", "classes.dex", "com.example.Secret", "hidden"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("uncolored report contains ANSI escapes")
	}
}

func TestVerifyFiles(t *testing.T) {
	good := writeDex(t, "good.dex", sampleDex())

	stale := sampleDex()
	binary.LittleEndian.PutUint32(stale[dextest.OffChecksum:], 1)
	bad := writeDex(t, "bad.dex", stale)

	var buf bytes.Buffer
	if err := verifyFiles(&buf, []string{good}, false); err != nil {
		t.Fatalf("verifyFiles(good) error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "ok") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	err := verifyFiles(&buf, []string{good, bad}, false)
	if err == nil {
		t.Fatal("verifyFiles(bad) succeeded")
	}
	if !strings.Contains(buf.String(), "bad  "+bad) {
		t.Errorf("output = %q", buf.String())
	}
	if _, err := verifyFile(bad); !errors.Is(err, dex.ErrChecksumMismatch) {
		t.Errorf("verifyFile(bad) = %v, want ErrChecksumMismatch", err)
	}
}

func TestPrintBatch(t *testing.T) {
	results := []engine.BatchResult{
		{Input: "a.dex", Output: "a_modified.dex", Stats: engine.Stats{Changed: 3}},
		{Input: "b.dex", Output: "b_modified.dex", Err: dex.ErrInvalidMagic},
	}
	var buf bytes.Buffer
	err := printBatch(&buf, results, false)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("printBatch() error = %v, want 1 of 2 failed", err)
	}
	out := buf.String()
	if !strings.Contains(out, "a.dex -> a_modified.dex (3 flags changed)") {
		t.Errorf("missing success line:\n%s", out)
	}
	if !strings.Contains(out, "fail b.dex") {
		t.Errorf("missing failure line:\n%s", out)
	}
}

func TestPolicySchema(t *testing.T) {
	bts, err := policySchema()
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"makePublic", "stripFinalFields", "keepPrivateDirect", "classFilters"} {
		if !bytes.Contains(bts, []byte(key)) {
			t.Errorf("schema missing %q", key)
		}
	}
}

func TestRewriteCommand(t *testing.T) {
	in := writeDex(t, "classes.dex", sampleDex())
	out := filepath.Join(filepath.Dir(in), "open.dex")

	rootCmd.SetArgs([]string{"--log-level", "error", "--filter", "Lcom/example/Open;", in, out})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if err := dex.Verify(data); err != nil {
		t.Errorf("output does not verify: %v", err)
	}
	f, err := dex.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.ClassDefs[0].AccessFlags; got != dex.AccPublic {
		t.Errorf("Secret flags = %v, want public", got)
	}
}

func TestInspectJSONCommand(t *testing.T) {
	in := writeDex(t, "classes.dex", sampleDex())

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	defer rootCmd.SetOut(nil)
	rootCmd.SetArgs([]string{"inspect", "--json", in})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	var r Report
	if err := json.Unmarshal(buf.Bytes(), &r); err != nil {
		t.Fatalf("inspect --json output is not JSON: %v\n%s", err, buf.String())
	}
	if r.Stats.Classes != 2 {
		t.Errorf("classes = %d, want 2", r.Stats.Classes)
	}
}
