package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred ImportPredicate
		in   string
		want bool
	}{
		{"internal", InternalImport, "bloodbank/internal/core", true},
		{"stdlib internal", InternalImport, "internal/abi", false},
		{"stdlib nested internal", InternalImport, "crypto/internal/boring", false},
		{"module internal root", InternalImport, "bloodbank/internal", true},
		{"third-party internal", InternalImport, "golang.org/x/tools/internal/gcimporter", true},
		{"public", InternalImport, "bloodbank/pkg/domain", false},
		{"infra", InfraImport, "bloodbank/internal/infra/persistence/sqlite", true},
		{"not infra", InfraImport, "bloodbank/internal/archive", false},
		{"sqlite", StorageDriverImport, "modernc.org/sqlite", true},
		{"pgconn", StorageDriverImport, "github.com/jackc/pgx/v5/pgconn", true},
		{"s3", StorageDriverImport, "github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"decimal", StorageDriverImport, "github.com/shopspring/decimal", false},
		{"any of", AnyOf(InfraImport, StorageDriverImport), "modernc.org/sqlite/lib", true},
		{"any of none", AnyOf(), "fmt", false},
	}
	for _, tc := range cases {
		if got := tc.pred(tc.in); got != tc.want {
			t.Fatalf("%s(%q) = %v, want %v", tc.name, tc.in, got, tc.want)
		}
	}
}

type recordingTB struct {
	testing.TB
	failed string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(format string, args ...any) { r.failed = format }

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestAssertNoDirectImports(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.go", "package tmp\n\nimport \"fmt\"\n\nfunc X() { fmt.Println(1) }\n")
	writeFile(t, dir, "bad_test.go", "package tmp\n\nimport _ \"bloodbank/internal/infra/logging\"\n")
	AssertNoDirectImports(t, dir, InfraImport, "test files are ignored")

	writeFile(t, dir, "bad.go", "package tmp\n\nimport _ \"bloodbank/internal/infra/logging\"\n")
	rec := &recordingTB{TB: t}
	AssertNoDirectImports(rec, dir, InfraImport, "infra")
	if rec.failed == "" {
		t.Fatalf("expected violation for bad.go")
	}
	viols, err := directImports(dir, InfraImport)
	if err != nil || len(viols) != 1 || viols[0] != "bloodbank/internal/infra/logging (bad.go)" {
		t.Fatalf("unexpected violations %v %v", viols, err)
	}
}

func TestAssertNoDirectImportsMissingDir(t *testing.T) {
	rec := &recordingTB{TB: t}
	AssertNoDirectImports(rec, filepath.Join(t.TempDir(), "missing"), InfraImport, "none")
	if rec.failed == "" {
		t.Fatalf("expected failure for missing directory")
	}
}

func TestAssertNoTransitiveDependency(t *testing.T) {
	AssertNoTransitiveDependency(t, ".", StorageDriverImport, "testutil stays free of storage drivers")
}
