package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// boundary confines imports of a set of packages to their owners.
type boundary struct {
	name     string
	imported []string
	owners   []string
}

var boundaries = []boundary{
	{
		name:     "infra blob backends",
		imported: []string{"biodb/internal/infra/blob"},
		owners:   []string{"biodb/internal/blob", "biodb/internal/infra/blob"},
	},
	{
		name:     "database drivers",
		imported: []string{"modernc.org/sqlite", "github.com/jackc/pgx/v5"},
		owners:   []string{"biodb/internal/persistence/sqlstore"},
	},
	{
		name:     "aws sdk",
		imported: []string{"github.com/aws/aws-sdk-go-v2"},
		owners:   []string{"biodb/internal/infra/blob/s3"},
	},
}

func TestImportBoundaries(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "biodb/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, b := range boundaries {
		seen := make(map[string]struct{})
		for _, pkg := range pkgs {
			if underAny(pkg.PkgPath, b.owners) {
				continue
			}
			for importPath := range pkg.Imports {
				if underAny(importPath, b.imported) {
					seen[pkg.PkgPath+" -> "+importPath] = struct{}{}
				}
			}
		}
		for v := range seen {
			violations = append(violations, b.name+": "+v)
		}
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("forbidden imports:\n%s", strings.Join(violations, "\n"))
	}
}

// underAny reports whether path is one of prefixes or nested below one.
// Test variants report paths like "pkg [pkg.test]", so the suffix is cut.
func underAny(path string, prefixes []string) bool {
	if i := strings.IndexByte(path, ' '); i >= 0 {
		path = path[:i]
	}
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
