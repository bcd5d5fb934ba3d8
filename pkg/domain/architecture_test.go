package domain

import (
	"testing"

	"biodb/testutil"
)

func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImport, "domain types are shared by every layer")
}
