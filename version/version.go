// Package version carries the project's build identity: a
// mainpkg/version/revision trio meant to be stamped in at link time
// via -ldflags.
package version

import (
	"fmt"
	"io"
	"os"
)

// mainpkg is the overall, canonical project import path under which the
// package was built.
var mainpkg = "github.com/vaultkeeper/backup"

// version is replaced at build time with the release tag; the value
// here is used for a plain `go build`/`go run`.
var version = "v0.0.0+unknown"

// revision is filled with the VCS revision being used to build the
// program at linking time.
var revision = ""

// Package returns the canonical import path the running binary was built from.
func Package() string {
	return mainpkg
}

// Version returns the module version the running binary was built from.
func Version() string {
	return version
}

// Revision returns the VCS revision being used to build the program.
func Revision() string {
	return revision
}

// Fprint writes the version line to w: "<cmd> <project> <version>".
func Fprint(w io.Writer) {
	fmt.Fprintln(w, os.Args[0], Package(), Version())
}

// Print writes the version line to stdout.
func Print() {
	Fprint(os.Stdout)
}
