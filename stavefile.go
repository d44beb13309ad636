//go:build stave

package main

import (
	"fmt"
	"os"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"
	"github.com/yaklabco/stave/pkg/target"
)

// Default target when running `stave` with no arguments.
var Default = All

var Aliases = map[string]interface{}{
	"b": Build,
	"t": Test,
	"l": Lint,
	"c": Clean,
}

// All runs vet, lint and test, then builds.
func All() error {
	st.Deps(Init)
	st.Deps(Vet, Lint, Test)
	st.Deps(Build)
	return nil
}

// Init ensures the module dependencies are up to date.
func Init() error {
	return sh.Run("go", "mod", "tidy")
}

// Build compiles the roboset and roboset_h5ls binaries. Both need cgo and
// the HDF5 headers.
func Build() error {
	st.Deps(Init)
	st.Deps(Build_Roboset, Build_H5ls)
	return nil
}

func Build_Roboset() error {
	return buildBinary("bin/roboset", ".")
}

func Build_H5ls() error {
	return buildBinary("bin/roboset_h5ls", "./cmd/roboset_h5ls")
}

func buildBinary(out, pkg string) error {
	rebuild, err := target.Glob(out, "**/*.go", "go.mod", "go.sum")
	if err != nil {
		return fmt.Errorf("checking rebuild: %w", err)
	}
	if !rebuild {
		if st.Verbose() {
			fmt.Println(out, "is up to date")
		}
		return nil
	}
	return sh.RunV("go", "build", "-o", out, pkg)
}

// Test runs all tests with race detection and coverage.
func Test() error {
	st.Deps(Init)
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// TestShort runs tests in short mode.
func TestShort() error {
	st.Deps(Init)
	return sh.RunV("go", "test", "-short", "-race", "./...")
}

func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Clean removes build artifacts and the default output tree.
func Clean() error {
	for _, a := range []string{"bin/", "out/", "coverage.out"} {
		if err := sh.Rm(a); err != nil {
			return fmt.Errorf("removing %s: %w", a, err)
		}
	}
	return nil
}

// Convert runs a full build against ROBOSET_DATA_PATH.
func Convert() error {
	st.Deps(Build_Roboset)
	if os.Getenv("ROBOSET_DATA_PATH") == "" {
		return fmt.Errorf("ROBOSET_DATA_PATH is not set")
	}
	return sh.RunV("./bin/roboset", "build")
}

// Coverage writes coverage.out.
func Coverage() error {
	st.Deps(Init)
	return sh.RunV("go", "test", "-race", "-coverprofile=coverage.out", "./...")
}
