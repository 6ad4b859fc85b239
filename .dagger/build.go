package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dagger/stacks/internal/dagger"
)

// Build and return directory of go binaries
func (s *Stacks) Build(
	ctx context.Context,

	// Linker flags for go build
	// +optional
	// +default="-s -w"
	ldflags string,
) *dagger.Directory {
	// sqlite is linked through CGO, so each architecture builds natively
	// in an emulated container rather than cross compiling.
	platforms := []dagger.Platform{"linux/amd64", "linux/arm64"}

	outputs := dag.Directory()

	for _, platform := range platforms {
		path := string(platform) + "/"

		build := s.goContainerFor(platform).
			WithExec([]string{"go", "build", "-ldflags", ldflags, "-o", path, "./cli/stacks"})

		outputs = outputs.WithDirectory(path, build.Directory(path))
	}

	return outputs
}

// BuildRelease compiles versioned release binaries with embedded version info
func (s *Stacks) BuildRelease(
	ctx context.Context,

	// Version string of build
	version string,

	// Git commit SHA of build
	commit string,
) *dagger.Directory {
	buildtime := time.Now().UTC().Format(time.RFC3339)

	ldflags := []string{
		"-s",
		"-w",
		fmt.Sprintf("-X 'github.com/papercomputeco/stacks/pkg/utils.Version=%s'", version),
		fmt.Sprintf("-X 'github.com/papercomputeco/stacks/pkg/utils.Sha=%s'", commit),
		fmt.Sprintf("-X 'github.com/papercomputeco/stacks/pkg/utils.Buildtime=%s'", buildtime),
	}

	return s.Build(ctx, strings.Join(ldflags, " "))
}
