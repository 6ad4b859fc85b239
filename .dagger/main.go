// Stacks CI/CD
//
// Package main provides reproducible builds and tests locally and in GitHub actions.
package main

import (
	"context"

	"dagger/stacks/internal/dagger"
)

// Stacks is the main module for the stacks CI/CD pipeline
type Stacks struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

// New creates a new Stacks CI/CD module instance
func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", ".direnv", ".devenv", ".stacks", "build", "tmp"]
	source *dagger.Directory,
) *Stacks {
	return &Stacks{
		Source: source,
	}
}

// goContainer returns a Debian Bookworm-based Go container with gcc,
// libsqlite3-dev, CGO enabled, and the project source mounted.
// go-sqlite3 and the sqlite-vec bindings both need CGO.
func (s *Stacks) goContainer() *dagger.Container {
	return s.goContainerFor("")
}

// goContainerFor is goContainer pinned to a platform such as "linux/arm64".
// An empty platform uses the engine's native one.
func (s *Stacks) goContainerFor(platform dagger.Platform) *dagger.Container {
	return dag.Container(dagger.ContainerOpts{Platform: platform}).
		From("golang:1.25-bookworm").
		WithExec([]string{"apt-get", "update"}).
		WithExec([]string{"apt-get", "install", "-y", "gcc", "libsqlite3-dev"}).
		WithEnvVariable("CGO_ENABLED", "1").
		WithEnvVariable("PATH", "/go/bin:$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true}).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build-"+string(platform))).
		WithWorkdir("/src").
		WithDirectory("/src", s.Source)
}

// Test runs the stacks unit tests via "go test"
//
// +check
func (s *Stacks) Test(ctx context.Context) (string, error) {
	return s.goContainer().
		WithExec([]string{"go", "test", "-race", "./..."}).
		Stdout(ctx)
}

// Vet runs "go vet" over every package.
//
// +check
func (s *Stacks) Vet(ctx context.Context) (string, error) {
	return s.goContainer().
		WithExec([]string{"go", "vet", "./..."}).
		Stdout(ctx)
}
