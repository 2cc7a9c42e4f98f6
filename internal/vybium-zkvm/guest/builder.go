package guest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
)

// Build profiles.
const (
	ProfileRelease = "release"
	ProfileDebug   = "debug"
)

// Options controls how a guest target is compiled.
type Options struct {
	Profile   string
	Features  []string
	TargetDir string
	Env       map[string]string
}

// DefaultOptions builds in release mode with no features.
func DefaultOptions() Options {
	return Options{Profile: ProfileRelease}
}

// Image is a compiled guest binary.
type Image struct {
	Package string
	Target  string
	Kind    TargetKind
	Profile string
	Bytes   []byte
	Digest  core.Fingerprint
}

// Builder resolves guest targets and drives the toolchain.
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{logger: logger.With().Str("module", "guest").Logger()}
}

// Build compiles the target selected by filter in the guest package at dir.
func (b *Builder) Build(ctx context.Context, opts Options, dir string, filter *TargetFilter) (*Image, error) {
	if opts.Profile == "" {
		opts.Profile = ProfileRelease
	}
	if opts.Profile != ProfileRelease && opts.Profile != ProfileDebug {
		return nil, fmt.Errorf("%w: unknown profile %q", ErrManifest, opts.Profile)
	}
	if filter != nil && filter.Kind != "" {
		if _, err := ParseTargetKind(string(filter.Kind)); err != nil {
			return nil, err
		}
	}

	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	target, err := manifest.Resolve(filter)
	if err != nil {
		return nil, err
	}

	var tc Toolchain = AsmToolchain{}
	if manifest.Toolchain == ToolchainCommand {
		tc = CommandToolchain{Argv: manifest.Command}
	}

	source := filepath.Join(dir, target.Path)
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}

	b.logger.Debug().
		Str("package", manifest.Name).
		Str("target", target.Name).
		Str("kind", string(target.Kind)).
		Str("toolchain", manifest.Toolchain).
		Str("profile", opts.Profile).
		Msg("compiling guest")

	bin, err := tc.Compile(ctx, CompileRequest{
		Package:  manifest.Name,
		Target:   target,
		Source:   source,
		Profile:  opts.Profile,
		Features: opts.Features,
		Env:      opts.Env,
		WorkDir:  dir,
	})
	if err != nil {
		return nil, err
	}

	img := &Image{
		Package: manifest.Name,
		Target:  target.Name,
		Kind:    target.Kind,
		Profile: opts.Profile,
		Bytes:   bin,
		Digest:  ImageDigest(bin),
	}

	if opts.TargetDir != "" {
		outDir := filepath.Join(opts.TargetDir, opts.Profile)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrToolchain, err)
		}
		if err := os.WriteFile(filepath.Join(outDir, target.Name+".elf"), bin, 0o644); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrToolchain, err)
		}
	}

	b.logger.Info().
		Str("target", target.Name).
		Int("bytes", len(bin)).
		Str("digest", img.Digest.Short()).
		Msg("guest built")
	return img, nil
}

// ImageDigest identifies a compiled guest image.
func ImageDigest(bin []byte) core.Fingerprint {
	return core.Seal("vybium-zkvm/guest-image/v1", bin)
}
