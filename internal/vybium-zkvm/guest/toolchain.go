package guest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrToolchain wraps failures of the compiler toolchain.
var ErrToolchain = errors.New("guest: toolchain failed")

// CompileRequest is what a toolchain needs to produce an image.
type CompileRequest struct {
	Package  string
	Target   Target
	Source   string
	Profile  string
	Features []string
	Env      map[string]string
	WorkDir  string
}

// Toolchain compiles one target into an ELF image.
type Toolchain interface {
	Compile(ctx context.Context, req CompileRequest) ([]byte, error)
}

// AsmToolchain assembles RV32IM sources in process.
type AsmToolchain struct{}

// Compile implements Toolchain.
func (AsmToolchain) Compile(ctx context.Context, req CompileRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := os.ReadFile(req.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolchain, err)
	}

	defines := make(map[string]bool, len(req.Features)+1)
	for _, f := range req.Features {
		defines[f] = true
	}
	if req.Profile == ProfileDebug {
		defines["DEBUG"] = true
	}

	prog, err := Assemble(string(src), defines)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolchain, filepath.Base(req.Source), err)
	}
	return prog.ELF()
}

// CommandToolchain runs an external compiler. The command must write the
// image to the path in VYBIUM_GUEST_OUT.
type CommandToolchain struct {
	Argv []string
}

// Compile implements Toolchain.
func (c CommandToolchain) Compile(ctx context.Context, req CompileRequest) ([]byte, error) {
	if len(c.Argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrToolchain)
	}
	outDir, err := os.MkdirTemp("", "vybium-guest-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolchain, err)
	}
	defer os.RemoveAll(outDir)
	out := filepath.Join(outDir, req.Target.Name+".elf")

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(),
		"VYBIUM_GUEST_SOURCE="+req.Source,
		"VYBIUM_GUEST_OUT="+out,
		"VYBIUM_GUEST_TARGET="+req.Target.Name,
		"VYBIUM_GUEST_PROFILE="+req.Profile,
		"VYBIUM_GUEST_FEATURES="+strings.Join(req.Features, ","),
	)
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrToolchain, c.Argv[0], err, strings.TrimSpace(stderr.String()))
	}
	image, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: command produced no image: %v", ErrToolchain, err)
	}
	return image, nil
}
