package guest

import (
	"bytes"
	"context"
	"debug/elf"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

const fibonacciDir = "../../../guests/fibonacci"

func TestAssembler(t *testing.T) {
	t.Run("Labels_And_Branches", func(t *testing.T) {
		prog, err := Assemble(`
_start:
	li t0, 3
loop:
	addi t0, t0, -1
	bnez t0, loop
	j done
	nop
done:
	ecall
`, nil)
		require.NoError(t, err)
		require.Equal(t, TextBase, prog.Entry)
		require.Equal(t, TextBase+4, prog.Symbols["loop"])
		require.Equal(t, TextBase+20, prog.Symbols["done"])
		require.Len(t, prog.Text, 6)
		require.Equal(t, vm.EncodeB(vm.OpBranch, 1, 5, 0, -4), prog.Text[2])
		require.Equal(t, vm.EncodeJ(vm.OpJal, 0, 8), prog.Text[3])
		require.Equal(t, vm.InstrEcall, prog.Text[5])
	})

	t.Run("Large_Immediates_Expand", func(t *testing.T) {
		prog, err := Assemble("li a0, 0x12345fff\nli a1, -1\n", nil)
		require.NoError(t, err)
		require.Len(t, prog.Text, 3)
		require.Equal(t, vm.EncodeU(vm.OpLui, 10, 0x12346000), prog.Text[0])
		require.Equal(t, vm.EncodeI(vm.OpImm, 10, 0, 10, -1), prog.Text[1])
	})

	t.Run("Data_Section", func(t *testing.T) {
		prog, err := Assemble(".text\nla a0, msg\n.data\nmsg: .byte 1, 2\n.align 2\nval: .word 7\n", nil)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 0, 0, 7, 0, 0, 0}, prog.Data)
		require.Equal(t, DataBase+4, prog.Symbols["val"])
	})

	t.Run("Conditional_Blocks", func(t *testing.T) {
		src := ".ifdef EXTRA\nnop\n.else\nnop\nnop\n.endif\necall\n"
		prog, err := Assemble(src, nil)
		require.NoError(t, err)
		require.Len(t, prog.Text, 3)

		prog, err = Assemble(src, map[string]bool{"EXTRA": true})
		require.NoError(t, err)
		require.Len(t, prog.Text, 2)
	})

	t.Run("Errors", func(t *testing.T) {
		for _, src := range []string{
			"frob a0, a1",
			"addi a0, a1, 5000",
			"add a0, a1",
			"beq a0, a1, nowhere",
			"x:\nx:\nnop",
			".ifdef A\nnop",
			"lw a0, 4",
			"",
		} {
			_, err := Assemble(src, nil)
			require.ErrorIs(t, err, ErrAssembly, "source %q", src)
		}
	})
}

func TestWriteELF(t *testing.T) {
	img, err := WriteELF([]uint32{vm.InstrNop, vm.InstrEcall}, TextBase, []byte{9, 9}, DataBase, TextBase+4)
	require.NoError(t, err)

	f, err := elf.NewFile(bytes.NewReader(img))
	require.NoError(t, err)
	require.Equal(t, elf.ELFCLASS32, f.Class)
	require.Equal(t, elf.EM_RISCV, f.Machine)
	require.Equal(t, uint64(TextBase+4), f.Entry)
	require.Len(t, f.Progs, 2)
	require.Equal(t, elf.PF_R|elf.PF_X, f.Progs[0].Flags)
	require.Equal(t, uint64(DataBase), f.Progs[1].Vaddr)
}

func TestManifestResolve(t *testing.T) {
	m := &Manifest{
		Name:      "pkg",
		Toolchain: ToolchainAsm,
		Targets: []Target{
			{Name: "a", Kind: KindBin, Path: "a.s"},
			{Name: "b", Kind: KindBin, Path: "b.s"},
			{Name: "c", Kind: KindExample, Path: "c.s"},
			{Name: "l", Kind: KindLib, Path: "l.s"},
		},
	}
	require.NoError(t, m.Validate())

	_, err := m.Resolve(nil)
	require.ErrorIs(t, err, ErrAmbiguous)

	tgt, err := m.Resolve(&TargetFilter{Name: "b", Kind: KindBin})
	require.NoError(t, err)
	require.Equal(t, "b.s", tgt.Path)

	tgt, err = m.Resolve(&TargetFilter{Kind: KindExample})
	require.NoError(t, err)
	require.Equal(t, "c", tgt.Name)

	_, err = m.Resolve(&TargetFilter{Name: "missing"})
	require.ErrorIs(t, err, ErrTargetNotFound)

	_, err = m.Resolve(&TargetFilter{Name: "l"})
	require.ErrorIs(t, err, ErrNotExecutable)

	_, err = ParseTargetKind("dylib")
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestBuilder(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	ctx := context.Background()

	t.Run("Fibonacci_Default_Options", func(t *testing.T) {
		img, err := b.Build(ctx, DefaultOptions(), fibonacciDir, nil)
		require.NoError(t, err)
		require.Equal(t, "fibonacci", img.Target)
		require.Equal(t, KindBin, img.Kind)
		require.False(t, img.Digest.IsZero())

		again, err := b.Build(ctx, DefaultOptions(), fibonacciDir, &TargetFilter{Name: "fibonacci", Kind: KindBin})
		require.NoError(t, err)
		require.Equal(t, img.Bytes, again.Bytes)
	})

	t.Run("Debug_Profile_Changes_Image", func(t *testing.T) {
		release, err := b.Build(ctx, DefaultOptions(), fibonacciDir, nil)
		require.NoError(t, err)
		debug, err := b.Build(ctx, Options{Profile: ProfileDebug}, fibonacciDir, nil)
		require.NoError(t, err)
		require.NotEqual(t, release.Digest, debug.Digest)
	})

	t.Run("Writes_Target_Dir", func(t *testing.T) {
		dir := t.TempDir()
		img, err := b.Build(ctx, Options{TargetDir: dir}, fibonacciDir, nil)
		require.NoError(t, err)
		written, err := os.ReadFile(filepath.Join(dir, ProfileRelease, "fibonacci.elf"))
		require.NoError(t, err)
		require.Equal(t, img.Bytes, written)
	})

	t.Run("Failures", func(t *testing.T) {
		_, err := b.Build(ctx, DefaultOptions(), t.TempDir(), nil)
		require.ErrorIs(t, err, ErrManifest)

		_, err = b.Build(ctx, DefaultOptions(), fibonacciDir, &TargetFilter{Name: "fibonacci-abi"})
		require.ErrorIs(t, err, ErrNotExecutable)

		_, err = b.Build(ctx, Options{Profile: "fast"}, fibonacciDir, nil)
		require.ErrorIs(t, err, ErrManifest)
	})

	t.Run("Command_Toolchain", func(t *testing.T) {
		if _, err := exec.LookPath("sh"); err != nil {
			t.Skip("sh not available")
		}
		prog, err := Assemble("_start:\n li a7, 0\n ecall\n", nil)
		require.NoError(t, err)
		img, err := prog.ELF()
		require.NoError(t, err)

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "prebuilt.elf"), img, 0o644))
		manifest := "name: ext\ntoolchain: command\ncommand: [sh, -c, 'cp \"$VYBIUM_GUEST_SOURCE\" \"$VYBIUM_GUEST_OUT\"']\ntargets:\n  - {name: ext, kind: bin, path: prebuilt.elf}\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644))

		built, err := b.Build(ctx, DefaultOptions(), dir, nil)
		require.NoError(t, err)
		require.Equal(t, img, built.Bytes)

		failing := "name: ext\ntoolchain: command\ncommand: [sh, -c, 'echo boom >&2; exit 3']\ntargets:\n  - {name: ext, kind: bin, path: x}\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(failing), 0o644))
		_, err = b.Build(ctx, DefaultOptions(), dir, nil)
		require.ErrorIs(t, err, ErrToolchain)
		require.Contains(t, err.Error(), "boom")
	})
}
