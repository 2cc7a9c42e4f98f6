package vm_test

import (
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/guest"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

const revealSum = `
_start:
	li a7, 2
	ecall
	li a7, 3
	ecall
	mv s0, a0
	ecall
	add a0, s0, a0
	li a7, 1
	ecall
	li a0, 0
	li a7, 0
	ecall
`

func assemble(t *testing.T, src string) []byte {
	t.Helper()
	prog, err := guest.Assemble(src, nil)
	require.NoError(t, err)
	img, err := prog.ELF()
	require.NoError(t, err)
	return img
}

func transpile(t *testing.T, cfg *vm.VmConfig, src string) *vm.Executable {
	t.Helper()
	exe, err := vm.NewTranspiler(cfg.Transpiler(), zerolog.Nop()).Transpile(assemble(t, src))
	require.NoError(t, err)
	return exe
}

func words(vals ...uint32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

func execute(t *testing.T, cfg *vm.VmConfig, exe *vm.Executable, input ...[]byte) (*vm.ExecutionResult, error) {
	t.Helper()
	ex, err := vm.NewExecutor(cfg, zerolog.Nop())
	require.NoError(t, err)
	return ex.Execute(exe, input)
}

func TestVmConfig(t *testing.T) {
	t.Run("Validate", func(t *testing.T) {
		require.ErrorIs(t, vm.NewVmConfig().Validate(), vm.ErrMissingSystem)
		require.ErrorIs(t, vm.NewVmConfig().WithSystem(vm.DefaultSystemConfig()).Validate(), vm.ErrMissingRv32i)
		require.NoError(t, vm.DefaultRv32imConfig().Validate())

		bad := vm.DefaultRv32imConfig().WithSystem(vm.SystemConfig{MaxCycles: 0})
		require.ErrorIs(t, bad.Validate(), vm.ErrInvalidSystemLimit)
	})

	t.Run("Fingerprint_Tracks_Structure", func(t *testing.T) {
		a := vm.DefaultRv32imConfig()
		b := vm.DefaultRv32imConfig()
		require.True(t, a.Equal(b))
		require.True(t, a.Equal(a.Clone()))

		noMul := vm.NewVmConfig().WithSystem(vm.DefaultSystemConfig()).WithRv32i(vm.Rv32iConfig{}).WithIo(vm.IoConfig{})
		require.False(t, a.Equal(noMul))
		require.Equal(t, []string{"system", "rv32i", "io"}, noMul.Extensions())
	})
}

func TestClassify(t *testing.T) {
	add := vm.EncodeR(vm.OpReg, 1, 0, 2, 3, 0)
	mul := vm.EncodeR(vm.OpReg, 1, 0, 2, 3, 1)

	ext, err := vm.Classify(add)
	require.NoError(t, err)
	require.Equal(t, vm.ExtRv32i, ext)

	ext, err = vm.Classify(mul)
	require.NoError(t, err)
	require.Equal(t, vm.ExtRv32m, ext)

	ext, err = vm.Classify(vm.InstrEcall)
	require.NoError(t, err)
	require.Equal(t, vm.ExtSystem, ext)

	_, err = vm.Classify(0xFFFFFFFF)
	require.ErrorIs(t, err, vm.ErrUndecodable)
	_, err = vm.Classify(0)
	require.ErrorIs(t, err, vm.ErrUndecodable)
}

func TestTranspile(t *testing.T) {
	cfg := vm.DefaultRv32imConfig()

	t.Run("Records_Layout", func(t *testing.T) {
		exe := transpile(t, cfg, revealSum)
		require.Equal(t, guest.TextBase, exe.PcBase())
		require.Equal(t, guest.TextBase, exe.PcStart())
		require.Equal(t, cfg.Fingerprint(), exe.ConfigFingerprint())
		require.Greater(t, exe.CodeLen(), 5)
	})

	t.Run("Rejects_Mul_Without_Rv32m", func(t *testing.T) {
		noMul := vm.NewVmConfig().WithSystem(vm.DefaultSystemConfig()).WithRv32i(vm.Rv32iConfig{}).WithIo(vm.IoConfig{})
		img := assemble(t, "_start:\n mul a0, a0, a0\n li a7, 0\n ecall\n")
		_, err := vm.NewTranspiler(noMul.Transpiler(), zerolog.Nop()).Transpile(img)
		require.ErrorIs(t, err, vm.ErrUnsupportedInstruction)

		_, err = vm.NewTranspiler(cfg.Transpiler(), zerolog.Nop()).Transpile(img)
		require.NoError(t, err)
	})

	t.Run("Rejects_Malformed_Images", func(t *testing.T) {
		tr := vm.NewTranspiler(cfg.Transpiler(), zerolog.Nop())
		_, err := tr.Transpile([]byte("not an elf"))
		require.ErrorIs(t, err, vm.ErrMalformedImage)

		img, err := guest.WriteELF([]uint32{0xFFFFFFFF}, guest.TextBase, nil, guest.DataBase, guest.TextBase)
		require.NoError(t, err)
		_, err = tr.Transpile(img)
		require.ErrorIs(t, err, vm.ErrUnsupportedInstruction)
	})
}

func TestExecute(t *testing.T) {
	cfg := vm.DefaultRv32imConfig()

	t.Run("Deterministic_Output", func(t *testing.T) {
		exe := transpile(t, cfg, revealSum)
		first, err := execute(t, cfg, exe, words(40, 2))
		require.NoError(t, err)
		require.Equal(t, words(42), first.PublicOutput)

		second, err := execute(t, cfg, exe, words(40, 2))
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("Arithmetic_And_Memory", func(t *testing.T) {
		src := `
_start:
	li t0, -7
	li t1, 3
	div a0, t0, t1
	rem a1, t0, t1
	li t2, 0x12345678
	la t3, buf
	sw t2, 0(t3)
	lbu a2, 1(t3)
	lh a3, 2(t3)
	srai a4, t0, 1
	sltu a5, t1, t0
	li a7, 1
	ecall
	mv a0, a1
	ecall
	mv a0, a2
	ecall
	mv a0, a3
	ecall
	mv a0, a4
	ecall
	mv a0, a5
	ecall
	li a0, 0
	li a7, 0
	ecall
	.data
buf:
	.word 0
`
		exe := transpile(t, cfg, src)
		res, err := execute(t, cfg, exe)
		require.NoError(t, err)
		minusTwo, minusOne, minusFour := int32(-2), int32(-1), int32(-4)
		require.Equal(t, words(uint32(minusTwo), uint32(minusOne), 0x56, 0x1234, uint32(minusFour), 1), res.PublicOutput)
	})

	t.Run("Input_Underrun_Traps", func(t *testing.T) {
		exe := transpile(t, cfg, revealSum)
		_, err := execute(t, cfg, exe)
		var trap *vm.Trap
		require.ErrorAs(t, err, &trap)
		require.ErrorIs(t, err, vm.ErrInputUnderrun)

		_, err = execute(t, cfg, exe, words(1))
		require.ErrorIs(t, err, vm.ErrInputUnderrun)
	})

	t.Run("Non_Zero_Exit_Traps", func(t *testing.T) {
		exe := transpile(t, cfg, "_start:\n li a0, 3\n li a7, 0\n ecall\n")
		_, err := execute(t, cfg, exe)
		require.ErrorIs(t, err, vm.ErrNonZeroExit)
	})

	t.Run("Breakpoint_Traps", func(t *testing.T) {
		exe := transpile(t, cfg, "_start:\n ebreak\n")
		_, err := execute(t, cfg, exe)
		require.ErrorIs(t, err, vm.ErrBreakpoint)
	})

	t.Run("Io_Disabled_Traps", func(t *testing.T) {
		noIo := vm.NewVmConfig().WithSystem(vm.DefaultSystemConfig()).WithRv32i(vm.Rv32iConfig{}).WithRv32m(vm.Rv32mConfig{})
		exe := transpile(t, noIo, revealSum)
		_, err := execute(t, noIo, exe, words(1, 2))
		require.ErrorIs(t, err, vm.ErrIoDisabled)
	})

	t.Run("Cycle_Limit", func(t *testing.T) {
		limited := vm.DefaultRv32imConfig().WithSystem(vm.SystemConfig{MaxCycles: 100, MaxPublicValues: 8})
		exe := transpile(t, limited, "_start:\n j _start\n")
		_, err := execute(t, limited, exe)
		require.ErrorIs(t, err, vm.ErrCycleLimit)
	})

	t.Run("Public_Output_Limit", func(t *testing.T) {
		limited := vm.DefaultRv32imConfig().WithSystem(vm.SystemConfig{MaxCycles: 100, MaxPublicValues: 4})
		exe := transpile(t, limited, "_start:\n li a7, 1\n ecall\n ecall\n li a7, 0\n ecall\n")
		_, err := execute(t, limited, exe)
		require.ErrorIs(t, err, vm.ErrPublicOutputLimit)
	})

	t.Run("Config_Mismatch", func(t *testing.T) {
		exe := transpile(t, cfg, revealSum)
		other := vm.DefaultRv32imConfig().WithSystem(vm.SystemConfig{MaxCycles: 1000, MaxPublicValues: 8})
		_, err := execute(t, other, exe, words(1, 2))
		require.ErrorIs(t, err, vm.ErrConfigMismatch)
	})
}

func TestTraceReplay(t *testing.T) {
	cfg := vm.DefaultRv32imConfig()
	exe := transpile(t, cfg, revealSum)
	ex, err := vm.NewExecutor(cfg, zerolog.Nop())
	require.NoError(t, err)

	trace, err := ex.Trace(exe, [][]byte{words(5, 6)})
	require.NoError(t, err)
	public := trace.Result.PublicOutput
	require.Equal(t, words(11), public)

	rows := trace.Padded(16)
	require.True(t, rows[len(trace.Steps)].Halted)

	t.Run("Every_Row_Replays", func(t *testing.T) {
		for i := 0; i < len(rows)-1; i++ {
			out, err := vm.ReplayStep(cfg, rows[i], public)
			require.NoError(t, err, "row %d", i)
			require.NoError(t, vm.CheckTransition(rows[i], rows[i+1], out), "row %d", i)
		}
	})

	t.Run("Every_Row_Passes_Public_Checks", func(t *testing.T) {
		for i := 0; i < len(rows)-1; i++ {
			require.NoError(t, vm.CheckPublicStep(cfg, rows[i].Public()), "row %d", i)
			require.NoError(t, vm.CheckPublicTransition(rows[i].Public(), rows[i+1].Public()), "row %d", i)
		}
	})

	t.Run("Public_Columns_Roundtrip", func(t *testing.T) {
		cols := rows[3].Columns()
		back, ok := vm.PublicStepFromColumns(cols[:vm.NumPublicColumns])
		require.True(t, ok)
		require.Equal(t, rows[3].Public(), back)

		_, ok = vm.PublicStepFromColumns(cols)
		require.False(t, ok)
	})

	t.Run("Public_Checks_Reject", func(t *testing.T) {
		skip := rows[0].Public()
		skip.NextPC += 4
		require.ErrorIs(t, vm.CheckPublicStep(cfg, skip), vm.ErrReplayMismatch)

		busy := rows[len(rows)-1].Public()
		busy.Instr = vm.InstrNop
		require.ErrorIs(t, vm.CheckPublicStep(cfg, busy), vm.ErrReplayMismatch)

		counted := rows[1].Public()
		counted.OutCount += 4
		require.ErrorIs(t, vm.CheckPublicTransition(rows[0].Public(), counted), vm.ErrReplayMismatch)

		last := len(trace.Steps) - 1
		running := rows[last+1].Public()
		running.Halted = false
		require.ErrorIs(t, vm.CheckPublicTransition(rows[last].Public(), running), vm.ErrReplayMismatch)
	})

	t.Run("Tampered_Register_Rejected", func(t *testing.T) {
		row := rows[4]
		row.RegsAfter[9]++
		_, err := vm.ReplayStep(cfg, row, public)
		require.ErrorIs(t, err, vm.ErrReplayMismatch)
	})

	t.Run("Tampered_Reveal_Rejected", func(t *testing.T) {
		wrong := words(12)
		for i := range trace.Steps {
			if rows[i].Instr == vm.InstrEcall && rows[i].RegsBefore[vm.RegA7] == vm.EcallReveal {
				_, err := vm.ReplayStep(cfg, rows[i], wrong)
				require.ErrorIs(t, err, vm.ErrReplayMismatch)
				return
			}
		}
		t.Fatal("no reveal step found")
	})

	t.Run("Broken_Transition_Rejected", func(t *testing.T) {
		out, err := vm.ReplayStep(cfg, rows[0], public)
		require.NoError(t, err)
		next := rows[1]
		next.PC += 4
		require.ErrorIs(t, vm.CheckTransition(rows[0], next, out), vm.ErrReplayMismatch)
	})
}
