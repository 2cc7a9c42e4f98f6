package vybiumzkvm_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/telemetry"
	zkvm "github.com/vybium/vybium-zkvm/pkg/vybium-zkvm"
)

const fibonacciDir = "../../guests/fibonacci"

var fibonacciOutput = zkvm.PublicOutput{0xe9, 0x00, 0x00, 0x00, 0x10, 0x83, 0x00, 0x00}

type fibonacciInput struct{ a, b uint64 }

func (in fibonacciInput) EncodeInput(w *zkvm.InputWriter) error {
	w.WriteU64(in.a)
	w.WriteU64(in.b)
	return nil
}

func stdin(t *testing.T) *zkvm.StdIn {
	t.Helper()
	in := zkvm.NewStdIn()
	require.NoError(t, in.Write(fibonacciInput{1, 2}))
	return in
}

type pipeline struct {
	sdk        *zkvm.Sdk
	app        zkvm.AppConfig
	transpiled *zkvm.Transpiled
	committed  *zkvm.Committed
	keys       *zkvm.KeyGenerated
}

func setup(t *testing.T, sdk *zkvm.Sdk) pipeline {
	t.Helper()
	ctx := context.Background()
	app := zkvm.NewAppConfig(zkvm.DefaultParams(), zkvm.DefaultRv32imConfig())

	built, err := sdk.Build(ctx, zkvm.DefaultGuestOptions(), fibonacciDir, nil)
	require.NoError(t, err)
	transpiled, err := sdk.Transpile(built, app.Vm)
	require.NoError(t, err)
	committed, err := sdk.Commit(app.Params, transpiled)
	require.NoError(t, err)
	keys, err := sdk.Keygen(app)
	require.NoError(t, err)
	return pipeline{sdk: sdk, app: app, transpiled: transpiled, committed: committed, keys: keys}
}

func TestFibonacci(t *testing.T) {
	metrics := telemetry.NewMetrics()
	sdk := zkvm.NewSdk(zkvm.WithMetrics(metrics))
	p := setup(t, sdk)
	ctx := context.Background()

	t.Run("Execute", func(t *testing.T) {
		result, err := sdk.Execute(p.transpiled.Executable(), p.app.Vm, stdin(t))
		require.NoError(t, err)
		assert.Equal(t, fibonacciOutput, result.Output)
		assert.Equal(t, []uint32{233, 33552}, result.Output.Words())
		assert.NotZero(t, result.Cycles)
	})

	proved, err := sdk.Prove(ctx, p.keys, p.committed, stdin(t))
	require.NoError(t, err)

	t.Run("Accept", func(t *testing.T) {
		assert.Equal(t, fibonacciOutput, proved.PublicOutput())
		assert.Equal(t, p.committed.Commitment(), proved.Proof().ExeCommitment())

		verdict := sdk.Verify(p.keys.VerifyingKey(), proved.Proof())
		assert.True(t, verdict.Accepted, verdict.Detail)
		assert.NoError(t, verdict.Err())

		verdict = sdk.VerifyBytes(p.keys.VerifyingKey(), proved.Bytes())
		assert.True(t, verdict.Accepted, verdict.Detail)

		verdict = sdk.VerifyCommitted(p.keys.VerifyingKey(), p.committed, proved.Proof())
		assert.True(t, verdict.Accepted, verdict.Detail)

		assert.Equal(t, float64(len(proved.Bytes())), testutil.ToFloat64(metrics.ProofSize()))
	})

	t.Run("Wrong_Verifying_Key", func(t *testing.T) {
		other, err := sdk.Keygen(zkvm.NewAppConfig(zkvm.StandardParams(100, 4), zkvm.DefaultRv32imConfig()))
		require.NoError(t, err)
		verdict := sdk.Verify(other.VerifyingKey(), proved.Proof())
		assert.False(t, verdict.Accepted)
		assert.Equal(t, zkvm.ReasonKeyMismatch, verdict.Reason)
		assert.ErrorIs(t, verdict.Err(), zkvm.ErrVerificationReject)
	})

	t.Run("Tampered", func(t *testing.T) {
		encoded := proved.Bytes()
		for _, at := range []int{0, len(encoded) / 3, len(encoded) / 2, len(encoded) - 1} {
			tampered := append([]byte(nil), encoded...)
			tampered[at] ^= 0x01
			verdict := sdk.VerifyBytes(p.keys.VerifyingKey(), tampered)
			assert.False(t, verdict.Accepted, "flip at %d", at)
		}
		verdict := sdk.VerifyBytes(p.keys.VerifyingKey(), encoded[:len(encoded)/2])
		assert.Equal(t, zkvm.ReasonMalformed, verdict.Reason)
	})

	t.Run("Other_Executable", func(t *testing.T) {
		add, err := sdk.Build(ctx, zkvm.DefaultGuestOptions(), fibonacciDir, &zkvm.TargetFilter{Name: "fibonacci-add"})
		require.NoError(t, err)
		transpiled, err := sdk.Transpile(add, p.app.Vm)
		require.NoError(t, err)
		committed, err := sdk.Commit(p.app.Params, transpiled)
		require.NoError(t, err)
		require.NotEqual(t, p.committed.Commitment(), committed.Commitment())

		verdict := sdk.VerifyCommitted(p.keys.VerifyingKey(), committed, proved.Proof())
		assert.Equal(t, zkvm.ReasonCommitmentMismatch, verdict.Reason)
	})
}

func TestProveFailures(t *testing.T) {
	sdk := zkvm.NewSdk()
	p := setup(t, sdk)
	ctx := context.Background()

	t.Run("Params_Mismatch", func(t *testing.T) {
		committed, err := sdk.Commit(zkvm.StandardParams(100, 4), p.transpiled)
		require.NoError(t, err)
		_, err = sdk.Prove(ctx, p.keys, committed, stdin(t))
		assert.ErrorIs(t, err, zkvm.ErrProving)
	})

	t.Run("Trap", func(t *testing.T) {
		_, err := sdk.Prove(ctx, p.keys, p.committed, zkvm.NewStdIn())
		assert.ErrorIs(t, err, zkvm.ErrProving)
	})

	t.Run("Missing_Inputs", func(t *testing.T) {
		_, err := sdk.Prove(ctx, nil, p.committed, stdin(t))
		assert.ErrorIs(t, err, zkvm.ErrProving)
	})

	t.Run("Cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := sdk.Prove(cancelled, p.keys, p.committed, stdin(t))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStageFailures(t *testing.T) {
	metrics := telemetry.NewMetrics()
	sdk := zkvm.NewSdk(zkvm.WithMetrics(metrics))
	ctx := context.Background()

	t.Run("Build", func(t *testing.T) {
		_, err := sdk.Build(ctx, zkvm.DefaultGuestOptions(), t.TempDir(), nil)
		assert.ErrorIs(t, err, zkvm.ErrBuild)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failures("build")))
	})

	t.Run("Transpile_Disabled_Extension", func(t *testing.T) {
		built, err := sdk.Build(ctx, zkvm.DefaultGuestOptions(), fibonacciDir, nil)
		require.NoError(t, err)
		noMul := zkvm.NewVmConfig().
			WithSystem(zkvm.DefaultSystemConfig()).
			WithRv32i(zkvm.Rv32iConfig{}).
			WithIo(zkvm.IoConfig{})
		_, err = sdk.Transpile(built, noMul)
		assert.ErrorIs(t, err, zkvm.ErrTranspile)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failures("transpile")))
	})

	t.Run("Transpile_Garbage", func(t *testing.T) {
		_, err := sdk.Transpile(zkvm.BuiltFromImage("junk", []byte("not an elf")), zkvm.DefaultRv32imConfig())
		assert.ErrorIs(t, err, zkvm.ErrTranspile)
	})

	t.Run("Execute_Underrun", func(t *testing.T) {
		built, err := sdk.Build(ctx, zkvm.DefaultGuestOptions(), fibonacciDir, nil)
		require.NoError(t, err)
		transpiled, err := sdk.Transpile(built, zkvm.DefaultRv32imConfig())
		require.NoError(t, err)
		_, err = sdk.Execute(transpiled.Executable(), transpiled.Config(), nil)
		assert.ErrorIs(t, err, zkvm.ErrExecution)
	})

	t.Run("Keygen", func(t *testing.T) {
		_, err := sdk.Keygen(zkvm.NewAppConfig(zkvm.StandardParams(100, 0), zkvm.DefaultRv32imConfig()))
		assert.ErrorIs(t, err, zkvm.ErrKeygen)
	})
}

func TestConcurrentProving(t *testing.T) {
	sdk := zkvm.NewSdk()
	p := setup(t, sdk)

	const provers = 3
	inputs := make([]*zkvm.StdIn, provers)
	for i := range inputs {
		inputs[i] = stdin(t)
	}
	proofs := make([][]byte, provers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < provers; i++ {
		g.Go(func() error {
			proved, err := sdk.Prove(ctx, p.keys, p.committed, inputs[i])
			if err != nil {
				return err
			}
			proofs[i] = proved.Bytes()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := range proofs {
		verdict := sdk.VerifyBytes(p.keys.VerifyingKey(), proofs[i])
		assert.True(t, verdict.Accepted, verdict.Detail)
	}
	// Every proof salts its trace afresh.
	for i := 1; i < provers; i++ {
		assert.NotEqual(t, proofs[0], proofs[i])
	}
}

func TestRunPipeline(t *testing.T) {
	sdk := zkvm.NewSdk()
	ctx := context.Background()
	app := zkvm.NewAppConfig(zkvm.DefaultParams(), zkvm.DefaultRv32imConfig())

	t.Run("Accept", func(t *testing.T) {
		report, err := sdk.RunPipeline(ctx, zkvm.PipelineRequest{
			PackageDir: fibonacciDir,
			Options:    zkvm.DefaultGuestOptions(),
			App:        app,
			Input:      stdin(t),
		})
		require.NoError(t, err)
		assert.True(t, report.Verdict.Accepted, report.Verdict.Detail)
		assert.Equal(t, fibonacciOutput, report.Output)
		assert.Equal(t, report.ProofSize, len(report.EncodedProof))
		assert.False(t, report.Commitment.IsZero())
		assert.Contains(t, report.Durations, zkvm.StageProve)
	})

	t.Run("Reject_Is_Not_An_Error", func(t *testing.T) {
		other := zkvm.NewAppConfig(zkvm.StandardParams(100, 4), zkvm.DefaultRv32imConfig())
		report, err := sdk.RunPipeline(ctx, zkvm.PipelineRequest{
			PackageDir:   fibonacciDir,
			App:          app,
			Input:        stdin(t),
			VerifyConfig: &other,
		})
		require.NoError(t, err)
		assert.False(t, report.Verdict.Accepted)
		assert.Equal(t, zkvm.ReasonKeyMismatch, report.Verdict.Reason)
	})

	t.Run("Same_Verify_Config_Reuses_Keys", func(t *testing.T) {
		metrics := telemetry.NewMetrics()
		counted := zkvm.NewSdk(zkvm.WithMetrics(metrics))
		same := zkvm.NewAppConfig(zkvm.DefaultParams(), zkvm.DefaultRv32imConfig())
		report, err := counted.RunPipeline(ctx, zkvm.PipelineRequest{
			PackageDir:   fibonacciDir,
			App:          app,
			Input:        stdin(t),
			VerifyConfig: &same,
		})
		require.NoError(t, err)
		assert.True(t, report.Verdict.Accepted, report.Verdict.Detail)

		path := filepath.Join(t.TempDir(), "metrics.prom")
		require.NoError(t, metrics.WriteTextfile(path))
		text, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(text), `vybium_zkvm_stage_duration_seconds_count{stage="keygen"} 1`)
	})

	t.Run("Stage_Failure", func(t *testing.T) {
		_, err := sdk.RunPipeline(ctx, zkvm.PipelineRequest{
			PackageDir: fibonacciDir,
			App:        app,
			Input:      zkvm.NewStdIn(),
		})
		assert.ErrorIs(t, err, zkvm.ErrExecution)
	})

	t.Run("Invalid_Config", func(t *testing.T) {
		_, err := sdk.RunPipeline(ctx, zkvm.PipelineRequest{
			PackageDir: fibonacciDir,
			App:        zkvm.NewAppConfig(zkvm.DefaultParams(), zkvm.NewVmConfig()),
		})
		assert.ErrorIs(t, err, zkvm.ErrInvalidConfig)
	})
}
