package vybiumzkvm

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// PipelineRequest describes one end-to-end run.
type PipelineRequest struct {
	PackageDir string
	Options    GuestOptions
	Filter     *TargetFilter
	App        AppConfig
	Input      *StdIn
	// VerifyConfig, when set and different from App, derives the verifying
	// key from its own configuration.
	VerifyConfig *AppConfig
}

// PipelineReport summarises a pipeline run.
type PipelineReport struct {
	ImageDigest  Fingerprint
	Commitment   Fingerprint
	KeyDigest    Fingerprint
	Output       PublicOutput
	Cycles       uint64
	ProofSize    int
	Verdict      Verdict
	Durations    map[Stage]time.Duration
	EncodedProof []byte
	ProvedOutput PublicOutput
	VerifyingKey *VerifyingKey
	CommittedExe *CommittedExe
}

// RunPipeline builds, transpiles, executes, commits, generates keys, proves
// and verifies. A rejected proof is reported in the verdict and is not an
// error; any earlier stage failure stops the run.
func (s *Sdk) RunPipeline(ctx context.Context, req PipelineRequest) (*PipelineReport, error) {
	if err := req.App.Validate(); err != nil {
		return nil, stageError(StageConfig, err, "invalid app config")
	}
	report := &PipelineReport{Durations: make(map[Stage]time.Duration)}
	timed := func(stage Stage, fn func() error) error {
		start := time.Now()
		err := fn()
		report.Durations[stage] = time.Since(start)
		return err
	}

	var built *Built
	if err := timed(StageBuild, func() (err error) {
		built, err = s.Build(ctx, req.Options, req.PackageDir, req.Filter)
		return err
	}); err != nil {
		return nil, err
	}
	report.ImageDigest = built.Digest()

	var transpiled *Transpiled
	if err := timed(StageTranspile, func() (err error) {
		transpiled, err = s.Transpile(built, req.App.Vm)
		return err
	}); err != nil {
		return nil, err
	}

	var executed *ExecutionResult
	if err := timed(StageExecute, func() (err error) {
		executed, err = s.Execute(transpiled.Executable(), req.App.Vm, req.Input)
		return err
	}); err != nil {
		return nil, err
	}
	report.Output = executed.Output
	report.Cycles = executed.Cycles

	var committed *Committed
	if err := timed(StageCommit, func() (err error) {
		committed, err = s.Commit(req.App.Params, transpiled)
		return err
	}); err != nil {
		return nil, err
	}
	report.Commitment = committed.Commitment()
	report.CommittedExe = committed.CommittedExe()

	var keys *KeyGenerated
	if err := timed(StageKeygen, func() (err error) {
		keys, err = s.Keygen(req.App)
		return err
	}); err != nil {
		return nil, err
	}
	report.KeyDigest = keys.ProvingKey().Fingerprint()

	var proved *Proved
	if err := timed(StageProve, func() (err error) {
		proved, err = s.Prove(ctx, keys, committed, req.Input)
		return err
	}); err != nil {
		return nil, err
	}
	report.EncodedProof = proved.Bytes()
	report.ProofSize = len(report.EncodedProof)
	report.ProvedOutput = proved.PublicOutput()
	if !bytes.Equal(report.Output, report.ProvedOutput) {
		return nil, stageError(StageProve, fmt.Errorf("proved output %s differs from executed output %s",
			report.ProvedOutput.Hex(), report.Output.Hex()), "inconsistent execution")
	}

	vk := keys.VerifyingKey()
	if v := req.VerifyConfig; v != nil && (v.Params != req.App.Params || !v.Vm.Equal(req.App.Vm)) {
		var verifierKeys *KeyGenerated
		if err := timed(StageKeygen, func() (err error) {
			verifierKeys, err = s.Keygen(*req.VerifyConfig)
			return err
		}); err != nil {
			return nil, err
		}
		vk = verifierKeys.VerifyingKey()
	}
	report.VerifyingKey = vk

	_ = timed(StageVerify, func() error {
		report.Verdict = s.VerifyBytes(vk, report.EncodedProof)
		return nil
	})
	log := s.logger.With().Str("module", "pipeline").Logger()
	log.Info().
		Str("commitment", report.Commitment.Short()).
		Uint64("cycles", report.Cycles).
		Int("proof_bytes", report.ProofSize).
		Str("verdict", report.Verdict.String()).
		Msg("pipeline finished")
	return report, nil
}
