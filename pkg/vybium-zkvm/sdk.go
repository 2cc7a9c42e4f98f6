package vybiumzkvm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/guest"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/protocols"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/telemetry"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

// Sdk drives the pipeline stages. It holds no per-run state; one Sdk may be
// used from several goroutines.
type Sdk struct {
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	builder  *guest.Builder
	prover   *protocols.Prover
	verifier *protocols.Verifier
}

// Option configures an Sdk.
type Option func(*Sdk)

// WithLogger sets the root logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sdk) { s.logger = logger }
}

// WithMetrics records stage metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Sdk) { s.metrics = m }
}

// NewSdk creates an Sdk.
func NewSdk(opts ...Option) *Sdk {
	s := &Sdk{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.builder = guest.NewBuilder(s.logger)
	s.prover = protocols.NewProver(s.logger)
	s.verifier = protocols.NewVerifier(s.logger)
	return s
}

// Built is a compiled guest image.
type Built struct {
	image *guest.Image
}

// Bytes returns the ELF image.
func (b *Built) Bytes() []byte { return append([]byte(nil), b.image.Bytes...) }

// Target is the name of the compiled target.
func (b *Built) Target() string { return b.image.Target }

// Digest identifies the image.
func (b *Built) Digest() Fingerprint { return b.image.Digest }

// BuiltFromImage wraps an ELF image compiled elsewhere.
func BuiltFromImage(target string, elf []byte) *Built {
	img := &guest.Image{Target: target, Kind: guest.KindBin, Bytes: append([]byte(nil), elf...)}
	img.Digest = guest.ImageDigest(img.Bytes)
	return &Built{image: img}
}

// Transpiled is a VM executable together with the configuration it was
// transpiled under.
type Transpiled struct {
	exe    *vm.Executable
	config *VmConfig
}

// Executable returns the VM executable.
func (t *Transpiled) Executable() *Executable { return t.exe }

// Config returns a copy of the VM configuration.
func (t *Transpiled) Config() *VmConfig { return t.config.Clone() }

// TranspiledFrom pairs a loaded executable with its configuration.
func TranspiledFrom(exe *Executable, cfg *VmConfig) (*Transpiled, error) {
	if exe == nil || cfg == nil || exe.ConfigFingerprint() != cfg.Fingerprint() {
		return nil, stageError(StageTranspile, vm.ErrConfigMismatch, "executable does not match vm config")
	}
	return &Transpiled{exe: exe, config: cfg.Clone()}, nil
}

// Committed is a committed executable.
type Committed struct {
	committed *CommittedExe
}

// CommittedExe returns the underlying commitment.
func (c *Committed) CommittedExe() *CommittedExe { return c.committed }

// Commitment is the binding digest.
func (c *Committed) Commitment() Fingerprint { return c.committed.Commitment() }

// KeyGenerated holds a proving key and its verifying key.
type KeyGenerated struct {
	pk *ProvingKey
}

// ProvingKey returns the shared, immutable proving key.
func (k *KeyGenerated) ProvingKey() *ProvingKey { return k.pk }

// VerifyingKey returns the paired verifying key.
func (k *KeyGenerated) VerifyingKey() *VerifyingKey { return k.pk.VerifyingKey() }

// KeysFrom wraps a proving key loaded elsewhere.
func KeysFrom(pk *ProvingKey) *KeyGenerated { return &KeyGenerated{pk: pk} }

// Proved is a proof and the output it attests to.
type Proved struct {
	proof   *Proof
	encoded []byte
}

// Proof returns the proof.
func (p *Proved) Proof() *Proof { return p.proof }

// Bytes returns the encoded proof.
func (p *Proved) Bytes() []byte { return append([]byte(nil), p.encoded...) }

// PublicOutput is the output embedded in the proof.
func (p *Proved) PublicOutput() PublicOutput { return p.proof.PublicOutput() }

// ExecutionResult is the outcome of unproven execution.
type ExecutionResult struct {
	Output PublicOutput
	Cycles uint64
}

// Build compiles a guest target from the package at dir.
func (s *Sdk) Build(ctx context.Context, opts GuestOptions, dir string, filter *TargetFilter) (*Built, error) {
	var img *guest.Image
	err := s.run(StageBuild, func() (err error) {
		img, err = s.builder.Build(ctx, opts, dir, filter)
		return err
	})
	if err != nil {
		return nil, stageError(StageBuild, err, "cannot build guest in %s", dir)
	}
	return &Built{image: img}, nil
}

// Transpile converts a built image into a VM executable for cfg.
func (s *Sdk) Transpile(built *Built, cfg *VmConfig) (*Transpiled, error) {
	if built == nil {
		return nil, stageError(StageTranspile, errors.New("no image"), "cannot transpile")
	}
	if cfg == nil {
		return nil, stageError(StageTranspile, vm.ErrMissingSystem, "cannot transpile")
	}
	if err := cfg.Validate(); err != nil {
		return nil, stageError(StageTranspile, err, "invalid vm config")
	}
	var exe *vm.Executable
	err := s.run(StageTranspile, func() (err error) {
		exe, err = vm.NewTranspiler(cfg.Transpiler(), s.logger).Transpile(built.image.Bytes)
		return err
	})
	if err != nil {
		return nil, stageError(StageTranspile, err, "cannot transpile %s", built.image.Target)
	}
	return &Transpiled{exe: exe, config: cfg.Clone()}, nil
}

// Execute runs exe under cfg without proving.
func (s *Sdk) Execute(exe *Executable, cfg *VmConfig, input *StdIn) (*ExecutionResult, error) {
	if exe == nil || cfg == nil {
		return nil, stageError(StageExecute, vm.ErrMalformedExecutable, "missing executable or vm config")
	}
	var result *vm.ExecutionResult
	err := s.run(StageExecute, func() error {
		executor, err := vm.NewExecutor(cfg, s.logger)
		if err != nil {
			return err
		}
		result, err = executor.Execute(exe, input.Chunks())
		return err
	})
	if err != nil {
		return nil, stageError(StageExecute, err, "execution failed")
	}
	s.metrics.SetCycles(result.Cycles)
	s.logger.Info().Uint64("cycles", result.Cycles).Str("output", PublicOutput(result.PublicOutput).Hex()).Msg("executed")
	return &ExecutionResult{Output: result.PublicOutput, Cycles: result.Cycles}, nil
}

// Commit computes the commitment of a transpiled executable under params.
func (s *Sdk) Commit(params ProofSystemParams, t *Transpiled) (*Committed, error) {
	if t == nil {
		return nil, stageError(StageCommit, errors.New("no executable"), "cannot commit")
	}
	var c *protocols.CommittedExe
	err := s.run(StageCommit, func() (err error) {
		c, err = protocols.Commit(params, t.exe)
		return err
	})
	if err != nil {
		return nil, stageError(StageCommit, err, "cannot commit executable")
	}
	s.logger.Info().Str("module", "commit").Str("commitment", c.Commitment().Short()).Str("params", params.String()).Msg("executable committed")
	return &Committed{committed: c}, nil
}

// Keygen derives the key pair for cfg. The result is immutable and meant to
// be shared.
func (s *Sdk) Keygen(cfg AppConfig) (*KeyGenerated, error) {
	var pk *protocols.ProvingKey
	err := s.run(StageKeygen, func() (err error) {
		pk, err = protocols.Keygen(cfg)
		return err
	})
	if err != nil {
		return nil, stageError(StageKeygen, err, "cannot generate keys")
	}
	s.logger.Info().Str("module", "keygen").Str("key", pk.Fingerprint().Short()).Str("config", describeApp(cfg)).Msg("keys generated")
	return &KeyGenerated{pk: pk}, nil
}

// Prove proves execution of the committed executable on input.
func (s *Sdk) Prove(ctx context.Context, keys *KeyGenerated, c *Committed, input *StdIn) (*Proved, error) {
	if keys == nil || c == nil {
		return nil, stageError(StageProve, protocols.ErrProving, "missing keys or commitment")
	}
	var proved *Proved
	err := s.run(StageProve, func() error {
		proof, err := s.prover.Prove(ctx, keys.pk, c.committed, input.Chunks())
		if err != nil {
			return err
		}
		encoded, err := proof.MarshalBinary()
		if err != nil {
			return err
		}
		proved = &Proved{proof: proof, encoded: encoded}
		return nil
	})
	if err != nil {
		return nil, stageError(StageProve, err, "cannot prove execution")
	}
	s.metrics.SetProofSize(len(proved.encoded))
	return proved, nil
}

// Verify checks proof against vk. Rejection is a verdict, not an error.
func (s *Sdk) Verify(vk *VerifyingKey, proof *Proof) Verdict {
	var verdict protocols.Verdict
	_ = s.run(StageVerify, func() error {
		verdict = s.verifier.Verify(vk, proof)
		return nil
	})
	return verdictFrom(verdict)
}

// VerifyBytes decodes and verifies an encoded proof.
func (s *Sdk) VerifyBytes(vk *VerifyingKey, encoded []byte) Verdict {
	var verdict protocols.Verdict
	_ = s.run(StageVerify, func() error {
		verdict = s.verifier.VerifyBytes(vk, encoded)
		return nil
	})
	return verdictFrom(verdict)
}

// VerifyCommitted additionally requires the proof to be about c.
func (s *Sdk) VerifyCommitted(vk *VerifyingKey, c *Committed, proof *Proof) Verdict {
	if proof != nil && c != nil && proof.ExeCommitment() != c.Commitment() {
		return Verdict{
			Reason: ReasonCommitmentMismatch,
			Detail: "proof is about executable " + proof.ExeCommitment().Short() + ", expected " + c.Commitment().Short(),
		}
	}
	return s.Verify(vk, proof)
}

func (s *Sdk) run(stage Stage, fn func() error) error {
	start := time.Now()
	s.logger.Debug().Str("stage", string(stage)).Msg("stage started")
	err := fn()
	elapsed := time.Since(start)
	s.metrics.ObserveStage(string(stage), elapsed, err)
	if err != nil {
		s.logger.Error().Err(err).Str("stage", string(stage)).Dur("elapsed", elapsed).Msg("stage failed")
		return err
	}
	s.logger.Debug().Str("stage", string(stage)).Dur("elapsed", elapsed).Msg("stage finished")
	return nil
}

// CommittedFrom wraps a committed executable loaded elsewhere.
func CommittedFrom(c *CommittedExe) *Committed { return &Committed{committed: c} }

// DecodeProof decodes a proof and checks its seal. It does not verify.
func DecodeProof(encoded []byte) (*Proof, error) {
	proof, err := protocols.UnmarshalProof(encoded)
	if err != nil {
		return nil, stageError(StageVerify, err, "cannot decode proof")
	}
	return proof, nil
}
