package protocols

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/utils"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

// RejectReason classifies a rejected proof.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonMalformed
	ReasonKeyMismatch
	ReasonCommitmentMismatch
	ReasonCryptographicFailure
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMalformed:
		return "malformed proof"
	case ReasonKeyMismatch:
		return "verifying key mismatch"
	case ReasonCommitmentMismatch:
		return "commitment mismatch"
	case ReasonCryptographicFailure:
		return "cryptographic check failed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Verdict is the outcome of verification. There is no partial acceptance.
type Verdict struct {
	Accepted bool
	Reason   RejectReason
	Detail   string
}

// Accept is the accepting verdict.
func Accept() Verdict {
	return Verdict{Accepted: true}
}

func reject(reason RejectReason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (v Verdict) String() string {
	if v.Accepted {
		return "accept"
	}
	return fmt.Sprintf("reject: %s: %s", v.Reason, v.Detail)
}

// Verifier checks proofs. It is stateless.
type Verifier struct {
	logger zerolog.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(logger zerolog.Logger) *Verifier {
	return &Verifier{logger: logger.With().Str("module", "verifier").Logger()}
}

// VerifyBytes decodes and verifies an encoded proof.
func (v *Verifier) VerifyBytes(vk *VerifyingKey, encoded []byte) Verdict {
	proof, err := UnmarshalProof(encoded)
	if err != nil {
		return v.done(reject(ReasonMalformed, "%v", err))
	}
	return v.Verify(vk, proof)
}

// Verify checks proof against vk.
func (v *Verifier) Verify(vk *VerifyingKey, proof *Proof) Verdict {
	if vk == nil {
		return v.done(reject(ReasonKeyMismatch, "missing verifying key"))
	}
	if proof == nil {
		return v.done(reject(ReasonMalformed, "missing proof"))
	}
	return v.done(v.verify(vk, proof))
}

func (v *Verifier) done(verdict Verdict) Verdict {
	if verdict.Accepted {
		v.logger.Info().Msg("proof accepted")
	} else {
		v.logger.Info().Str("reason", verdict.Reason.String()).Str("detail", verdict.Detail).Msg("proof rejected")
	}
	return verdict
}

func (v *Verifier) verify(vk *VerifyingKey, proof *Proof) Verdict {
	params := vk.params
	if err := proof.Claim.Validate(); err != nil {
		return reject(ReasonMalformed, "%v", err)
	}
	if proof.VkFingerprint != vk.fingerprint {
		return reject(ReasonKeyMismatch, "proof made for key %s, verifying with %s",
			proof.VkFingerprint.Short(), vk.fingerprint.Short())
	}
	if c := commitmentOf(params.Fingerprint(), vk.vm.Fingerprint(), proof.Program); c != proof.Claim.ExeCommitment {
		return reject(ReasonCommitmentMismatch, "claimed commitment %s, recomputed %s",
			proof.Claim.ExeCommitment.Short(), c.Short())
	}
	if verdict := checkShape(vk, proof); !verdict.Accepted {
		return verdict
	}

	logHeight := int(proof.LogHeight)
	height := 1 << logHeight
	length := height * params.Blowup()

	t := seedTranscript(&proof.Claim, proof.VkFingerprint, proof.Program, proof.LogHeight)
	t.AbsorbBytes(proof.TraceRoot)
	weights := t.SampleScalars(NumCombinedColumns)

	final := make([]field.Element, len(proof.FriFinal))
	for i, f := range proof.FriFinal {
		final[i] = field.New(f)
	}
	fri, err := newFriVerifier(proof.FriRoots, final, length, t)
	if err != nil {
		return reject(ReasonCryptographicFailure, "%v", err)
	}
	if !checkPow(t.StateBytes(), proof.PowNonce, params.PowBits) {
		return reject(ReasonCryptographicFailure, "proof of work below %d bits", params.PowBits)
	}
	t.AbsorbU64(proof.PowNonce)
	friIdx, rowIdx := sampleQueries(t, params.NumQueries(), length, height)

	for k, q := range proof.FriQueries {
		if err := fri.verifyQuery(q, friIdx[k]); err != nil {
			return reject(ReasonCryptographicFailure, "query %d: %v", k, err)
		}
	}

	expected := openedRows(rowIdx, height)
	if len(proof.Rows) != len(expected) || len(proof.Links) != len(expected) {
		return reject(ReasonCryptographicFailure, "opened %d rows, expected %d", len(proof.Rows), len(expected))
	}
	steps := make(map[int]vm.PublicStep, len(expected))
	for k, i := range expected {
		opening, link := proof.Rows[k], proof.Links[k]
		if int(opening.Index) != i || len(opening.Values) != vm.NumPublicColumns {
			return reject(ReasonCryptographicFailure, "row opening %d has index %d and %d columns, expected row %d", k, opening.Index, len(opening.Values), i)
		}
		if !core.VerifyAuthPath(proof.TraceRoot, RowLeaf(opening.Values, opening.Private), i, opening.Path) {
			return reject(ReasonCryptographicFailure, "row %d authentication path", i)
		}
		if !fri.verifyFirst(i*params.Blowup(), link) || CombineRow(opening.Values, opening.Private, weights).Value() != link.Value {
			return reject(ReasonCryptographicFailure, "row %d not linked to the low-degree codeword", i)
		}
		step, ok := vm.PublicStepFromColumns(opening.Values)
		if !ok || step.Clk != uint32(i) {
			return reject(ReasonCryptographicFailure, "row %d is not a valid step", i)
		}
		steps[i] = step
	}

	if verdict := checkBoundary(proof, steps[0], steps[height-1]); !verdict.Accepted {
		return verdict
	}
	if verdict := checkExecution(vk.vm, expected, steps); !verdict.Accepted {
		return verdict
	}
	return checkRom(proof, expected, steps)
}

// checkShape rejects proofs whose dimensions do not match vk.
func checkShape(vk *VerifyingKey, proof *Proof) Verdict {
	logHeight := int(proof.LogHeight)
	if logHeight < utils.Log2(MinTraceHeight) || logHeight > vk.maxLogHeight {
		return reject(ReasonMalformed, "log trace height %d outside [%d, %d]", logHeight, utils.Log2(MinTraceHeight), vk.maxLogHeight)
	}
	if len(proof.FriRoots) != logHeight {
		return reject(ReasonMalformed, "%d FRI layers for log height %d", len(proof.FriRoots), logHeight)
	}
	if len(proof.FriQueries) != vk.params.NumQueries() {
		return reject(ReasonMalformed, "%d FRI queries, expected %d", len(proof.FriQueries), vk.params.NumQueries())
	}
	out := len(proof.Claim.PublicOutput)
	if out%4 != 0 || out > vk.vm.System.MaxPublicValues {
		return reject(ReasonMalformed, "public output of %d bytes", out)
	}
	return Accept()
}

// checkBoundary pins the first and last rows to the claim.
func checkBoundary(proof *Proof, first, last vm.PublicStep) Verdict {
	switch {
	case first.PC != proof.Program.PcStart:
		return reject(ReasonCryptographicFailure, "first row starts at 0x%08x, entry is 0x%08x", first.PC, proof.Program.PcStart)
	case first.OutCount != 0 || first.Halted:
		return reject(ReasonCryptographicFailure, "first row is not an initial state")
	case !last.Halted:
		return reject(ReasonCryptographicFailure, "last row has not halted")
	case int(last.OutCount) != len(proof.Claim.PublicOutput):
		return reject(ReasonCryptographicFailure, "trace revealed %d bytes, claim has %d", last.OutCount, len(proof.Claim.PublicOutput))
	}
	return Accept()
}

// checkExecution checks the control flow of every opened row and opened
// transition. Registers, memory and hints stay hidden behind the row salt.
func checkExecution(cfg *vm.VmConfig, rows []int, steps map[int]vm.PublicStep) Verdict {
	for _, i := range rows {
		if err := vm.CheckPublicStep(cfg, steps[i]); err != nil {
			return reject(ReasonCryptographicFailure, "row %d: %v", i, err)
		}
		next, ok := steps[i+1]
		if !ok {
			continue
		}
		if err := vm.CheckPublicTransition(steps[i], next); err != nil {
			return reject(ReasonCryptographicFailure, "rows %d->%d: %v", i, i+1, err)
		}
	}
	return Accept()
}

// checkRom verifies every instruction fetched by an opened row against the
// committed ROM.
func checkRom(proof *Proof, rows []int, steps map[int]vm.PublicStep) Verdict {
	meta := proof.Program
	words := make(map[uint32]uint32, len(proof.Rom))
	for _, r := range proof.Rom {
		if r.Index >= meta.CodeLen || !core.VerifyAuthPath(meta.RomRoot, RomLeaf(r.Word), int(r.Index), r.Path) {
			return reject(ReasonCryptographicFailure, "rom slot %d authentication path", r.Index)
		}
		words[r.Index] = r.Word
	}
	for _, i := range rows {
		step := steps[i]
		if step.Halted {
			continue
		}
		if step.PC < meta.PcBase || step.PC%4 != 0 || (step.PC-meta.PcBase)/4 >= meta.CodeLen {
			return reject(ReasonCryptographicFailure, "row %d fetches 0x%08x outside the ROM", i, step.PC)
		}
		word, ok := words[(step.PC-meta.PcBase)/4]
		if !ok || word != step.Instr {
			return reject(ReasonCryptographicFailure, "row %d instruction differs from committed ROM", i)
		}
	}
	return Accept()
}
