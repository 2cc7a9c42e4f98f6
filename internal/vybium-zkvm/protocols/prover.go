package protocols

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/utils"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

const transcriptLabel = "vybium-zkvm/stark/v1"

var (
	ErrProving        = errors.New("protocols: proving failed")
	ErrParamsMismatch = errors.New("protocols: proving key does not match committed executable")
)

// Prover generates proofs of execution. It holds no per-proof state and is
// safe for concurrent use.
type Prover struct {
	logger zerolog.Logger
}

// NewProver creates a prover.
func NewProver(logger zerolog.Logger) *Prover {
	return &Prover{logger: logger.With().Str("module", "prover").Logger()}
}

// Prove executes the committed executable on input and proves the run.
func (p *Prover) Prove(ctx context.Context, pk *ProvingKey, committed *CommittedExe, input [][]byte) (*Proof, error) {
	start := time.Now()
	if err := checkCompatible(pk, committed); err != nil {
		return nil, err
	}
	exe := committed.Executable()
	params := pk.Params()

	executor, err := vm.NewExecutor(pk.config.Vm, p.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProving, err)
	}
	trace, err := executor.Trace(exe, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProving, err)
	}

	height := max(utils.NextPowerOfTwo(len(trace.Steps)+1), MinTraceHeight)
	if height > pk.MaxTraceHeight() {
		return nil, fmt.Errorf("%w: trace height %d exceeds key limit %d", ErrProving, height, pk.MaxTraceHeight())
	}
	logHeight := utils.Log2(height)
	steps := trace.Padded(height)
	if err := replayTrace(pk.config.Vm, steps, trace.Result.PublicOutput); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProving, err)
	}
	table, err := NewTraceTable(steps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProving, err)
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("%w: salt seed: %v", ErrProving, err)
	}
	traceRoot, err := table.Commit(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProving, err)
	}

	claim := NewClaim(committed.Commitment()).WithOutput(trace.Result.PublicOutput)
	meta := committed.Meta()
	t := seedTranscript(claim, pk.Fingerprint(), meta, uint32(logHeight))

	t.AbsorbBytes(traceRoot)
	weights := t.SampleScalars(NumCombinedColumns)
	combined, err := table.Combine(weights)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProving, err)
	}
	domain := pk.domains[logHeight+params.LogBlowup]
	codeword, err := domain.Extend(combined)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProving, err)
	}
	fri, err := friCommit(codeword, domain, logHeight, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProving, err)
	}

	nonce, err := grind(ctx, t.StateBytes(), params.PowBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProving, err)
	}
	t.AbsorbU64(nonce)
	friIdx, rowIdx := sampleQueries(t, params.NumQueries(), len(codeword), height)

	proof := &Proof{
		Claim:         *claim,
		VkFingerprint: pk.Fingerprint(),
		Program:       meta,
		LogHeight:     uint32(logHeight),
		TraceRoot:     traceRoot,
		FriRoots:      fri.roots,
		FriFinal:      elementValues(fri.final),
		PowNonce:      nonce,
	}
	for _, idx := range friIdx {
		q, err := fri.open(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProving, err)
		}
		proof.FriQueries = append(proof.FriQueries, q)
	}

	romSlots := make(map[int]bool)
	for _, i := range openedRows(rowIdx, height) {
		row, err := table.Open(i)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProving, err)
		}
		link, err := fri.openFirst(i * params.Blowup())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProving, err)
		}
		proof.Rows = append(proof.Rows, row)
		proof.Links = append(proof.Links, link)
		if row.Values[vm.ColHalted] == 0 {
			slot, ok := exe.RomIndex(row.Values[vm.ColPC])
			if !ok {
				return nil, fmt.Errorf("%w: row %d fetches outside the ROM", ErrProving, i)
			}
			romSlots[slot] = true
		}
	}
	for _, slot := range sortedKeys(romSlots) {
		opening, err := committed.openRom(slot)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProving, err)
		}
		proof.Rom = append(proof.Rom, opening)
	}
	proof.Seal = core.Seal(sealDomain, proof.encodeBody())

	p.logger.Info().
		Str("commitment", committed.Commitment().Short()).
		Uint64("cycles", trace.Result.Cycles).
		Int("trace_height", height).
		Int("queries", len(friIdx)).
		Dur("elapsed", time.Since(start)).
		Msg("proof generated")
	return proof, nil
}

// checkCompatible fails fast when the key and the commitment were derived
// from different configurations.
func checkCompatible(pk *ProvingKey, committed *CommittedExe) error {
	if pk == nil || committed == nil {
		return fmt.Errorf("%w: missing proving key or committed executable", ErrProving)
	}
	if pk.Params() != committed.Params() {
		return fmt.Errorf("%w: %w: key %s, commitment %s", ErrProving, ErrParamsMismatch, pk.Params(), committed.Params())
	}
	if pk.config.Vm.Fingerprint() != committed.Executable().ConfigFingerprint() {
		return fmt.Errorf("%w: %w: vm config differs from the one the executable was transpiled under", ErrProving, ErrParamsMismatch)
	}
	return nil
}

// replayTrace re-executes every row from its own columns and checks each
// transition.
func replayTrace(cfg *vm.VmConfig, rows []vm.StepRecord, output []byte) error {
	for i := range rows[:len(rows)-1] {
		out, err := vm.ReplayStep(cfg, rows[i], output)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := vm.CheckTransition(rows[i], rows[i+1], out); err != nil {
			return fmt.Errorf("rows %d->%d: %w", i, i+1, err)
		}
	}
	return nil
}

// seedTranscript absorbs everything the proof is about before any
// commitment.
func seedTranscript(claim *Claim, vkFP core.Fingerprint, meta ProgramMeta, logHeight uint32) *Transcript {
	t := NewTranscript(transcriptLabel)
	t.Absorb(claim.Elements())
	t.AbsorbBytes(vkFP[:])
	t.Absorb([]field.Element{
		field.New(uint64(meta.PcBase)),
		field.New(uint64(meta.PcStart)),
		field.New(uint64(meta.CodeLen)),
	})
	t.AbsorbBytes(meta.RomRoot)
	t.Absorb(meta.MemoryDigest[:])
	t.Absorb(meta.ProgramDigest[:])
	t.AbsorbU64(uint64(logHeight))
	return t
}

// sampleQueries draws FRI indices in [0, length) and trace row indices in
// [0, height-1), so that row i+1 always exists.
func sampleQueries(t *Transcript, n, length, height int) (fri, rows []int) {
	fri = t.SampleIndices(length, n)
	rows = t.SampleIndices(height, n)
	for k, i := range rows {
		if i == height-1 {
			rows[k] = height - 2
		}
	}
	return fri, rows
}

// openedRows is the sorted set of rows opened for the sampled indices: the
// boundary rows plus each index and its successor.
func openedRows(sampled []int, height int) []int {
	set := map[int]bool{0: true, height - 1: true}
	for _, i := range sampled {
		set[i] = true
		set[i+1] = true
	}
	return sortedKeys(set)
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func elementValues(elems []field.Element) []uint64 {
	out := make([]uint64, len(elems))
	for i, e := range elems {
		out[i] = e.Value()
	}
	return out
}
