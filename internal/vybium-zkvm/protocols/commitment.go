package protocols

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/merkle"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/utils"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

var ErrCommitment = errors.New("protocols: cannot commit executable")

// CommittedExe binds an executable to the proof-system parameters it will be
// proved under.
type CommittedExe struct {
	exe        *vm.Executable
	params     ProofSystemParams
	commitment core.Fingerprint
	romTree    *core.MerkleTree
	meta       ProgramMeta
}

// Commit computes the commitment of exe under params. It is a pure function
// of its inputs.
func Commit(params ProofSystemParams, exe *vm.Executable) (*CommittedExe, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommitment, err)
	}
	if err := exe.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommitment, err)
	}

	code := exe.Code()
	romTree, err := core.NewMerkleTree(romLeaves(code))
	if err != nil {
		return nil, fmt.Errorf("%w: instruction ROM: %v", ErrCommitment, err)
	}
	programDigest, err := programDigest(code)
	if err != nil {
		return nil, fmt.Errorf("%w: program digest: %v", ErrCommitment, err)
	}

	meta := ProgramMeta{
		PcBase:        exe.PcBase(),
		PcStart:       exe.PcStart(),
		CodeLen:       uint32(len(code)),
		RomRoot:       romTree.Root(),
		MemoryDigest:  memoryDigest(exe.Segments()),
		ProgramDigest: programDigest,
	}
	return &CommittedExe{
		exe:        exe,
		params:     params,
		commitment: commitmentOf(params.Fingerprint(), exe.ConfigFingerprint(), meta),
		romTree:    romTree,
		meta:       meta,
	}, nil
}

// Executable returns the committed executable.
func (c *CommittedExe) Executable() *vm.Executable { return c.exe }

// Params returns the parameters the executable was committed under.
func (c *CommittedExe) Params() ProofSystemParams { return c.params }

// Commitment is the binding digest.
func (c *CommittedExe) Commitment() core.Fingerprint { return c.commitment }

// Meta returns the values the verifier recomputes the commitment from.
func (c *CommittedExe) Meta() ProgramMeta {
	m := c.meta
	m.RomRoot = append([]byte(nil), c.meta.RomRoot...)
	return m
}

// openRom opens the ROM word at slot idx.
func (c *CommittedExe) openRom(idx int) (RomOpening, error) {
	word, ok := c.exe.InstructionAt(c.meta.PcBase + uint32(4*idx))
	if !ok {
		return RomOpening{}, fmt.Errorf("rom slot %d out of range", idx)
	}
	path, err := c.romTree.AuthPath(idx)
	if err != nil {
		return RomOpening{}, err
	}
	return RomOpening{Index: uint32(idx), Word: word, Path: path}, nil
}

// commitmentOf is shared by Commit and the verifier.
func commitmentOf(paramsFP, vmFP core.Fingerprint, meta ProgramMeta) core.Fingerprint {
	return core.NewHasher("vybium-zkvm/exe-commitment/v1").
		WriteBytes(paramsFP[:]).
		WriteBytes(vmFP[:]).
		WriteU32(meta.PcBase).
		WriteU32(meta.PcStart).
		WriteU32(meta.CodeLen).
		WriteBytes(meta.RomRoot).
		WriteBytes(core.DigestBytes(meta.MemoryDigest)).
		WriteBytes(core.DigestBytes(meta.ProgramDigest)).
		Sum()
}

// romLeaves pads the ROM with zero words to a power of two.
func romLeaves(code []uint32) [][]byte {
	leaves := make([][]byte, utils.NextPowerOfTwo(len(code)))
	for i := range leaves {
		var w uint32
		if i < len(code) {
			w = code[i]
		}
		leaves[i] = RomLeaf(w)
	}
	return leaves
}

// RomLeaf is the Merkle leaf payload of a ROM word.
func RomLeaf(word uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, word)
}

// programDigest is the Tip5 Merkle root over the instruction words.
func programDigest(code []uint32) (hash.Digest, error) {
	leaves := make([]hash.Digest, utils.NextPowerOfTwo(max(len(code), 2)))
	for i := range leaves {
		var w uint32
		if i < len(code) {
			w = code[i]
		}
		leaves[i] = hash.HashVarlen([]field.Element{field.New(uint64(w))})
	}
	tree, err := merkle.New(leaves)
	if err != nil {
		return hash.Digest{}, err
	}
	return tree.Root(), nil
}

// memoryDigest hashes the initialized data segments in load order.
func memoryDigest(segments []vm.Segment) hash.Digest {
	elems := []field.Element{field.New(uint64(len(segments)))}
	for _, s := range segments {
		elems = append(elems, field.New(uint64(s.Addr)))
		elems = append(elems, core.BytesToElements(s.Data)...)
	}
	return hash.HashVarlen(elems)
}
