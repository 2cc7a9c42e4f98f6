package protocols

import (
	"errors"
	"fmt"

	"github.com/tchajed/marshal"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

const (
	proofMagic = 0x76627a6b70726f66 // "vbzkprof"
	sealDomain = "vybium-zkvm/proof-seal/v1"

	// Decoding limits; anything larger is malformed.
	maxProofItems = 1 << 16
	maxPathLen    = 40
	maxOutputLen  = 1 << 20
)

var ErrMalformedProof = errors.New("protocols: malformed proof")

// ProgramMeta is the part of a committed executable the verifier needs to
// recompute its commitment and check instruction fetches.
type ProgramMeta struct {
	PcBase        uint32
	PcStart       uint32
	CodeLen       uint32
	RomRoot       []byte
	MemoryDigest  hash.Digest
	ProgramDigest hash.Digest
}

// RowOpening is the public part of one trace row, the salted digest of its
// private columns and its authentication path.
type RowOpening struct {
	Index   uint32
	Values  []uint32
	Private hash.Digest
	Path    [][]byte
}

// LinkOpening ties a trace row to the first FRI layer.
type LinkOpening struct {
	Value uint64
	Path  [][]byte
}

// RomOpening proves the instruction word at a ROM slot.
type RomOpening struct {
	Index uint32
	Word  uint32
	Path  [][]byte
}

// Proof is a self-contained proof of execution of a committed executable.
type Proof struct {
	Claim         Claim
	VkFingerprint core.Fingerprint
	Program       ProgramMeta
	LogHeight     uint32

	TraceRoot  []byte
	FriRoots   [][]byte
	FriFinal   []uint64
	PowNonce   uint64
	FriQueries []FriQuery
	Rows       []RowOpening
	Links      []LinkOpening
	Rom        []RomOpening

	Seal core.Fingerprint
}

// PublicOutput returns the revealed bytes.
func (p *Proof) PublicOutput() []byte {
	return append([]byte(nil), p.Claim.PublicOutput...)
}

// ExeCommitment returns the commitment of the proved executable.
func (p *Proof) ExeCommitment() core.Fingerprint {
	return p.Claim.ExeCommitment
}

// MarshalBinary encodes the proof followed by its seal.
func (p *Proof) MarshalBinary() ([]byte, error) {
	body := p.encodeBody()
	seal := core.Seal(sealDomain, body)
	return marshal.WriteBytes(body, seal[:]), nil
}

// UnmarshalProof decodes and checks the seal of an encoded proof.
func UnmarshalProof(b []byte) (*Proof, error) {
	if len(b) < len(core.Fingerprint{}) {
		return nil, fmt.Errorf("%w: too short", ErrMalformedProof)
	}
	body := b[:len(b)-len(core.Fingerprint{})]
	var seal core.Fingerprint
	copy(seal[:], b[len(body):])
	if core.Seal(sealDomain, body) != seal {
		return nil, fmt.Errorf("%w: seal mismatch", ErrMalformedProof)
	}

	d := &decoder{b: body}
	p := d.proof()
	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, d.err)
	}
	if len(d.b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedProof, len(d.b))
	}
	p.Seal = seal
	return p, nil
}

func (p *Proof) encodeBody() []byte {
	b := make([]byte, 0, 64*1024)
	b = marshal.WriteInt(b, proofMagic)
	b = marshal.WriteInt(b, uint64(p.Claim.Version))
	b = marshal.WriteBytes(b, p.Claim.ExeCommitment[:])
	b = writeSlice(b, p.Claim.PublicOutput)
	b = marshal.WriteBytes(b, p.VkFingerprint[:])

	b = marshal.WriteInt(b, uint64(p.Program.PcBase))
	b = marshal.WriteInt(b, uint64(p.Program.PcStart))
	b = marshal.WriteInt(b, uint64(p.Program.CodeLen))
	b = writeNode(b, p.Program.RomRoot)
	b = writeDigest(b, p.Program.MemoryDigest)
	b = writeDigest(b, p.Program.ProgramDigest)
	b = marshal.WriteInt(b, uint64(p.LogHeight))

	b = writeNode(b, p.TraceRoot)
	b = marshal.WriteInt(b, uint64(len(p.FriRoots)))
	for _, r := range p.FriRoots {
		b = writeNode(b, r)
	}
	b = writeInts(b, p.FriFinal)
	b = marshal.WriteInt(b, p.PowNonce)

	b = marshal.WriteInt(b, uint64(len(p.FriQueries)))
	for _, q := range p.FriQueries {
		b = marshal.WriteInt(b, uint64(q.Index))
		b = marshal.WriteInt(b, uint64(len(q.Layers)))
		for _, l := range q.Layers {
			b = marshal.WriteInt(b, l.Left)
			b = marshal.WriteInt(b, l.Right)
			b = writePath(b, l.LeftPath)
			b = writePath(b, l.RightPath)
		}
	}

	b = marshal.WriteInt(b, uint64(len(p.Rows)))
	for _, r := range p.Rows {
		b = marshal.WriteInt(b, uint64(r.Index))
		b = marshal.WriteInt(b, uint64(len(r.Values)))
		for _, v := range r.Values {
			b = marshal.WriteInt(b, uint64(v))
		}
		b = writeDigest(b, r.Private)
		b = writePath(b, r.Path)
	}

	b = marshal.WriteInt(b, uint64(len(p.Links)))
	for _, l := range p.Links {
		b = marshal.WriteInt(b, l.Value)
		b = writePath(b, l.Path)
	}

	b = marshal.WriteInt(b, uint64(len(p.Rom)))
	for _, r := range p.Rom {
		b = marshal.WriteInt(b, uint64(r.Index))
		b = marshal.WriteInt(b, uint64(r.Word))
		b = writePath(b, r.Path)
	}
	return b
}

func writeSlice(b, data []byte) []byte {
	b = marshal.WriteInt(b, uint64(len(data)))
	return marshal.WriteBytes(b, data)
}

func writeNode(b, node []byte) []byte {
	var fixed [core.NodeSize]byte
	copy(fixed[:], node)
	return marshal.WriteBytes(b, fixed[:])
}

func writeDigest(b []byte, d hash.Digest) []byte {
	for _, e := range d {
		b = marshal.WriteInt(b, e.Value())
	}
	return b
}

func writeInts(b []byte, vals []uint64) []byte {
	b = marshal.WriteInt(b, uint64(len(vals)))
	for _, v := range vals {
		b = marshal.WriteInt(b, v)
	}
	return b
}

func writePath(b []byte, path [][]byte) []byte {
	b = marshal.WriteInt(b, uint64(len(path)))
	for _, n := range path {
		b = writeNode(b, n)
	}
	return b
}

// decoder reads the body with a sticky error, checking lengths before
// every read.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf(format, args...)
	}
}

func (d *decoder) int() uint64 {
	if d.err != nil {
		return 0
	}
	if len(d.b) < 8 {
		d.fail("truncated integer")
		return 0
	}
	var v uint64
	v, d.b = marshal.ReadInt(d.b)
	return v
}

func (d *decoder) u32() uint32 {
	v := d.int()
	if v > 0xFFFFFFFF {
		d.fail("value %d exceeds 32 bits", v)
	}
	return uint32(v)
}

func (d *decoder) count(limit int) int {
	n := d.int()
	if n > uint64(limit) {
		d.fail("length %d exceeds limit %d", n, limit)
		return 0
	}
	return int(n)
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.fail("truncated byte string")
		return nil
	}
	var out []byte
	out, d.b = marshal.ReadBytes(d.b, uint64(n))
	return append([]byte(nil), out...)
}

func (d *decoder) fingerprint() core.Fingerprint {
	var f core.Fingerprint
	copy(f[:], d.bytes(len(f)))
	return f
}

func (d *decoder) node() []byte {
	return d.bytes(core.NodeSize)
}

func (d *decoder) fieldValue() uint64 {
	v := d.int()
	if v >= field.P {
		d.fail("non-canonical field element")
	}
	return v
}

func (d *decoder) digest() hash.Digest {
	var dg hash.Digest
	for i := range dg {
		dg[i] = field.New(d.fieldValue())
	}
	return dg
}

func (d *decoder) path() [][]byte {
	n := d.count(maxPathLen)
	path := make([][]byte, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		path = append(path, d.node())
	}
	return path
}

func (d *decoder) proof() *Proof {
	p := &Proof{}
	if d.int() != proofMagic {
		d.fail("bad magic")
		return p
	}
	p.Claim.Version = d.u32()
	p.Claim.ExeCommitment = d.fingerprint()
	p.Claim.PublicOutput = d.bytes(d.count(maxOutputLen))
	p.VkFingerprint = d.fingerprint()

	p.Program.PcBase = d.u32()
	p.Program.PcStart = d.u32()
	p.Program.CodeLen = d.u32()
	p.Program.RomRoot = d.node()
	p.Program.MemoryDigest = d.digest()
	p.Program.ProgramDigest = d.digest()
	p.LogHeight = d.u32()

	p.TraceRoot = d.node()
	n := d.count(maxPathLen)
	for i := 0; i < n && d.err == nil; i++ {
		p.FriRoots = append(p.FriRoots, d.node())
	}
	n = d.count(maxProofItems)
	for i := 0; i < n && d.err == nil; i++ {
		p.FriFinal = append(p.FriFinal, d.fieldValue())
	}
	p.PowNonce = d.int()

	n = d.count(maxProofItems)
	for i := 0; i < n && d.err == nil; i++ {
		q := FriQuery{Index: d.u32()}
		layers := d.count(maxPathLen)
		for j := 0; j < layers && d.err == nil; j++ {
			q.Layers = append(q.Layers, FriLayerOpening{
				Left:      d.fieldValue(),
				Right:     d.fieldValue(),
				LeftPath:  d.path(),
				RightPath: d.path(),
			})
		}
		p.FriQueries = append(p.FriQueries, q)
	}

	n = d.count(maxProofItems)
	for i := 0; i < n && d.err == nil; i++ {
		r := RowOpening{Index: d.u32()}
		width := d.count(vm.NumPublicColumns)
		for j := 0; j < width && d.err == nil; j++ {
			r.Values = append(r.Values, d.u32())
		}
		r.Private = d.digest()
		r.Path = d.path()
		p.Rows = append(p.Rows, r)
	}

	n = d.count(maxProofItems)
	for i := 0; i < n && d.err == nil; i++ {
		p.Links = append(p.Links, LinkOpening{Value: d.fieldValue(), Path: d.path()})
	}

	n = d.count(maxProofItems)
	for i := 0; i < n && d.err == nil; i++ {
		p.Rom = append(p.Rom, RomOpening{Index: d.u32(), Word: d.u32(), Path: d.path()})
	}
	return p
}
