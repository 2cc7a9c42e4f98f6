// Package artifacts persists pipeline artifacts. Executables, committed
// executables and keys are CBOR envelopes; proofs use their own binary
// encoding. Keys and commitments are re-derived on load and checked against
// the stored fingerprint, so a loaded artifact is always internally
// consistent.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/protocols"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

// Envelope kinds.
const (
	KindExecutable   = "vybium-zkvm/executable"
	KindCommittedExe = "vybium-zkvm/committed-exe"
	KindProvingKey   = "vybium-zkvm/proving-key"
	KindVerifyingKey = "vybium-zkvm/verifying-key"

	formatVersion = 1
)

var (
	ErrArtifact    = errors.New("artifacts: invalid artifact")
	ErrWrongKind   = errors.New("artifacts: unexpected artifact kind")
	ErrFingerprint = errors.New("artifacts: stored fingerprint does not match contents")
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type envelope struct {
	Kind    string          `cbor:"1,keyasint"`
	Version uint32          `cbor:"2,keyasint"`
	Body    cbor.RawMessage `cbor:"3,keyasint"`
}

type segmentRecord struct {
	Addr uint32 `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

type executableRecord struct {
	PcBase   uint32          `cbor:"1,keyasint"`
	PcStart  uint32          `cbor:"2,keyasint"`
	Code     []uint32        `cbor:"3,keyasint"`
	Segments []segmentRecord `cbor:"4,keyasint"`
	ConfigFP []byte          `cbor:"5,keyasint"`
}

type committedRecord struct {
	Exe        executableRecord            `cbor:"1,keyasint"`
	Params     protocols.ProofSystemParams `cbor:"2,keyasint"`
	Commitment []byte                      `cbor:"3,keyasint"`
}

type keyRecord struct {
	Config      protocols.AppConfig `cbor:"1,keyasint"`
	Fingerprint []byte              `cbor:"2,keyasint"`
}

func seal(kind string, body any) ([]byte, error) {
	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("artifacts: encode %s: %w", kind, err)
	}
	return encMode.Marshal(envelope{Kind: kind, Version: formatVersion, Body: raw})
}

func open(kind string, data []byte, body any) error {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	if env.Kind != kind {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongKind, env.Kind, kind)
	}
	if env.Version != formatVersion {
		return fmt.Errorf("%w: format version %d", ErrArtifact, env.Version)
	}
	if err := cbor.Unmarshal(env.Body, body); err != nil {
		return fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	return nil
}

func toFingerprint(b []byte) (core.Fingerprint, error) {
	var f core.Fingerprint
	if len(b) != len(f) {
		return f, fmt.Errorf("%w: fingerprint of %d bytes", ErrArtifact, len(b))
	}
	copy(f[:], b)
	return f, nil
}

func executableToRecord(exe *vm.Executable) executableRecord {
	fp := exe.ConfigFingerprint()
	rec := executableRecord{
		PcBase:   exe.PcBase(),
		PcStart:  exe.PcStart(),
		Code:     exe.Code(),
		ConfigFP: fp[:],
	}
	for _, s := range exe.Segments() {
		rec.Segments = append(rec.Segments, segmentRecord{Addr: s.Addr, Data: s.Data})
	}
	return rec
}

func executableFromRecord(rec executableRecord) (*vm.Executable, error) {
	fp, err := toFingerprint(rec.ConfigFP)
	if err != nil {
		return nil, err
	}
	segments := make([]vm.Segment, len(rec.Segments))
	for i, s := range rec.Segments {
		segments[i] = vm.Segment{Addr: s.Addr, Data: s.Data}
	}
	exe, err := vm.NewExecutable(rec.PcBase, rec.PcStart, rec.Code, segments, fp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	return exe, nil
}

// EncodeExecutable serializes a VM executable.
func EncodeExecutable(exe *vm.Executable) ([]byte, error) {
	if err := exe.Validate(); err != nil {
		return nil, err
	}
	return seal(KindExecutable, executableToRecord(exe))
}

// DecodeExecutable reverses EncodeExecutable.
func DecodeExecutable(data []byte) (*vm.Executable, error) {
	var rec executableRecord
	if err := open(KindExecutable, data, &rec); err != nil {
		return nil, err
	}
	return executableFromRecord(rec)
}

// EncodeCommittedExe serializes a committed executable.
func EncodeCommittedExe(c *protocols.CommittedExe) ([]byte, error) {
	commitment := c.Commitment()
	return seal(KindCommittedExe, committedRecord{
		Exe:        executableToRecord(c.Executable()),
		Params:     c.Params(),
		Commitment: commitment[:],
	})
}

// DecodeCommittedExe recommits the stored executable and checks the stored
// commitment.
func DecodeCommittedExe(data []byte) (*protocols.CommittedExe, error) {
	var rec committedRecord
	if err := open(KindCommittedExe, data, &rec); err != nil {
		return nil, err
	}
	exe, err := executableFromRecord(rec.Exe)
	if err != nil {
		return nil, err
	}
	want, err := toFingerprint(rec.Commitment)
	if err != nil {
		return nil, err
	}
	committed, err := protocols.Commit(rec.Params, exe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	if committed.Commitment() != want {
		return nil, fmt.Errorf("%w: commitment %s, recomputed %s", ErrFingerprint, want.Short(), committed.Commitment().Short())
	}
	return committed, nil
}

// EncodeProvingKey serializes a proving key by its configuration.
func EncodeProvingKey(pk *protocols.ProvingKey) ([]byte, error) {
	fp := pk.Fingerprint()
	return seal(KindProvingKey, keyRecord{Config: pk.Config(), Fingerprint: fp[:]})
}

// DecodeProvingKey regenerates the stored key and checks its fingerprint.
func DecodeProvingKey(data []byte) (*protocols.ProvingKey, error) {
	var rec keyRecord
	if err := open(KindProvingKey, data, &rec); err != nil {
		return nil, err
	}
	return regenerate(rec)
}

// EncodeVerifyingKey serializes a verifying key.
func EncodeVerifyingKey(vk *protocols.VerifyingKey) ([]byte, error) {
	fp := vk.Fingerprint()
	return seal(KindVerifyingKey, keyRecord{Config: vk.Config(), Fingerprint: fp[:]})
}

// DecodeVerifyingKey regenerates the stored key and checks its fingerprint.
func DecodeVerifyingKey(data []byte) (*protocols.VerifyingKey, error) {
	var rec keyRecord
	if err := open(KindVerifyingKey, data, &rec); err != nil {
		return nil, err
	}
	pk, err := regenerate(rec)
	if err != nil {
		return nil, err
	}
	return pk.VerifyingKey(), nil
}

func regenerate(rec keyRecord) (*protocols.ProvingKey, error) {
	want, err := toFingerprint(rec.Fingerprint)
	if err != nil {
		return nil, err
	}
	pk, err := protocols.Keygen(rec.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	if pk.Fingerprint() != want {
		return nil, fmt.Errorf("%w: key %s, regenerated %s", ErrFingerprint, want.Short(), pk.Fingerprint().Short())
	}
	return pk, nil
}

// Save writes data to path, creating parent directories.
func Save(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("artifacts: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	return nil
}

// SaveExecutable writes an encoded executable to path.
func SaveExecutable(path string, exe *vm.Executable) error {
	return encodeAndSave(path, func() ([]byte, error) { return EncodeExecutable(exe) })
}

// LoadExecutable reads an executable from path.
func LoadExecutable(path string) (*vm.Executable, error) {
	return loadAndDecode(path, DecodeExecutable)
}

// SaveCommittedExe writes a committed executable to path.
func SaveCommittedExe(path string, c *protocols.CommittedExe) error {
	return encodeAndSave(path, func() ([]byte, error) { return EncodeCommittedExe(c) })
}

// LoadCommittedExe reads a committed executable from path.
func LoadCommittedExe(path string) (*protocols.CommittedExe, error) {
	return loadAndDecode(path, DecodeCommittedExe)
}

// SaveProvingKey writes a proving key to path.
func SaveProvingKey(path string, pk *protocols.ProvingKey) error {
	return encodeAndSave(path, func() ([]byte, error) { return EncodeProvingKey(pk) })
}

// LoadProvingKey reads a proving key from path.
func LoadProvingKey(path string) (*protocols.ProvingKey, error) {
	return loadAndDecode(path, DecodeProvingKey)
}

// SaveVerifyingKey writes a verifying key to path.
func SaveVerifyingKey(path string, vk *protocols.VerifyingKey) error {
	return encodeAndSave(path, func() ([]byte, error) { return EncodeVerifyingKey(vk) })
}

// LoadVerifyingKey reads a verifying key from path.
func LoadVerifyingKey(path string) (*protocols.VerifyingKey, error) {
	return loadAndDecode(path, DecodeVerifyingKey)
}

// SaveProof writes an encoded proof to path.
func SaveProof(path string, proof *protocols.Proof) error {
	return encodeAndSave(path, proof.MarshalBinary)
}

// LoadProof reads a proof from path. The seal is checked; verification is
// left to the caller.
func LoadProof(path string) (*protocols.Proof, error) {
	return loadAndDecode(path, protocols.UnmarshalProof)
}

func encodeAndSave(path string, encode func() ([]byte, error)) error {
	data, err := encode()
	if err != nil {
		return err
	}
	return Save(path, data)
}

func loadAndDecode[T any](path string, decode func([]byte) (T, error)) (T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("artifacts: %w", err)
	}
	return decode(data)
}
