// Package vybiumzkvm orchestrates proving that a guest program ran correctly
// on a RISC-V style zero-knowledge virtual machine.
//
// A guest program goes through a fixed sequence of stages:
//
//	build -> transpile -> execute -> commit -> keygen -> prove -> verify
//
// Every stage produces an immutable value consumed by the next. Keys are
// derived from an AppConfig (proof system parameters plus VM configuration)
// and may be shared by concurrent provers.
//
// # Quick Start
//
//	sdk := vybiumzkvm.NewSdk()
//	built, err := sdk.Build(ctx, vybiumzkvm.DefaultGuestOptions(), "guests/fibonacci", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	app := vybiumzkvm.NewAppConfig(vybiumzkvm.DefaultParams(), vybiumzkvm.DefaultRv32imConfig())
//	transpiled, err := sdk.Transpile(built, app.Vm)
//	committed, err := sdk.Commit(app.Params, transpiled)
//	keys, err := sdk.Keygen(app)
//
//	stdin := vybiumzkvm.NewStdIn()
//	stdin.WriteWords(1, 0, 2, 0) // a = 1, b = 2 as little-endian u64
//	proved, err := sdk.Prove(ctx, keys, committed, stdin)
//
//	verdict := sdk.Verify(keys.VerifyingKey(), proved.Proof())
//	if !verdict.Accepted {
//		log.Fatal(verdict.Err())
//	}
//
// # Errors
//
// Stage failures are returned as *SdkError carrying the stage and an
// ErrorCode. Use errors.Is with the Err* sentinels to match by code. A
// rejected proof is a Verdict, not an error.
//
// # Architecture
//
// - pkg/vybium-zkvm/: Public API (this package)
// - internal/vybium-zkvm/: Private implementation (not importable)
//
// Implementation details in internal/ can be refactored without breaking the public API.
package vybiumzkvm
