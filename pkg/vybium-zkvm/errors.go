package vybiumzkvm

import (
	"errors"
	"fmt"
)

// ErrorCode classifies pipeline failures.
type ErrorCode int

const (
	// CodeUnknown represents an unclassified error
	CodeUnknown ErrorCode = iota

	// CodeBuild represents a guest build failure
	CodeBuild

	// CodeTranspile represents a malformed image or an instruction no
	// enabled extension covers
	CodeTranspile

	// CodeEncode represents an input serialization failure
	CodeEncode

	// CodeExecution represents a VM trap
	CodeExecution

	// CodeCommitment represents a malformed executable at commit time
	CodeCommitment

	// CodeKeygen represents an inconsistent application config
	CodeKeygen

	// CodeProving represents a proving failure, including mismatched
	// proving key and commitment
	CodeProving

	// CodeVerificationReject represents a rejected proof
	CodeVerificationReject

	// CodeInvalidConfig represents a configuration file or option error
	CodeInvalidConfig
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:            "Unknown",
	CodeBuild:              "BuildFailure",
	CodeTranspile:          "TranspileFailure",
	CodeEncode:             "EncodeFailure",
	CodeExecution:          "ExecutionTrap",
	CodeCommitment:         "CommitmentFailure",
	CodeKeygen:             "KeygenFailure",
	CodeProving:            "ProvingFailure",
	CodeVerificationReject: "VerificationReject",
	CodeInvalidConfig:      "InvalidConfig",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Stage names a pipeline stage.
type Stage string

const (
	StageConfig    Stage = "config"
	StageBuild     Stage = "build"
	StageTranspile Stage = "transpile"
	StageEncode    Stage = "encode"
	StageExecute   Stage = "execute"
	StageCommit    Stage = "commit"
	StageKeygen    Stage = "keygen"
	StageProve     Stage = "prove"
	StageVerify    Stage = "verify"
)

// SdkError is returned by every SDK stage.
type SdkError struct {
	Stage   Stage
	Code    ErrorCode
	Message string
	Cause   error
}

// Error returns the error message
func (e *SdkError) Error() string {
	msg := fmt.Sprintf("vybium-zkvm %s [%s]", e.Stage, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the cause of the error
func (e *SdkError) Unwrap() error {
	return e.Cause
}

// Is matches any SdkError with the same code, so the sentinels below work
// with errors.Is.
func (e *SdkError) Is(target error) bool {
	t, ok := target.(*SdkError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is.
var (
	ErrBuild              = &SdkError{Code: CodeBuild}
	ErrTranspile          = &SdkError{Code: CodeTranspile}
	ErrEncode             = &SdkError{Code: CodeEncode}
	ErrExecution          = &SdkError{Code: CodeExecution}
	ErrCommitment         = &SdkError{Code: CodeCommitment}
	ErrKeygen             = &SdkError{Code: CodeKeygen}
	ErrProving            = &SdkError{Code: CodeProving}
	ErrVerificationReject = &SdkError{Code: CodeVerificationReject}
	ErrInvalidConfig      = &SdkError{Code: CodeInvalidConfig}
)

var stageCodes = map[Stage]ErrorCode{
	StageConfig:    CodeInvalidConfig,
	StageBuild:     CodeBuild,
	StageTranspile: CodeTranspile,
	StageEncode:    CodeEncode,
	StageExecute:   CodeExecution,
	StageCommit:    CodeCommitment,
	StageKeygen:    CodeKeygen,
	StageProve:     CodeProving,
	StageVerify:    CodeVerificationReject,
}

// stageError wraps cause as the failure of stage. An SdkError cause is
// returned unchanged so the first failure is reported verbatim.
func stageError(stage Stage, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	var sdkErr *SdkError
	if errors.As(cause, &sdkErr) {
		return cause
	}
	return &SdkError{
		Stage:   stage,
		Code:    stageCodes[stage],
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// IsReject reports whether err is a rejected verification.
func IsReject(err error) bool {
	return errors.Is(err, ErrVerificationReject)
}
