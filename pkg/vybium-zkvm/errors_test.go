package vybiumzkvm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	t.Run("StageCodes", func(t *testing.T) {
		cases := map[Stage]error{
			StageConfig:    ErrInvalidConfig,
			StageBuild:     ErrBuild,
			StageTranspile: ErrTranspile,
			StageEncode:    ErrEncode,
			StageExecute:   ErrExecution,
			StageCommit:    ErrCommitment,
			StageKeygen:    ErrKeygen,
			StageProve:     ErrProving,
			StageVerify:    ErrVerificationReject,
		}
		for stage, sentinel := range cases {
			err := stageError(stage, errors.New("boom"), "stage %s", stage)
			assert.ErrorIs(t, err, sentinel, stage)
		}
	})

	t.Run("Nil", func(t *testing.T) {
		assert.NoError(t, stageError(StageBuild, nil, "unused"))
	})

	t.Run("Unwrap", func(t *testing.T) {
		cause := errors.New("disk on fire")
		err := stageError(StageBuild, cause, "cannot build")
		assert.ErrorIs(t, err, cause)
		assert.NotErrorIs(t, err, ErrTranspile)

		var sdkErr *SdkError
		require.ErrorAs(t, err, &sdkErr)
		assert.Equal(t, StageBuild, sdkErr.Stage)
		assert.Equal(t, CodeBuild, sdkErr.Code)
	})

	t.Run("FirstFailureWins", func(t *testing.T) {
		inner := stageError(StageExecute, errors.New("trap"), "execution failed")
		outer := stageError(StageProve, fmt.Errorf("wrapped: %w", inner), "cannot prove")
		assert.ErrorIs(t, outer, ErrExecution)
		assert.NotErrorIs(t, outer, ErrProving)
	})
}

func TestErrorMessages(t *testing.T) {
	err := stageError(StageTranspile, errors.New("bad opcode"), "cannot transpile %s", "main")
	assert.Equal(t, "vybium-zkvm transpile [TranspileFailure]: cannot transpile main: bad opcode", err.Error())
	assert.Equal(t, "ErrorCode(99)", ErrorCode(99).String())
	assert.Equal(t, "VerificationReject", CodeVerificationReject.String())
}

func TestVerdict(t *testing.T) {
	accept := Verdict{Accepted: true}
	assert.NoError(t, accept.Err())
	assert.Equal(t, "Accept", accept.String())

	reject := Verdict{Reason: ReasonKeyMismatch, Detail: "wrong key"}
	assert.ErrorIs(t, reject.Err(), ErrVerificationReject)
	assert.Contains(t, reject.String(), "Reject(")
}
