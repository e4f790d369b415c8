package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func runStep(t *testing.T, j *Job, name StepName) {
	t.Helper()
	require.NoError(t, j.StartStep(name, t0))
	require.NoError(t, j.CompleteStep(name, t0))
}

func TestJob_HappyPathProgress(t *testing.T) {
	j := NewJob("j1", "a.pdf", "k", "application/pdf", PipelineSteps(true), t0)
	require.NoError(t, j.Begin(t0))

	var seen []int
	for _, s := range PipelineSteps(true) {
		runStep(t, j, s)
		seen = append(seen, j.Progress)
	}
	assert.Equal(t, []int{25, 50, 75, 100}, seen)

	require.NoError(t, j.Finalize(t0))
	assert.Equal(t, JobCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.NotNil(t, j.CompletedAt)
	assert.Empty(t, j.Error)
}

func TestJob_StartStepRequiresPrerequisites(t *testing.T) {
	j := NewJob("j1", "a.pdf", "k", "", PipelineSteps(true), t0)
	require.NoError(t, j.Begin(t0))

	err := j.StartStep(StepGenerateEmbeddings, t0)
	var pre *PrerequisiteError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, []StepName{StepExtractText, StepExtractMetadata}, pre.Missing)
}

func TestJob_MandatoryFailureFailsJob(t *testing.T) {
	j := NewJob("j1", "a.pdf", "k", "", PipelineSteps(true), t0)
	require.NoError(t, j.Begin(t0))
	require.NoError(t, j.StartStep(StepExtractText, t0))
	require.NoError(t, j.FailStep(StepExtractText, errors.New("corrupt xref"), t0))
	require.NoError(t, j.Finalize(t0))

	assert.Equal(t, JobFailed, j.Status)
	assert.Equal(t, StepExtractText, j.CurrentStep)
	assert.Equal(t, "corrupt xref", j.Step(StepExtractText).Error)
	assert.Contains(t, j.Error, "corrupt xref")
}

func TestJob_ChunkingFailureDoesNotFailJob(t *testing.T) {
	j := NewJob("j1", "a.pdf", "k", "", PipelineSteps(true), t0)
	require.NoError(t, j.Begin(t0))
	runStep(t, j, StepExtractText)
	runStep(t, j, StepExtractMetadata)
	runStep(t, j, StepGenerateEmbeddings)
	require.NoError(t, j.StartStep(StepSemanticChunking, t0))
	require.NoError(t, j.FailStep(StepSemanticChunking, errors.New("boom"), t0))
	require.NoError(t, j.Finalize(t0))

	assert.Equal(t, JobCompleted, j.Status)
	assert.Empty(t, j.Error)
	assert.Equal(t, "boom", j.Step(StepSemanticChunking).Error)
}

func TestJob_ResetStep(t *testing.T) {
	j := NewJob("j1", "a.pdf", "k", "", PipelineSteps(false), t0)

	t.Run("rejects non terminal job", func(t *testing.T) {
		err := j.ResetStep(StepExtractText, t0)
		var te *TransitionError
		assert.ErrorAs(t, err, &te)
	})

	require.NoError(t, j.Begin(t0))
	runStep(t, j, StepExtractText)
	require.NoError(t, j.StartStep(StepExtractMetadata, t0))
	require.NoError(t, j.FailStep(StepExtractMetadata, errors.New("x"), t0))
	require.NoError(t, j.Finalize(t0))

	t.Run("rejects step with missing prerequisites", func(t *testing.T) {
		err := j.ResetStep(StepGenerateEmbeddings, t0)
		var pre *PrerequisiteError
		require.ErrorAs(t, err, &pre)
		assert.Equal(t, []StepName{StepExtractMetadata}, pre.Missing)
	})

	t.Run("resets only the named step", func(t *testing.T) {
		require.NoError(t, j.ResetStep(StepExtractMetadata, t0))
		assert.Equal(t, StepPending, j.Step(StepExtractMetadata).Status)
		assert.Empty(t, j.Step(StepExtractMetadata).Error)
		assert.Equal(t, StepCompleted, j.Step(StepExtractText).Status)
		assert.Equal(t, StepPending, j.Step(StepGenerateEmbeddings).Status)
	})

	t.Run("rejects resetting a pending step", func(t *testing.T) {
		err := j.ResetStep(StepExtractMetadata, t0)
		var te *TransitionError
		assert.ErrorAs(t, err, &te)
	})
}

func TestJob_FinalizeWithPendingMandatorySteps(t *testing.T) {
	j := NewJob("j1", "a.pdf", "k", "", PipelineSteps(false), t0)
	require.NoError(t, j.Begin(t0))
	runStep(t, j, StepExtractText)
	require.NoError(t, j.Finalize(t0))

	assert.Equal(t, JobFailed, j.Status)
	assert.Equal(t, StepExtractMetadata, j.CurrentStep)
	assert.Contains(t, j.Error, "extract_metadata")
}

func TestJob_ProgressIsMonotonicAcrossRetry(t *testing.T) {
	j := NewJob("j1", "a.pdf", "k", "", PipelineSteps(false), t0)
	require.NoError(t, j.Begin(t0))
	runStep(t, j, StepExtractText)
	runStep(t, j, StepExtractMetadata)
	runStep(t, j, StepGenerateEmbeddings)
	require.NoError(t, j.Finalize(t0))
	require.Equal(t, 100, j.Progress)

	require.NoError(t, j.ResetStep(StepGenerateEmbeddings, t0))
	require.NoError(t, j.Begin(t0))
	runStep(t, j, StepGenerateEmbeddings)
	assert.Equal(t, 100, j.Progress)
}

func TestParseStepName(t *testing.T) {
	s, ok := ParseStepName("generate_embeddings")
	assert.True(t, ok)
	assert.Equal(t, StepGenerateEmbeddings, s)

	_, ok = ParseStepName("ocr")
	assert.False(t, ok)
}

func TestJob_ResetIncomplete(t *testing.T) {
	j := NewJob("j1", "a.pdf", "k", "", PipelineSteps(true), t0)
	_, err := j.ResetIncomplete(t0)
	var te *TransitionError
	require.ErrorAs(t, err, &te)

	require.NoError(t, j.Begin(t0))
	runStep(t, j, StepExtractText)
	require.NoError(t, j.StartStep(StepExtractMetadata, t0))
	require.NoError(t, j.FailStep(StepExtractMetadata, errors.New("x"), t0))
	require.NoError(t, j.Finalize(t0))

	reset, err := j.ResetIncomplete(t0)
	require.NoError(t, err)
	assert.Equal(t, []StepName{StepExtractMetadata}, reset)
	assert.Equal(t, StepExtractMetadata, j.CurrentStep)
	assert.Equal(t, []StepName{StepExtractMetadata, StepGenerateEmbeddings, StepSemanticChunking}, j.Pending())
	assert.Equal(t, StepCompleted, j.Step(StepExtractText).Status)

	reset, err = j.ResetIncomplete(t0)
	require.NoError(t, err)
	assert.Empty(t, reset)
}
