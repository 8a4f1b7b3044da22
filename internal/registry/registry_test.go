package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToDefault(t *testing.T) {
	t.Parallel()

	reg, err := Load(filepath.Join(t.TempDir(), "questions.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default().Categories, reg.Categories)
	assert.NotEmpty(t, reg.ActiveQuestions())
}

func TestLoad_ParsesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "questions.yaml")
	content := `
categories:
  - renewals
  - cancellations
questions:
  - id: churn-risk
    text: Does the caller sound likely to cancel?
    field_key: churn_risk
    output_format: boolean
    active: true
  - id: retired
    text: Old question no longer in use.
    field_key: old
    output_format: text
    active: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"renewals", "cancellations"}, reg.Categories)
	// Sentiments were omitted, so the defaults fill in.
	assert.Equal(t, Default().Sentiments, reg.Sentiments)

	active := reg.ActiveQuestions()
	require.Len(t, active, 1)
	assert.Equal(t, "churn-risk", active[0].ID)
	assert.Equal(t, "churn_risk", active[0].FieldKey)
}

func TestLoad_MalformedYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("questions: {not a list"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsQuestionWithoutFieldKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "questions.yaml")
	content := `
questions:
  - id: broken
    text: Where does the answer go?
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidCategory(t *testing.T) {
	t.Parallel()

	reg := Default()
	assert.True(t, reg.ValidCategory("billing"))
	assert.False(t, reg.ValidCategory("weather"))
}
