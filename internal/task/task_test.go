package task

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[[tasks]]
task_id = "7f2c6a42-9d1e-4f0b-8a3c-2b1d5e6f7a80"
question = "Print the sum of two integers read from stdin."

[[tasks.public_test_cases]]
id = "11111111-1111-1111-1111-111111111111"
stdin = "1 2"
expected = "3"

[[tasks.private_test_cases]]
id = "22222222-2222-2222-2222-222222222222"
stdin = "40 2"
expected = "42"

[[tasks]]
task_id = "8a3d7b53-0e2f-4a1c-9b4d-3c2e6f7a8b91"
question = "Print the input string reversed."

[[tasks.public_test_cases]]
id = "33333333-3333-3333-3333-333333333333"
stdin = "abc"
expected = "cba"
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	assert.Equal(t, "Print the sum of two integers read from stdin.", c.tasks[0].Question)
	require.Len(t, c.tasks[0].PublicTestCases, 1)
	require.Len(t, c.tasks[0].PrivateTestCases, 1)
	assert.Equal(t, "42", c.tasks[0].PrivateTestCases[0].Expected)
}

func TestParseRejectsMissingQuestion(t *testing.T) {
	_, err := Parse([]byte(`
[[tasks]]
task_id = "7f2c6a42-9d1e-4f0b-8a3c-2b1d5e6f7a80"
question = ""

[[tasks.public_test_cases]]
id = "11111111-1111-1111-1111-111111111111"
stdin = "x"
expected = "y"
`))
	assert.ErrorContains(t, err, "no question")
}

func TestParseRejectsMissingPublicCases(t *testing.T) {
	_, err := Parse([]byte(`
[[tasks]]
task_id = "7f2c6a42-9d1e-4f0b-8a3c-2b1d5e6f7a80"
question = "Do something."
`))
	assert.ErrorContains(t, err, "no public test cases")
}

func TestPrivateCasesNeverSerialise(t *testing.T) {
	c, err := Parse([]byte(sampleTOML))
	require.NoError(t, err)

	data, err := json.Marshal(c.tasks[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "40 2")
	assert.NotContains(t, string(data), "private")
	assert.Contains(t, string(data), "public_test_cases")
}

func TestSample(t *testing.T) {
	tasks := make([]GameTask, 5)
	for i := range tasks {
		tasks[i] = GameTask{TaskID: uuid.New(), Question: "q", PublicTestCases: []TestCase{{}}}
	}
	c := NewCatalogue(tasks)

	picked, err := c.Sample(3)
	require.NoError(t, err)
	assert.Len(t, picked, 3)

	// Distinct tasks only.
	seen := map[uuid.UUID]bool{}
	for _, p := range picked {
		assert.False(t, seen[p.TaskID])
		seen[p.TaskID] = true
	}
}

func TestSampleWholeCatalogue(t *testing.T) {
	c := NewCatalogue([]GameTask{
		{TaskID: uuid.New(), Question: "a", PublicTestCases: []TestCase{{}}},
		{TaskID: uuid.New(), Question: "b", PublicTestCases: []TestCase{{}}},
	})
	picked, err := c.Sample(2)
	require.NoError(t, err)
	assert.Len(t, picked, 2)
}

func TestSampleBounds(t *testing.T) {
	c := NewCatalogue([]GameTask{{TaskID: uuid.New(), Question: "a", PublicTestCases: []TestCase{{}}}})

	_, err := c.Sample(0)
	assert.Error(t, err)

	_, err = c.Sample(-1)
	assert.Error(t, err)

	_, err = c.Sample(2)
	assert.Error(t, err)
}
