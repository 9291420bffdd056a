package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedDoc = `
[[terms]]
id = "term-1"
university_id = "uni-1"
name = "2025/26 S2"
active = true

[[units]]
id = "unit-1"
university_id = "uni-1"
code = "CSC 221"
name = "Data Structures"

[[programmes]]
id = "cs"
university_id = "uni-1"
name = "Computer Science"
department = "Computing"

[[students]]
id = "stud-1"
registration_number = "SCT211-0001/2023"
full_name = "Wanjiru Kamau"
device_id = "pixel-7"

[[students]]
id = "stud-2"
registration_number = "SCT211-0002/2023"
full_name = "Otieno Ouma"

[[assignments]]
lecturer_id = "lect-1"
unit_id = "unit-1"
programme_id = "cs"
academic_term_id = "term-1"

[[enrollments]]
student_id = "stud-2"
programme_id = "cs"
academic_term_id = "term-1"
year_of_study = 2
`

func TestSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.toml")
	require.NoError(t, os.WriteFile(path, []byte(seedDoc), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	m := NewMemory()
	m.Apply(seed)
	ctx := context.Background()

	term, err := m.ActiveTerm(ctx, "uni-1")
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.Equal(t, "term-1", term.ID)

	s1, err := m.GetStudentByRegistration(ctx, "sct211-0001/2023")
	require.NoError(t, err)
	require.NotNil(t, s1)
	require.NotNil(t, s1.DeviceID)
	assert.Equal(t, "pixel-7", *s1.DeviceID)

	s2, err := m.GetStudent(ctx, "stud-2")
	require.NoError(t, err)
	assert.Nil(t, s2.DeviceID)

	denied, err := m.UnauthorizedProgrammes(ctx, "lect-1", "unit-1", "term-1", []string{"cs", "law"})
	require.NoError(t, err)
	assert.Equal(t, []string{"law"}, denied)

	enrollment, err := m.ActiveEnrollment(ctx, "stud-2", "term-1")
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.Equal(t, 2, enrollment.YearOfStudy)
}

func TestLoadSeed_Errors(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[terms]\n"), 0o600))
	_, err = LoadSeed(path)
	assert.Error(t, err)
}
