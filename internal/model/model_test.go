package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserKind(t *testing.T) {
	cases := map[string]UserKind{
		"patient":        KindPatient,
		"Provider":       KindProvider,
		"caregiver":      KindCaregiver,
		"customer-admin": KindCustomerAdmin,
		"customer_admin": KindCustomerAdmin,
		"super_admin":    KindSuperAdmin,
	}
	for in, want := range cases {
		got, err := ParseUserKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseUserKind("nurse")
	assert.Error(t, err)
}

func TestUserKindText(t *testing.T) {
	var k UserKind
	require.NoError(t, k.UnmarshalText([]byte("caregiver")))
	assert.Equal(t, KindCaregiver, k)
	assert.True(t, k.IsCarer())

	text, err := KindCustomerAdmin.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "customer_admin", string(text))
	assert.False(t, KindCustomerAdmin.IsCarer())
}

func TestFlagAndBitScan(t *testing.T) {
	var f Flag
	require.NoError(t, f.Scan("Y"))
	assert.True(t, bool(f))
	require.NoError(t, f.Scan([]byte("N")))
	assert.False(t, bool(f))

	v, err := Flag(true).Value()
	require.NoError(t, err)
	assert.Equal(t, "Y", v)

	var b Bit
	require.NoError(t, b.Scan(int64(1)))
	assert.True(t, bool(b))
	require.NoError(t, b.Scan(nil))
	assert.False(t, bool(b))
}

func TestDiffPatients(t *testing.T) {
	toDelete, toInsert := DiffPatients([]int64{1, 2, 3}, []int64{3, 4, 4, 5})

	assert.Equal(t, []int64{1, 2}, toDelete)
	assert.Equal(t, []int64{4, 5}, toInsert)
}

func TestDiffPatientsNoChange(t *testing.T) {
	toDelete, toInsert := DiffPatients([]int64{2, 1}, []int64{1, 2, 2})

	assert.Empty(t, toDelete)
	assert.Empty(t, toInsert)
}

func TestDedup(t *testing.T) {
	assert.Equal(t, []int64{1, 7, 9}, Dedup([]int64{9, 1, 9, 7, 1}))
	assert.Empty(t, Dedup(nil))
}

func TestCallTransitions(t *testing.T) {
	assert.True(t, CallNotStarted.CanTransition(CallDraft))
	assert.True(t, CallNotStarted.CanTransition(CallCompleted))
	assert.True(t, CallDraft.CanTransition(CallDraft))
	assert.True(t, CallDraft.CanTransition(CallCompleted))
	assert.True(t, CallDraft.CanTransition(CallDeleted))

	assert.False(t, CallNotStarted.CanTransition(CallDeleted))
	assert.False(t, CallCompleted.CanTransition(CallDraft))
	assert.False(t, CallCompleted.CanTransition(CallDeleted))
	assert.False(t, CallCompleted.CanTransition(CallCompleted))
	assert.False(t, CallDeleted.CanTransition(CallDraft))
}

func TestCallSetEnd(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	c := &CallRecord{StartTimestamp: start}

	c.SetEnd(&end)
	require.NotNil(t, c.Duration)
	assert.Equal(t, int64(90), *c.Duration)
	assert.Equal(t, end, *c.EndTimestamp)

	c.SetEnd(nil)
	assert.Nil(t, c.Duration)
	assert.Nil(t, c.EndTimestamp)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", (&PHI{FirstName: "Ada", LastName: "Lovelace"}).DisplayName())
	assert.Equal(t, "Ada", (&PHI{FirstName: "Ada"}).DisplayName())
	assert.Equal(t, "", (*PHI)(nil).DisplayName())
}
