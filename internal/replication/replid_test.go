package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateReplIDIsValid(t *testing.T) {
	id := GenerateReplID()
	require.Len(t, id, 40)
	require.NoError(t, ValidateReplID(id))
}

func TestValidateReplIDRejectsBadInput(t *testing.T) {
	require.Error(t, ValidateReplID("too-short"))
	require.Error(t, ValidateReplID(""))

	upper := make([]byte, 40)
	for i := range upper {
		upper[i] = 'A'
	}
	require.Error(t, ValidateReplID(string(upper)))
}

func TestGenerateReplIDIsRandom(t *testing.T) {
	require.NotEqual(t, GenerateReplID(), GenerateReplID())
}
