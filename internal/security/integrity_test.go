package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/stableyield-index/internal/model"
)

func sampleResult() model.SYIResult {
	return model.SYIResult{
		AsOfDate:           "2025-01-15",
		SYIDecimal:         0.0447448,
		SYIPercent:         4.47448,
		MethodologyVersion: "1.0.0",
		ComponentsCount:    6,
		CalculatedAt:       time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, err := NewResultSigner()
	require.NoError(t, err)

	record, err := signer.Sign(sampleResult())
	require.NoError(t, err)

	assert.NotEmpty(t, record.Hash)
	assert.NotEmpty(t, record.Signature)
	assert.Equal(t, signer.PublicKey(), record.PublicKey)

	ok, err := Verify(record)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_DetectsTamperedResult(t *testing.T) {
	signer, err := NewResultSigner()
	require.NoError(t, err)

	record, err := signer.Sign(sampleResult())
	require.NoError(t, err)

	record.Result.SYIPercent = 9.99
	record.Result.SYIDecimal = 0.0999

	ok, err := Verify(record)
	require.NoError(t, err)
	assert.False(t, ok, "a modified result must fail verification")
}

func TestVerify_DetectsForeignSignature(t *testing.T) {
	signerA, err := NewResultSigner()
	require.NoError(t, err)
	signerB, err := NewResultSigner()
	require.NoError(t, err)

	record, err := signerA.Sign(sampleResult())
	require.NoError(t, err)

	// swap in a different key's signature over the same payload
	other, err := signerB.Sign(sampleResult())
	require.NoError(t, err)
	record.Signature = other.Signature

	ok, err := Verify(record)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_MalformedFields(t *testing.T) {
	signer, err := NewResultSigner()
	require.NoError(t, err)

	record, err := signer.Sign(sampleResult())
	require.NoError(t, err)

	t.Run("bad public key hex", func(t *testing.T) {
		broken := record
		broken.PublicKey = "zz-not-hex"
		_, err := Verify(broken)
		assert.Error(t, err)
	})

	t.Run("truncated signature", func(t *testing.T) {
		broken := record
		broken.Signature = "abcd"
		_, err := Verify(broken)
		assert.Error(t, err)
	})
}

func TestSign_Deterministic(t *testing.T) {
	signer, err := NewResultSigner()
	require.NoError(t, err)

	first, err := signer.Sign(sampleResult())
	require.NoError(t, err)
	second, err := signer.Sign(sampleResult())
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash, "the canonical digest is stable")
}
