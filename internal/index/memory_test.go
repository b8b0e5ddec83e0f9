package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendAnswersFromIndexedText(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(1)
	store, err := b.CreateStore(ctx, "Matter-1")
	require.NoError(t, err)

	contract, err := b.Submit(ctx, store, Upload{
		Content:     []byte("Preamble. The contract term is five years. Payment is due monthly."),
		DisplayName: "contract_v1.pdf",
	})
	require.NoError(t, err)
	photo, err := b.Submit(ctx, store, Upload{Content: []byte{0xff, 0xd8, 0xff}, DisplayName: "photo.jpg"})
	require.NoError(t, err)

	// nothing indexed yet
	_, err = b.Query(ctx, store, "contract term", nil)
	require.Error(t, err)

	for _, job := range []*Job{contract, photo} {
		st, err := b.Status(ctx, job)
		require.NoError(t, err)
		require.True(t, st.Done)
	}

	answer, err := b.Query(ctx, store, "What does the contract say about the term?", nil)
	require.NoError(t, err)
	assert.Equal(t, "contract_v1.pdf: The contract term is five years", answer)

	answer, err = b.Query(ctx, store, "zebra", []FileRef{{Name: contract.FileName}})
	require.NoError(t, err)
	assert.Contains(t, answer, "No passage")
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"contract", "term"}, keywords("What does the contract say about the term?"))
	assert.Equal(t, []string{"契約"}, keywords("契約"))
	assert.Empty(t, keywords("a ?"))
}

func TestMemoryBackendAdoptsStoreFromEarlierProcess(t *testing.T) {
	ctx := context.Background()
	before := NewMemoryBackend(1)
	store, err := before.CreateStore(ctx, "Matter-1")
	require.NoError(t, err)

	// a fresh backend only knows the store name the catalog kept
	after := NewMemoryBackend(1)
	job, err := after.Submit(ctx, store, Upload{Content: []byte("The claim seeks damages."), DisplayName: "claim.pdf"})
	require.NoError(t, err)
	st, err := after.Status(ctx, job)
	require.NoError(t, err)
	require.True(t, st.Done)

	answer, err := after.Query(ctx, store, "damages claim", nil)
	require.NoError(t, err)
	assert.Contains(t, answer, "claim.pdf")

	other, err := after.CreateStore(ctx, "Matter-2")
	require.NoError(t, err)
	assert.NotEqual(t, store, other)
}
