package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katakuxiko/smeplug/internal/model"
)

func TestVerifyThreshold(t *testing.T) {
	cases := []struct {
		name string
		best float64
		ok   bool
	}{
		{"close match", 0.3, true},
		{"exact match", 0, true},
		{"boundary accepts", 0.5, true},
		{"just above", 0.5000001, false},
		{"far", 0.9, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, detail := Verify([]model.ScoredChunk{scored("d", 1, "A", tc.best), scored("e", 2, "A", 1.5)}, 0.5)
			assert.Equal(t, tc.ok, res.ContextOK)
			assert.Equal(t, tc.best, res.BestDistance)
			assert.Contains(t, detail, "threshold 0.5000")
		})
	}
}

func TestVerifyUsesFirstChunk(t *testing.T) {
	// retrieval ranks ascending, so only index 0 is consulted
	res, _ := Verify([]model.ScoredChunk{scored("d", 1, "A", 0.7), scored("e", 1, "A", 0.1)}, 0.5)
	assert.False(t, res.ContextOK)
}

func TestVerifyEmpty(t *testing.T) {
	res, detail := Verify(nil, 0.5)
	assert.False(t, res.ContextOK)
	assert.Equal(t, "No chunks retrieved from vector store.", detail)
}

func TestVerifierStageStatus(t *testing.T) {
	v := NewVerifier(0.5)

	d, err := v.Run(context.Background(), QueryState{Retrieval: &Retrieval{Chunks: []model.ScoredChunk{scored("d", 1, "A", 0.2)}}})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, d.Status)
	require.NotNil(t, d.Verification)
	assert.True(t, d.Verification.ContextOK)

	d, err = v.Run(context.Background(), QueryState{Retrieval: &Retrieval{}})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, d.Status)
	assert.False(t, d.Verification.ContextOK)
}
