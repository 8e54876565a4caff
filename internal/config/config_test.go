package config

import "testing"

func TestSetChunkRadiusClamps(t *testing.T) {
	defer SetChunkRadius(GetChunkRadius())
	tests := []struct{ in, want int }{
		{-3, 0},
		{2, 2},
		{40, 7},
	}
	for _, tt := range tests {
		SetChunkRadius(tt.in)
		if got := GetChunkRadius(); got != tt.want {
			t.Fatalf("SetChunkRadius(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSetBudgetsKeepsZeroFields(t *testing.T) {
	orig := GetBudgets()
	defer SetBudgets(orig)

	SetBudgets(BuildBudgets{StagingVertices: 1000})
	got := GetBudgets()
	if got.StagingVertices != 1000 {
		t.Fatalf("StagingVertices: got %d, want 1000", got.StagingVertices)
	}
	if got.ScratchSize != orig.ScratchSize || got.StagingIndices != orig.StagingIndices {
		t.Fatalf("zero fields changed: got %+v, had %+v", got, orig)
	}
}

func TestSetNoiseClampsOctaves(t *testing.T) {
	orig := GetNoise()
	defer SetNoise(orig)

	n := orig
	n.Octaves = 0
	n.SampleScale = 0
	SetNoise(n)
	if got := GetNoise(); got.Octaves != 1 || got.SampleScale != 1 {
		t.Fatalf("got octaves %d scale %v, want 1 and 1", got.Octaves, got.SampleScale)
	}
}

func TestSetFPSLimitNegativeIsUnlimited(t *testing.T) {
	orig := GetFPSLimit()
	defer SetFPSLimit(orig)

	SetFPSLimit(-5)
	if got := GetFPSLimit(); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	SetFPSLimit(60)
	if got := GetFPSLimit(); got != 60 {
		t.Fatalf("got %d, want 60", got)
	}
}
