package challenge

import (
	"reflect"
	"testing"
)

func fromDigits(d []int) int64 {
	var v int64
	for _, x := range d {
		v = v<<6 | int64(x)
	}
	return v
}

func TestComputeProofVectors(t *testing.T) {
	tests := []struct {
		name  string
		data  []int
		value int64
	}{
		// n=3, s=6, rounds=9: 6^9=10077696, then the add/xor pass.
		{"three values", []int{1, 2, 3}, 10077730},
		// n=2, s=3, rounds=11: 6^11 exceeds the high threshold, halved.
		{"high threshold divides", []int{1, 2}, 181398538},
		// n=1, s=4, rounds=11: divided by one, then 64 added and xor 4.
		{"single value", []int{4}, 362797124},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeProof(tt.data)
			if err != nil {
				t.Fatalf("ComputeProof(%v) error = %v", tt.data, err)
			}
			if v := fromDigits(got); v != tt.value {
				t.Errorf("ComputeProof(%v) = %v (%d), want %d", tt.data, got, v, tt.value)
			}
		})
	}
}

func TestProofRounds(t *testing.T) {
	tests := []struct {
		n, sum int
		want   int
	}{
		{3, 6, 9},
		{2, 3, 11},
		{1, 4, 11},
		{4, -12, 10},
		{1, -8, 11},
		{1, -13, 6},
	}
	for _, tt := range tests {
		if got := proofRounds(tt.n, tt.sum); got != tt.want {
			t.Errorf("proofRounds(%d, %d) = %d, want %d", tt.n, tt.sum, got, tt.want)
		}
	}
}

func TestComputeProofDigits(t *testing.T) {
	got, err := ComputeProof([]int{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	want := []int{38, 28, 24, 34}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ComputeProof([1 2 3]) = %v, want %v", got, want)
	}
}

func TestComputeProofDeterministic(t *testing.T) {
	inputs := [][]int{
		{1, 2, 3},
		{9, 41, 7, 0, 63},
		{255, 1000, 3, 17, 88, 2, 5, 120},
		{0},
	}
	for _, data := range inputs {
		a, err := ComputeProof(data)
		if err != nil {
			t.Fatalf("ComputeProof(%v) error = %v", data, err)
		}
		b, _ := ComputeProof(data)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("ComputeProof(%v) not deterministic: %v vs %v", data, a, b)
		}
		for _, d := range a {
			if d < 0 || d > 63 {
				t.Errorf("ComputeProof(%v) digit %d out of range", data, d)
			}
		}
		if len(a) > 0 && a[0] == 0 {
			t.Errorf("ComputeProof(%v) has a leading zero digit: %v", data, a)
		}
	}
}

func TestComputeProofEmpty(t *testing.T) {
	if _, err := ComputeProof(nil); err == nil {
		t.Error("expected error for empty data")
	}
}
