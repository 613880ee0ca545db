package stream

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

func divideByTwo(n int) int {
	return n / 2
}

func multiplyByTwo(n int) int {
	return n * 2
}

func isNonZero(n int) bool {
	return n != 0
}

func TestStream1(t *testing.T) {
	data := []int{0, 2, 4, 6, 8}
	ctx := context.Background()
	myStream := Slice(ctx, data)
	result := Collect(ctx,
		Transform(ctx, divideByTwo,
			Filter(ctx, isNonZero,
				myStream)))

	if !slices.Equal([]int{1, 2, 3, 4}, result) {
		t.Errorf("Expected [1, 2, 3, 4], got %v", result)
	}
}

func TestParallel(t *testing.T) {
	data := make([]int, 1000)
	for i := range data {
		data[i] = i
	}
	ctx := context.Background()
	result := Collect(ctx, Parallel(ctx, 8, multiplyByTwo, Slice(ctx, data)))
	slices.Sort(result)
	for i, v := range result {
		if v != i*2 {
			t.Fatalf("Expected %d at %d, got %d", i*2, i, v)
		}
	}
	if len(result) != len(data) {
		t.Errorf("Expected %d results, got %d", len(data), len(result))
	}
}

func TestChunks(t *testing.T) {
	cases := []struct {
		name string
		n    int
		size int
		want int
	}{
		{"empty", 0, 3, 0},
		{"exact", 9, 3, 3},
		{"remainder", 10, 3, 4},
		{"zero size", 2, 0, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			chunks := Chunks(make([]int, c.n), c.size)
			if len(chunks) != c.want {
				t.Errorf("Expected %d chunks, got %d", c.want, len(chunks))
			}
			total := 0
			for _, ch := range chunks {
				total += len(ch)
			}
			if total != c.n {
				t.Errorf("Expected %d elements, got %d", c.n, total)
			}
		})
	}
}

func TestMeter(t *testing.T) {
	metrics.Enabled = true
	m := metrics.NewMeter()
	m.Mark(47)
	if v := m.Snapshot().Count(); v != 47 {
		t.Fatalf("have %d want %d", v, 47)
	}
}

func TestTickMeter(t *testing.T) {
	m := NewTickMeter("test", time.Hour)
	defer m.Stop()
	for i := 0; i < 5; i++ {
		m.Mark(10)
	}
	if m.Count() != 5 {
		t.Errorf("Expected 5, got %d", m.Count())
	}
}
