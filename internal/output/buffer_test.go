package output

import (
	"fmt"
	"sync"
	"testing"
)

func TestBuffer_ReadIncremental(t *testing.T) {
	b := NewBuffer()
	for i := 1; i <= 5; i++ {
		b.Append(fmt.Sprintf("l%d", i))
	}

	lines, next := b.Read(0)
	if len(lines) != 5 || next != 5 {
		t.Fatalf("Read(0) = (%d lines, %d), want (5, 5)", len(lines), next)
	}

	lines, next = b.Read(5)
	if len(lines) != 0 || next != 5 {
		t.Errorf("Read(5) = (%v, %d), want ([], 5)", lines, next)
	}
	if lines == nil {
		t.Error("Read past end returned nil, want empty slice")
	}

	lines, next = b.Read(42)
	if len(lines) != 0 || next != 5 {
		t.Errorf("Read(42) = (%v, %d), want ([], 5)", lines, next)
	}
}

func TestBuffer_Order(t *testing.T) {
	b := NewBuffer()
	want := []string{"l1", "l2", "l3"}
	for _, l := range want {
		b.Append(l)
	}
	got, _ := b.Read(0)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuffer_Eviction(t *testing.T) {
	b := NewBuffer()
	maxLen := 0
	for i := 0; i < 25000; i++ {
		b.Append(fmt.Sprintf("line %d", i))
		if n := b.Len(); n > maxLen {
			maxLen = n
		}
	}
	if maxLen > DefaultHighWater+1 {
		t.Errorf("max Len() = %d, want <= %d", maxLen, DefaultHighWater+1)
	}
	if b.End() != 25000 {
		t.Errorf("End() = %d, want 25000", b.End())
	}

	// Offsets below the base are clamped: evicted lines are skipped.
	lines, next := b.Read(0)
	if next != 25000 {
		t.Errorf("next = %d, want 25000", next)
	}
	wantFirst := fmt.Sprintf("line %d", b.Base())
	if lines[0] != wantFirst {
		t.Errorf("first line = %q, want %q", lines[0], wantFirst)
	}
	if len(lines) != b.Len() {
		t.Errorf("len(lines) = %d, want %d", len(lines), b.Len())
	}
}

func TestBuffer_SmallLimits(t *testing.T) {
	b := NewBufferSize(4, 2)
	for i := 0; i < 5; i++ {
		b.Append(fmt.Sprintf("%d", i))
	}
	// 5 lines > 4 triggers one eviction of 2.
	if b.Base() != 2 || b.Len() != 3 {
		t.Fatalf("Base()=%d Len()=%d, want 2 and 3", b.Base(), b.Len())
	}
	lines, next := b.Read(3)
	if next != 5 || len(lines) != 2 || lines[0] != "3" {
		t.Errorf("Read(3) = (%v, %d), want ([3 4], 5)", lines, next)
	}
}

func TestBuffer_ReadDoesNotMutate(t *testing.T) {
	b := NewBuffer()
	b.Append("a")
	lines, _ := b.Read(0)
	lines[0] = "changed"
	again, _ := b.Read(0)
	if again[0] != "a" {
		t.Errorf("buffer mutated through Read result: %q", again[0])
	}
}

func TestBuffer_ConcurrentReaders(t *testing.T) {
	b := NewBufferSize(100, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			b.Append("x")
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			offset := 0
			for i := 0; i < 1000; i++ {
				lines, next := b.Read(offset)
				if next < offset {
					t.Errorf("offset went backwards: %d -> %d", offset, next)
					return
				}
				if len(lines) > 101 {
					t.Errorf("read %d lines, exceeds bound", len(lines))
					return
				}
				offset = next
			}
		}()
	}
	wg.Wait()
}
