package series

import (
	"sync"
	"testing"
	"time"

	"github.com/hw3579/trading-bot/internal/model"
)

var base = time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)

func bar(i int) model.Candle {
	p := float64(100 + i)
	return model.Candle{TS: base.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1}
}

func bars(from, to int) []model.Candle {
	out := make([]model.Candle, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, bar(i))
	}
	return out
}

func TestStore_AppendInOrder(t *testing.T) {
	s := New(10, "1m")
	res := s.Append(bars(0, 2))

	if len(res.Accepted) != 3 || res.Rejected != 0 {
		t.Fatalf("expected 3 accepted 0 rejected, got %d/%d", len(res.Accepted), res.Rejected)
	}
	if s.Len() != 3 {
		t.Fatalf("expected len=3, got %d", s.Len())
	}
	last, ok := s.Last()
	if !ok || !last.TS.Equal(bar(2).TS) {
		t.Fatalf("expected last=%v, got %v ok=%v", bar(2).TS, last.TS, ok)
	}
}

func TestStore_RejectsReplay(t *testing.T) {
	s := New(10, "1m")
	s.Append(bars(0, 4))

	// Same tail window re-fetched plus one new bar.
	res := s.Append(bars(2, 5))
	if len(res.Accepted) != 1 {
		t.Fatalf("expected 1 accepted, got %d", len(res.Accepted))
	}
	if res.Rejected != 3 {
		t.Fatalf("expected 3 rejected, got %d", res.Rejected)
	}
	if s.Len() != 6 {
		t.Fatalf("expected len=6, got %d", s.Len())
	}
}

func TestStore_DuplicateWithinBatch(t *testing.T) {
	s := New(10, "1m")
	in := append(bars(0, 1), bar(1), bar(0))
	res := s.Append(in)
	if len(res.Accepted) != 2 || res.Rejected != 2 {
		t.Fatalf("expected 2 accepted 2 rejected, got %d/%d", len(res.Accepted), res.Rejected)
	}
}

func TestStore_UnsortedInput(t *testing.T) {
	s := New(10, "1m")
	s.Append([]model.Candle{bar(2), bar(0), bar(1)})

	snap := s.Snapshot()
	for i := 1; i < snap.Len(); i++ {
		if !snap.At(i).TS.After(snap.At(i - 1).TS) {
			t.Fatalf("series not strictly increasing at %d", i)
		}
	}
}

func TestStore_Retention(t *testing.T) {
	const bound = 5
	for _, m := range []int{6, 12, 50} {
		s := New(bound, "1m")
		// Mix single and batched inserts.
		s.Append(bars(0, 0))
		s.Append(bars(1, m-1))

		if s.Len() != bound {
			t.Fatalf("M=%d: expected len=%d, got %d", m, bound, s.Len())
		}
		oldest := s.Snapshot().At(0)
		want := bar(m - bound) // the (M - bound + 1)-th inserted
		if !oldest.TS.Equal(want.TS) {
			t.Errorf("M=%d: oldest got %v, want %v", m, oldest.TS, want.TS)
		}
		if s.Evicted() != uint64(m-bound) {
			t.Errorf("M=%d: evicted got %d, want %d", m, s.Evicted(), m-bound)
		}
	}
}

func TestStore_DetectsGap(t *testing.T) {
	s := New(10, "1m")
	s.Append(bars(0, 1))

	res := s.Append([]model.Candle{bar(5)})
	if len(res.Gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(res.Gaps))
	}
	g := res.Gaps[0]
	if g.Missing != 3 {
		t.Errorf("missing: got %d, want 3", g.Missing)
	}
	if !g.After.Equal(bar(1).TS) || !g.Before.Equal(bar(5).TS) {
		t.Errorf("gap bounds: got %v..%v", g.After, g.Before)
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := New(3, "1m")
	s.Append(bars(0, 2))
	before := s.Snapshot()

	s.Append(bars(3, 4))

	if before.Len() != 3 || !before.At(0).TS.Equal(bar(0).TS) {
		t.Fatal("old snapshot was mutated by a later append")
	}
	after := s.Snapshot()
	if !after.At(0).TS.Equal(bar(2).TS) {
		t.Errorf("new snapshot oldest: got %v", after.At(0).TS)
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := New(50, "1m")
	const n = 2000

	var wg sync.WaitGroup
	done := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := s.Snapshot()
				for i := 1; i < snap.Len(); i++ {
					if !snap.At(i).TS.After(snap.At(i - 1).TS) {
						t.Error("torn snapshot observed")
						return
					}
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		s.Append([]model.Candle{bar(i)})
	}
	close(done)
	wg.Wait()

	if s.Len() != 50 {
		t.Fatalf("expected len=50, got %d", s.Len())
	}
}
