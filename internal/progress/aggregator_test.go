package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/media"
)

func task(id string, size int64, kind media.Kind) *data.Task {
	return data.NewTask(data.ResourceDescriptor{ID: id, ExpectedSize: size, Kind: kind}, time.Now())
}

func TestAggregatorKnownSizes(t *testing.T) {
	a := New()
	sizes := map[string]int64{"a": 100, "b": 200, "c": 300}
	for id, n := range sizes {
		a.Add(task(id, n, media.KindImage))
	}
	if got := a.Snapshot(); got.BytesExpected != 600 || got.BytesDone != 0 {
		t.Fatalf("initial totals: %+v", got)
	}

	var wantDone int64
	for id, n := range sizes {
		a.Status(id, data.StatusActive)
		var last int64
		for _, step := range []int64{n / 2, n} {
			prev := a.Snapshot().BytesDone
			a.Progress(id, step)
			if delta := a.Snapshot().BytesDone - prev; delta != step-last {
				t.Fatalf("progress delta for %s = %d want %d", id, delta, step-last)
			}
			last = step
		}
		a.Status(id, data.StatusCompleted)
		wantDone += n
		if got := a.Snapshot().BytesDone; got != wantDone {
			t.Fatalf("after %s completed BytesDone = %d want %d", id, got, wantDone)
		}
	}

	got := a.Snapshot()
	if got.BytesDone != 600 || got.BytesExpected != 600 {
		t.Fatalf("final totals = %d/%d want 600/600", got.BytesDone, got.BytesExpected)
	}
	if got.ByKind[media.KindImage].Completed != 3 {
		t.Fatalf("image completed = %d", got.ByKind[media.KindImage].Completed)
	}
	if got.ByStatus[data.StatusCompleted] != 3 || got.ByStatus[data.StatusActive] != 0 {
		t.Fatalf("by status = %v", got.ByStatus)
	}
	if got.Fraction() != 1 {
		t.Fatalf("fraction = %v", got.Fraction())
	}
}

func TestAggregatorCompletionFillsDroppedProgress(t *testing.T) {
	a := New()
	a.Add(task("a", 1000, media.KindVideo))
	a.Status("a", data.StatusActive)
	a.Progress("a", 10)
	a.Status("a", data.StatusCompleted)
	if got := a.Snapshot().BytesDone; got != 1000 {
		t.Fatalf("BytesDone = %d want 1000", got)
	}
}

func TestAggregatorClampsToExpected(t *testing.T) {
	a := New()
	a.Add(task("a", 100, media.KindVideo))
	a.Progress("a", 150)
	if got := a.Snapshot().BytesDone; got != 100 {
		t.Fatalf("BytesDone = %d want 100", got)
	}
}

func TestAggregatorUnknownSizes(t *testing.T) {
	a := New()
	a.Add(task("sized", 50, media.KindArchive))
	a.Add(task("u1", data.UnknownSize, media.KindDocument))
	a.Add(task("u2", data.UnknownSize, media.KindDocument))

	a.Status("u1", data.StatusActive)
	a.Progress("u1", 4096)
	a.Status("u1", data.StatusCompleted)
	a.Status("u2", data.StatusActive)
	a.Status("u2", data.StatusFailed)

	got := a.Snapshot()
	if got.CountDone != 1 || got.CountTotal != 2 {
		t.Fatalf("count = %d/%d want 1/2", got.CountDone, got.CountTotal)
	}
	if got.BytesExpected != 50 {
		t.Fatalf("unknown sizes leaked into BytesExpected: %d", got.BytesExpected)
	}
	if got.UnsizedBytes != 4096 {
		t.Fatalf("UnsizedBytes = %d", got.UnsizedBytes)
	}
	if got.ByKind[media.KindDocument].Failed != 1 {
		t.Fatalf("document failed = %d", got.ByKind[media.KindDocument].Failed)
	}

	// explicit retry takes the task out of the failed bucket
	a.Status("u2", data.StatusPending)
	if got := a.Snapshot(); got.ByKind[media.KindDocument].Failed != 0 {
		t.Fatalf("failed not decremented on retry: %+v", got.ByKind)
	}
}

func TestAggregatorCancelRemovesBytes(t *testing.T) {
	a := New()
	a.Add(task("a", 100, media.KindImage))
	a.Add(task("b", 200, media.KindImage))
	a.Progress("a", 40)
	a.Status("a", data.StatusCancelled)
	a.Progress("a", 90) // late progress from the aborted worker

	got := a.Snapshot()
	if got.BytesExpected != 200 || got.BytesDone != 0 {
		t.Fatalf("totals after cancel = %d/%d want 0/200", got.BytesDone, got.BytesExpected)
	}

	a.Remove("b")
	a.Remove("a")
	got = a.Snapshot()
	if got.Tasks != 0 || got.BytesExpected != 0 || got.ByKind[media.KindImage].Total != 0 {
		t.Fatalf("totals after remove: %+v", got)
	}
}

func TestAggregatorConcurrentProgress(t *testing.T) {
	a := New()
	const n = 20
	for i := 0; i < n; i++ {
		a.Add(task(string(rune('a'+i)), 1000, media.KindVideo))
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for done := int64(0); done <= 1000; done += 100 {
				a.Progress(id, done)
				_ = a.Snapshot()
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	if got := a.Snapshot().BytesDone; got != n*1000 {
		t.Fatalf("BytesDone = %d want %d", got, n*1000)
	}
}
