// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package irq_test

import (
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/irq"
	"github.com/valyala/fastrand"
)

// =============================================================================
// Ring - Concurrent producers
// =============================================================================

// TestRingConcurrent runs 8 producers of 1000 unique ids each against one
// draining consumer and verifies the consumed multiset equals the produced
// multiset: nothing lost, nothing duplicated.
//
// Values are encoded as producerID*100000 + sequence.
func TestRingConcurrent(t *testing.T) {
	if irq.RaceEnabled {
		t.Skip("skip: cross-variable memory ordering confuses the race detector")
	}

	const (
		numProducers = 8
		perProducer  = 1000
		capacity     = 1024
	)
	timeout := 30 * time.Second

	q, err := irq.NewRing[int](capacity)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer q.Close()

	expected := numProducers * perProducer
	seen := make([]atomix.Int32, expected)
	var consumed atomix.Int64
	var timedOut atomix.Bool

	var producers sync.WaitGroup
	for p := range numProducers {
		producers.Add(1)
		go func(id int) {
			defer producers.Done()
			deadline := time.Now().Add(timeout)
			backoff := iox.Backoff{}
			for i := range perProducer {
				v := id*100000 + i
				for q.Enqueue(&v) != nil {
					if time.Now().After(deadline) {
						timedOut.Store(true)
						return
					}
					backoff.Wait()
				}
				backoff.Reset()
				// Occasional yield to shuffle producer interleavings.
				if fastrand.Uint32n(64) == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		deadline := time.Now().Add(timeout)
		backoff := iox.Backoff{}
		for consumed.Load() < int64(expected) {
			if timedOut.Load() || time.Now().After(deadline) {
				timedOut.Store(true)
				return
			}
			v, err := q.Dequeue()
			if err != nil {
				backoff.Wait()
				continue
			}
			backoff.Reset()
			id, seq := v/100000, v%100000
			if id < 0 || id >= numProducers || seq < 0 || seq >= perProducer {
				t.Errorf("value out of range: %d", v)
			} else if seen[id*perProducer+seq].Add(1) != 1 {
				t.Errorf("value %d consumed twice", v)
			}
			consumed.Add(1)
		}
	}()

	producers.Wait()
	consumers.Wait()

	if timedOut.Load() {
		t.Fatalf("timed out: consumed %d of %d", consumed.Load(), expected)
	}
	if consumed.Load() != int64(expected) {
		t.Fatalf("consumed %d, want %d", consumed.Load(), expected)
	}
	for i := range seen {
		if seen[i].Load() != 1 {
			t.Fatalf("value %d seen %d times", i, seen[i].Load())
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len after drain: got %d, want 0", q.Len())
	}
}

// TestRingConcurrentLossy is the drop-counting variant: producers
// do not retry, so pushes may fail on a full queue, but every successful
// push must be consumed exactly once.
func TestRingConcurrentLossy(t *testing.T) {
	if irq.RaceEnabled {
		t.Skip("skip: cross-variable memory ordering confuses the race detector")
	}

	const (
		numProducers = 8
		perProducer  = 1000
		capacity     = 1024
	)

	q, err := irq.NewRing[uint64](capacity)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer q.Close()

	var next atomix.Uint64
	var produced, dropped atomix.Int64
	var mu sync.Mutex
	var pushed, popped []uint64

	var producers sync.WaitGroup
	for range numProducers {
		producers.Add(1)
		go func() {
			defer producers.Done()
			local := make([]uint64, 0, perProducer)
			for range perProducer {
				v := next.Add(1)
				if q.Enqueue(&v) == nil {
					produced.Add(1)
					local = append(local, v)
				} else {
					dropped.Add(1)
				}
			}
			mu.Lock()
			pushed = append(pushed, local...)
			mu.Unlock()
		}()
	}

	stop := make(chan struct{})
	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		local := make([]uint64, 0, numProducers*perProducer)
		for {
			v, err := q.Dequeue()
			if err == nil {
				local = append(local, v)
				continue
			}
			select {
			case <-stop:
				// Producers are done; drain whatever is left.
				for {
					v, err := q.Dequeue()
					if err != nil {
						break
					}
					local = append(local, v)
				}
				mu.Lock()
				popped = append(popped, local...)
				mu.Unlock()
				return
			default:
			}
		}
	}()

	producers.Wait()
	close(stop)
	consumers.Wait()

	if produced.Load() == 0 {
		t.Fatal("no value was produced")
	}
	if int64(len(popped)) != produced.Load() {
		t.Fatalf("popped %d, produced %d (dropped %d)", len(popped), produced.Load(), dropped.Load())
	}

	sort.Slice(pushed, func(i, j int) bool { return pushed[i] < pushed[j] })
	sort.Slice(popped, func(i, j int) bool { return popped[i] < popped[j] })
	for i := range pushed {
		if pushed[i] != popped[i] {
			t.Fatalf("multiset mismatch at %d: pushed %d, popped %d", i, pushed[i], popped[i])
		}
	}
}

// =============================================================================
// Mailbox - Torn read detection
// =============================================================================

// TestMailboxTornReads cycles a 64KiB array through the mailbox while a
// reader checks, under a lease, that the first and last byte agree and are
// non-zero. A torn or in-progress write would break the equality.
func TestMailboxTornReads(t *testing.T) {
	if irq.RaceEnabled {
		t.Skip("skip: cross-variable memory ordering confuses the race detector")
	}

	const arraySize = 0x10000
	type bigArray [arraySize]byte

	duration := 3 * time.Second
	if testing.Short() {
		duration = 500 * time.Millisecond
	}

	m := irq.NewMailbox[bigArray]()

	// The writer parks on its spin if the reader stops leasing, so shutdown
	// is staged: stop the writer while the reader still polls, then the
	// reader.
	stopWriter := make(chan struct{})
	stopReader := make(chan struct{})
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})

	go func() { // writer
		defer close(writerDone)
		value := byte(1)
		var data bigArray
		for {
			select {
			case <-stopWriter:
				return
			default:
			}
			next := value
			value++
			if value == 0 {
				value = 1
			}
			for i := range data {
				data[i] = next
			}
			m.Write(data)
		}
	}()

	go func() { // reader
		defer close(readerDone)
		failed := false
		for {
			select {
			case <-stopReader:
				return
			default:
			}
			m.Lock()
			data := m.Read()
			first, last := data[0], data[arraySize-1]
			m.Unlock()
			if failed || (first == 0 && last == 0) {
				continue // already reported, or nothing published yet
			}
			// Keep leasing after a failure so the writer can still drain
			// and shut down; just report once.
			if first == 0 || last == 0 {
				t.Errorf("half-written value: first=%d last=%d", first, last)
				failed = true
			} else if first != last {
				t.Errorf("torn read: first=%d last=%d", first, last)
				failed = true
			}
		}
	}()

	time.Sleep(duration)
	close(stopWriter)
	<-writerDone
	close(stopReader)
	<-readerDone
}

// =============================================================================
// AtMostEvery - Calibration
// =============================================================================

// TestAtMostEveryConcurrent busy-loops up to 8 threads over a 500ms window
// with a 10ms interval; total activations must land within ±20% of the
// ideal 50, regardless of contention.
func TestAtMostEveryConcurrent(t *testing.T) {
	if testing.Short() {
		t.Skip("skip: timing calibration needs the full window")
	}

	const (
		window   = 500 * time.Millisecond
		interval = 10 * time.Millisecond
	)

	flag := irq.NewAtMostEvery(interval)

	threads := runtime.GOMAXPROCS(0)
	if threads < 2 {
		threads = 2
	}
	if threads > 8 {
		threads = 8
	}

	var activations atomix.Int64
	end := time.Now().Add(window)

	var wg sync.WaitGroup
	for range threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				if flag.IsActive() {
					activations.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	ideal := int64(window / interval)
	low, high := ideal*8/10, ideal*12/10
	if got := activations.Load(); got < low || got > high {
		t.Fatalf("activations: got %d, want [%d, %d]", got, low, high)
	}
}

func TestAtMostEverySingleThread(t *testing.T) {
	if testing.Short() {
		t.Skip("skip: timing calibration needs the full window")
	}

	const (
		window   = 500 * time.Millisecond
		interval = 10 * time.Millisecond
	)

	flag := irq.NewAtMostEvery(interval)

	activations := 0
	end := time.Now().Add(window)
	for time.Now().Before(end) {
		if flag.IsActive() {
			activations++
		}
	}

	ideal := int(window / interval)
	low, high := ideal*8/10, ideal*12/10
	if activations < low || activations > high {
		t.Fatalf("activations: got %d, want [%d, %d]", activations, low, high)
	}
}
