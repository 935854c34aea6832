// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestOutboundQueue_FIFO(t *testing.T) {
	q := NewOutboundQueue()
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(Subscribe{Room: RoomID(fmt.Sprint(i))}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f, err := q.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got := f.(Subscribe).Room; got != RoomID(fmt.Sprint(i)) {
			t.Errorf("frame %d = room %s", i, got)
		}
	}
	if _, ok := q.TryNext(); ok {
		t.Error("queue should be empty")
	}
}

func TestOutboundQueue_NextWaitsForEnqueue(t *testing.T) {
	q := NewOutboundQueue()
	got := make(chan OutboundFrame, 1)
	go func() {
		f, err := q.Next(context.Background())
		if err == nil {
			got <- f
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before anything was queued")
	case <-time.After(50 * time.Millisecond):
	}

	_ = q.Enqueue(Subscribe{Room: "late"})
	select {
	case f := <-got:
		if f.(Subscribe).Room != "late" {
			t.Errorf("got %+v", f)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Next did not wake up")
	}
}

func TestOutboundQueue_NextCancelled(t *testing.T) {
	q := NewOutboundQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
}

func TestOutboundQueue_Close(t *testing.T) {
	q := NewOutboundQueue()
	_ = q.Enqueue(Subscribe{Room: "a"})
	q.Close()

	if err := q.Enqueue(Subscribe{Room: "b"}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrQueueClosed", err)
	}
	if f, err := q.Next(context.Background()); err != nil || f.(Subscribe).Room != "a" {
		t.Errorf("queued frame should still drain, got %v, %v", f, err)
	}
	if _, err := q.Next(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Next on drained closed queue = %v, want ErrQueueClosed", err)
	}
}

func TestOutboundQueue_ConcurrentProducers(t *testing.T) {
	q := NewOutboundQueue()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = q.Enqueue(ChatText{Room: RoomID(fmt.Sprint(p)), Text: fmt.Sprint(i)})
			}
		}(p)
	}
	wg.Wait()

	last := map[RoomID]int{}
	for _, f := range q.Drain() {
		m := f.(ChatText)
		var n int
		fmt.Sscan(m.Text, &n)
		if prev, ok := last[m.Room]; ok && n != prev+1 {
			t.Fatalf("producer %s out of order: %d after %d", m.Room, n, prev)
		}
		last[m.Room] = n
	}
	if len(last) != 4 {
		t.Errorf("saw %d producers, want 4", len(last))
	}
}
