package pubsub

import "testing"

func TestPublishAndNextInOrder(t *testing.T) {
	b := New(4, nil)
	closed := make(chan struct{})

	b.Publish([]byte("a"))
	b.Publish([]byte("b"))

	frame, cursor, err := b.Next(0, closed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(frame) != "a" || cursor != 1 {
		t.Fatalf("got frame=%q cursor=%d", frame, cursor)
	}

	frame, cursor, err = b.Next(cursor, closed)
	if err != nil || string(frame) != "b" || cursor != 2 {
		t.Fatalf("got frame=%q cursor=%d err=%v", frame, cursor, err)
	}
}

func TestNextReportsGapWhenCursorTooOld(t *testing.T) {
	b := New(2, nil)
	closed := make(chan struct{})

	for i := 0; i < 5; i++ {
		b.Publish([]byte{byte(i)})
	}

	if _, _, err := b.Next(0, closed); err != ErrGap {
		t.Fatalf("expected ErrGap, got %v", err)
	}
}

func TestNextBlocksUntilPublish(t *testing.T) {
	b := New(4, nil)
	closed := make(chan struct{})
	done := make(chan []byte, 1)

	go func() {
		frame, _, err := b.Next(0, closed)
		if err != nil {
			done <- nil
			return
		}
		done <- frame
	}()

	b.Publish([]byte("delayed"))
	got := <-done
	if string(got) != "delayed" {
		t.Fatalf("got %q", got)
	}
}
