package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockerSerializesSameKey(t *testing.T) {
	l := NewLocker()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(7)
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
	require.Equal(t, 0, l.size())
}

func TestLockerDoesNotBlockOtherKeys(t *testing.T) {
	l := NewLocker()
	unlock := l.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := l.Lock(2)
		u()
		close(done)
	}()
	<-done
}

func TestLockerMultipleKeysNoDeadlock(t *testing.T) {
	l := NewLocker()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Lock(1, 2, 2)()
		}()
		go func() {
			defer wg.Done()
			l.Lock(2, 1)()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, l.size())
}
