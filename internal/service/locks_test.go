package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedLockerSerialisesSameKey(t *testing.T) {
	locker := newKeyedLocker()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock(caseLockKey("case-1"))
			defer unlock()
			current := counter
			counter = current + 1
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
	require.Zero(t, locker.size())
}

func TestKeyedLockerIndependentKeys(t *testing.T) {
	locker := newKeyedLocker()
	unlockA := locker.Lock(caseLockKey("case-1"))
	done := make(chan struct{})
	go func() {
		unlockB := locker.Lock(caseLockKey("case-2"))
		unlockB()
		close(done)
	}()
	<-done
	require.Equal(t, 1, locker.size())
	unlockA()
	require.Zero(t, locker.size())
}
