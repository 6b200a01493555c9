package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	const workers = 50
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("enrollment:1")
			defer km.Unlock("enrollment:1")
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	km.Lock(EnrollmentKey(1))
	defer km.Unlock(EnrollmentKey(1))

	// a different key must not block
	done := make(chan struct{})
	go func() {
		km.Lock(EnrollmentKey(2))
		km.Unlock(EnrollmentKey(2))
		close(done)
	}()
	<-done
}

func TestKeyedMutexUnlockUnheldPanics(t *testing.T) {
	km := NewKeyedMutex()
	assert.Panics(t, func() { km.Unlock("enrollment:99") })
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "enrollment:7", EnrollmentKey(7))
	assert.Equal(t, "transaction:7", TransactionKey(7))
	assert.NotEqual(t, EnrollmentKey(7), TransactionKey(7))
}
