package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerManager(t *testing.T) {
	t.Run("processes every enqueued job", func(t *testing.T) {
		w := NewWorkerManager(10, 3, nil)
		var handled int64
		done := make(chan struct{}, 5)
		w.SetWorker(func(_ int, job interface{}) {
			atomic.AddInt64(&handled, int64(job.(int)))
			done <- struct{}{}
		})

		go w.Start()
		for i := 1; i <= 5; i++ {
			assert.True(t, w.Enqueue(i))
		}
		for i := 0; i < 5; i++ {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("job not processed")
			}
		}
		w.Exit()

		assert.Equal(t, int64(15), atomic.LoadInt64(&handled))
	})

	t.Run("enqueue after exit is dropped", func(t *testing.T) {
		w := NewWorkerManager(0, 1, nil)
		w.SetWorker(func(int, interface{}) {})
		w.Exit()
		w.Exit()

		assert.False(t, w.Enqueue(1))
	})
}
