package utils

import "sync"

type CompletedTask[In any, Out any] struct {
	Index  int
	Input  In
	Result Out
	Error  error
}

// RunInPool applies worker to every input using at most maxWorkers goroutines.
// Results are returned in input order.
func RunInPool[In any, Out any](worker func(In) (Out, error), inputs []In, maxWorkers int) []CompletedTask[In, Out] {
	completed := make([]CompletedTask[In, Out], len(inputs))

	workers := min(len(inputs), max(maxWorkers, 1))

	queue := make(chan int, len(inputs))
	for i := range inputs {
		queue <- i
	}
	close(queue)

	wg := sync.WaitGroup{}
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()

			for i := range queue {
				res, err := worker(inputs[i])
				completed[i] = CompletedTask[In, Out]{Index: i, Input: inputs[i], Result: res, Error: err}
			}
		}()
	}

	wg.Wait()

	return completed
}
