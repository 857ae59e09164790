// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package future

// Promise is the producing end of a single-assignment value. A promise must be
// fulfilled exactly once.
type Promise[T any] struct {
	channel chan<- Result[T]
}

// Future is the consuming end of a single-assignment value.
type Future[T any] struct {
	channel <-chan Result[T]
}

// Create produces a connected promise/future pair.
func Create[T any]() (Promise[T], Future[T]) {
	channel := make(chan Result[T], 1)
	return Promise[T]{channel}, Future[T]{channel}
}

// Immediate returns a future that is already resolved with the given result.
func Immediate[T any](result Result[T]) Future[T] {
	promise, future := Create[T]()
	promise.Fulfill(result)
	return future
}

// Fulfill resolves the connected future. Calling Fulfill more than once
// panics.
func (p Promise[T]) Fulfill(result Result[T]) {
	p.channel <- result
	close(p.channel)
}

// Get blocks until the result is available and returns it.
func (f Future[T]) Get() Result[T] {
	return <-f.channel
}

// Await blocks until the result is available and returns its value and error.
func (f Future[T]) Await() (T, error) {
	return f.Get().Get()
}
