// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ringq provides single-producer/single-consumer circular queues
// with preallocated slots.
//
// A queue of size N holds at most N-1 elements: one slot always stays empty
// so that head == tail means empty without a separate counter. The head
// index is written only by the producer and the tail index only by the
// consumer, so neither side ever waits on the other. An index is stored
// only after the slot it covers is completely written (or read), which is
// what makes a slot visible to the other side.
package ringq

import (
	"fmt"

	"go.uber.org/atomic"
)

// Queue is a fixed-capacity SPSC circular queue of T.
type Queue[T any] struct {
	buf  []T
	mask uint32
	head atomic.Uint32 // producer owned
	tail atomic.Uint32 // consumer owned
}

// New creates a queue with size preallocated slots.
// size must be a power of two, at least 2.
func New[T any](size int) (*Queue[T], error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return &Queue[T]{
		buf:  make([]T, size),
		mask: uint32(size - 1),
	}, nil
}

func checkSize(size int) error {
	if size < 2 || size&(size-1) != 0 || size > 1<<30 {
		return fmt.Errorf("ringq: size %d is not a power of two in [2, 2^30]", size)
	}
	return nil
}

// Head returns the slot at the head of the queue for the producer to fill,
// or nil if the queue is full. It never blocks and never allocates.
// The slot keeps whatever the previous user left in it.
func (q *Queue[T]) Head() *T {
	h := q.head.Load()
	if (h+1)&q.mask == q.tail.Load() {
		return nil
	}
	return &q.buf[h]
}

// Publish makes the slot returned by Head visible to the consumer.
// It must only follow a non-nil Head.
func (q *Queue[T]) Publish() {
	q.head.Store((q.head.Load() + 1) & q.mask)
}

// Next publishes the current head slot and returns the following one,
// or nil if the queue is now full.
func (q *Queue[T]) Next() *T {
	q.Publish()
	return q.Head()
}

// Tail returns the oldest published element, or nil if the queue is empty.
func (q *Queue[T]) Tail() *T {
	t := q.tail.Load()
	if t == q.head.Load() {
		return nil
	}
	return &q.buf[t]
}

// Pop releases the element returned by Tail back to the producer.
// It must only follow a non-nil Tail.
func (q *Queue[T]) Pop() {
	q.tail.Store((q.tail.Load() + 1) & q.mask)
}

// Len returns the number of published elements.
func (q *Queue[T]) Len() int {
	return int((q.head.Load() - q.tail.Load()) & q.mask)
}

// Space returns the number of elements that can be published before the
// queue is full.
func (q *Queue[T]) Space() int {
	return int((q.tail.Load() - q.head.Load() - 1) & q.mask)
}

// Cap returns the maximum number of elements the queue can hold (size-1).
func (q *Queue[T]) Cap() int {
	return len(q.buf) - 1
}

// Reset empties the queue. Neither side may be active.
func (q *Queue[T]) Reset() {
	q.head.Store(0)
	q.tail.Store(0)
}
