// Package kthread implements the thread-management core of a teaching kernel.
//
// A Kernel multiplexes kernel threads over one simulated processor. Scheduling
// is cooperative: a thread runs until it yields, blocks or finishes. Every
// mutation of shared scheduler state happens with interrupts disabled on the
// kernel's Interrupt gate; there are no other locks.
//
// # Threads
//
// Each Thread is backed by its own goroutine, but only the thread holding the
// processor ever executes. Dispatch hands the processor to the next thread and
// parks the caller on its own wake channel, so goroutines never run kernel code
// concurrently:
//
//	k, _ := kthread.NewKernel(kthread.DefaultConfig())
//	err := k.Run(ctx, func() {
//		t := k.NewThread("worker", func() { k.Yield() })
//		t.Fork()
//		t.Join()
//	})
//
// # Scheduling
//
// The ready set and every blocking resource are ThreadQueues obtained from the
// active Scheduler. PriorityScheduler selects the waiter with the highest
// effective priority (FIFO among equals) and, for queues created with
// transferPriority, donates waiters' priority to the queue holder,
// transitively along lock and join chains. Effective priorities are cached and
// invalidated lazily with dirty flags.
//
// # Synchronization
//
// Lock, Condition, Alarm and Communicator are built on the dispatcher's
// Sleep/Ready primitives.
//
// # Errors
//
// Violated invariants are assertion failures that panic. Inside Run such a
// panic halts the kernel and is returned as a *FaultError.
package kthread
