// Package offload runs blocking calls for a single cooperative scheduler
// thread, without blocking it.
//
// # Jobs
//
// A [Job] is allocated with [Engine.Alloc], which returns a [Handle]. The
// scheduler starts it with [Engine.Start], choosing a [Mode]:
//
//   - [ModeInline] runs it immediately on the calling thread
//   - [ModeDetach] hands it to a worker from a bounded pool of OS threads
//   - [ModeSwitch] runs it on the calling thread, while an idle worker takes
//     over as the scheduler thread, so the scheduler keeps running
//
// If Start does not report the job done, the scheduler calls
// [Engine.Check] with a notification id. Once the job completes, that id is
// delivered through the [notify.Channel] returned by [Engine.Notifier],
// whose file descriptor the scheduler includes in its readiness wait. The
// result is then obtained with [Engine.Collect], which invalidates the
// handle.
//
// A job completing before Check is called sends nothing: Check reports it
// done instead. This is decided under the job's mutex, so every checked job
// is reported exactly once, one way or the other.
//
// # Pool
//
// Workers are goroutines locked to their own OS threads. They are launched
// on demand, up to [Engine.PoolSize] (default [DefaultPoolSize]), and
// never exit while the engine is open. A detached job submitted while every
// worker is busy and the pool is full is queued, unless the engine was
// configured with [SaturationReject]. A worker that cannot be launched is
// reported as a [ResourceError].
//
// # Switching
//
// Switching relies on identifying OS threads, and is only supported on
// linux. The scheduler binds itself using [Engine.BindScheduler], passing
// the function that continues its work on another thread. See the sched
// package for a loop built this way.
package offload
