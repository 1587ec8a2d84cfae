// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue

import "code.hybscloud.com/obengine/internal/sysutil"

// enqueuer is satisfied by SPSC[T] and MPMC[T]: anything that can take a
// non-blocking, pointer-in, copy-on-enqueue push.
type enqueuer[T any] interface {
	Enqueue(elem *T) error
}

// PushBlocking pushes elem onto q, retrying through bounded spin/yield/sleep
// backoff until it is accepted. Queues in this engine must never silently
// drop a packet on backpressure (merge output and recovery splicing both
// depend on that), so PushBlocking is how every such call site gets there
// instead of each hand-rolling its own retry loop.
//
// onFull, if non-nil, is called every warnEvery retries so the caller can
// log; a non-positive warnEvery disables the callback entirely.
func PushBlocking[T any](q enqueuer[T], elem *T, warnEvery int, onFull func(retries int)) {
	retries := 0
	for {
		err := q.Enqueue(elem)
		if err == nil {
			return
		}
		if !IsWouldBlock(err) {
			return
		}
		retries++
		if onFull != nil && warnEvery > 0 && retries%warnEvery == 0 {
			onFull(retries)
		}
		sysutil.AdaptiveWait(retries, 32)
	}
}
