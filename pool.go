// Copyright (c) 2025 Niema Moshiri and The Zaparoo Project.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-gameid.
//
// go-gameid is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-gameid is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-gameid.  If not, see <https://www.gnu.org/licenses/>.

package lzma2mt

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// workerPool is a bounded fan-out/fan-in helper: submit(job) queues work,
// waitAll blocks until every submitted job has completed and reports one of
// the errors they returned (not necessarily the lowest-indexed; runBatch
// does its own index-ordered scan). It wraps
// errgroup.Group with a semaphore so that at most maxWorkers jobs run
// concurrently — the calling goroutine is expected to run one block
// itself and submit only the remainder, matching the "maxThreads-1
// background workers" scheduling model.
type workerPool struct {
	g       *errgroup.Group
	sem     chan struct{}
	results []error
}

// newWorkerPool creates a pool sized for n background workers. n may be 0,
// in which case submit runs its job synchronously (a single-threaded
// decode).
func newWorkerPool(n int) *workerPool {
	if n < 0 {
		n = 0
	}
	p := &workerPool{g: &errgroup.Group{}}
	if n > 0 {
		p.sem = make(chan struct{}, n)
	}
	return p
}

// submit schedules fn to run, recording any error into the pool's result
// set for retrieval after waitAll. It takes no job index; callers that need
// per-index results capture the index in their own closure.
func (p *workerPool) submit(fn func() error) {
	if p.sem == nil {
		// No background capacity: run inline, synchronously.
		p.results = append(p.results, fn())
		return
	}
	p.sem <- struct{}{}
	p.g.Go(func() error {
		defer func() { <-p.sem }()
		return fn()
	})
}

// waitAll blocks until every submitted job has finished and returns the
// first error among them, or nil if all succeeded.
func (p *workerPool) waitAll() error {
	err := p.g.Wait()
	for _, e := range p.results {
		if e != nil && err == nil {
			err = e
		}
	}
	p.results = nil
	return err
}

// runBatch is a convenience used by BlockCoordinator/StreamCoordinator: it
// runs jobs[0] inline on the calling goroutine while jobs[1:] are
// dispatched to the pool, then waits for all of them, returning the first
// error in *index* order (not completion order) per the spec's error
// propagation policy.
func runBatch(ctx context.Context, maxWorkers int, jobs []func() error) error {
	if len(jobs) == 0 {
		return nil
	}
	errs := make([]error, len(jobs))
	pool := newWorkerPool(maxWorkers)
	for i := 1; i < len(jobs); i++ {
		i := i
		pool.submit(func() error {
			errs[i] = jobs[i]()
			return errs[i]
		})
	}
	errs[0] = jobs[0]()
	if err := pool.waitAll(); err != nil {
		// waitAll already observed an error; fall through to the
		// index-ordered scan below to report the first one deterministically.
		_ = err
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
