// Package core is the orchestration layer.  It composes listeners and
// protocol capabilities into runnable modes and provides a builder
// that selects the right composition from a Config.
//
// Architecture layers (bottom → top):
//
//	linecodec, means  →  capability, chat  →  session  →  core  →  cmd (CLI)
//
// The builder in this package is the single dispatch point between the
// configuration and the running server.
package core

import (
	"context"
	"sync"
)

// Mode is one long-running part of protosrv (the protocol server, the
// metrics endpoint).  Run blocks until ctx is cancelled or the mode
// fails.
type Mode interface {
	Run(ctx context.Context) error
}

// Group runs several modes side by side.  The first one to return
// cancels the others; Run reports the first non-nil error.
type Group []Mode

// Run implements Mode.
func (g Group) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, m := range g {
		wg.Add(1)
		go func(m Mode) {
			defer wg.Done()
			err := m.Run(ctx)
			if err != nil {
				once.Do(func() { firstErr = err })
			}
			cancel()
		}(m)
	}
	wg.Wait()
	return firstErr
}
