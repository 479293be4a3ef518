package main

import (
	"context"
	"sync"
)

// commandInterrupter lets ^C cancel the command that is running without leaving the shell.
type commandInterrupter struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// start returns the context of a new command. done must be called when the command returns.
func (i *commandInterrupter) start(parent context.Context) (ctx context.Context, done func()) {
	ctx, cancel := context.WithCancel(parent)
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()
	return ctx, func() {
		i.mu.Lock()
		i.cancel = nil
		i.mu.Unlock()
		cancel()
	}
}

// interrupt cancels the running command. It returns false when no command is running.
func (i *commandInterrupter) interrupt() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel == nil {
		return false
	}
	i.cancel()
	i.cancel = nil
	return true
}
