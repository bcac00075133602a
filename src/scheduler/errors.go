package scheduler

import "errors"

// ErrBotIDChanged is returned by Poll when a session name is reused with a
// different bot ID than the one that originally opened it.
var ErrBotIDChanged = errors.New("scheduler: session already bound to a different bot id")

// errBotIDChanged is an internal alias kept so existing call sites inside
// this package read naturally.
var errBotIDChanged = ErrBotIDChanged
