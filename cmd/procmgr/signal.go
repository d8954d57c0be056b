package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyHangup relays SIGHUP to sig, the conventional signal operators send
// to ask a gracefully-restartable daemon to re-exec itself.
func notifyHangup(sig chan<- os.Signal) {
	signal.Notify(sig, syscall.SIGHUP)
}
