//go:build !linux && !darwin && !freebsd

package main

import "os"

// No advisory locking here
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
