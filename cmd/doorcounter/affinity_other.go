//go:build !linux

package main

import "errors"

func pinToCPU(cpu int) error {
	return errors.New("cpu pinning is only supported on linux")
}
