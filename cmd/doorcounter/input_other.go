//go:build !linux

package main

import (
	"errors"
	"os"
)

func readInputEventsEpoll(files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	if len(files) == 1 {
		readInputEvents(files[0], events, readErr)
		return
	}
	readErr <- errors.New("multiple evdev devices require linux")
}
