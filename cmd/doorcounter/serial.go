package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// ============================================================================
// Serial barrier source
// ============================================================================
// A microcontroller samples both barriers and streams one reading per line:
//
//	O 1234
//	inner 0
//	i,2300
//
// The first field names the barrier (outer/inner/o/i), the second is the raw
// sample. Blank lines and lines starting with '#' are ignored. The link
// repeats the current level; the input loop's edgeFilter keeps only changes.
// ============================================================================

// openSerialPort opens the port 8N1 at the given baud rate.
func openSerialPort(path string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = defaultSerialBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// parseSampleLine parses one serial line. ok is false for lines that carry
// no sample (blank or comment).
func parseSampleLine(line string) (s rawSample, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rawSample{}, false, nil
	}

	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == ':'
	})
	if len(fields) != 2 {
		return rawSample{}, false, fmt.Errorf("want \"<barrier> <raw>\", got %q", line)
	}

	b, err := ParseBarrier(fields[0])
	if err != nil {
		return rawSample{}, false, err
	}
	raw, err := strconv.Atoi(fields[1])
	if err != nil {
		return rawSample{}, false, fmt.Errorf("invalid raw sample %q: %w", fields[1], err)
	}
	return rawSample{Barrier: b, Raw: raw}, true, nil
}

// readSerialSamples scans r line by line and forwards parsed samples.
// Malformed lines are logged and skipped; a read error ends the loop.
func readSerialSamples(r io.Reader, samples chan<- rawSample, readErr chan<- error, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s, ok, err := parseSampleLine(scanner.Text())
		if err != nil {
			logger.Warn("serial: skipping malformed line", "error", err)
			continue
		}
		if !ok {
			continue
		}
		samples <- s
	}

	if err := scanner.Err(); err != nil {
		readErr <- fmt.Errorf("serial read: %w", err)
		return
	}
	readErr <- io.EOF
}
