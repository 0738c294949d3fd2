package utils

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
)

// DEBUG for turning debug logs on/off
const DEBUG = true
const MeMStat = true
const LoggerName = "beamfl"

type logger struct {
	debug bool
	hc    hclog.Logger
	out   io.Writer
}

// NewLogger returns a Logger writing to stdout.
func NewLogger(debug bool) Logger {
	return NewLoggerWithOutput(debug, os.Stdout)
}

// NewLoggerWithOutput returns a Logger writing to out. With debug off only
// warnings and errors are emitted.
func NewLoggerWithOutput(debug bool, out io.Writer) Logger {
	level := hclog.Info
	if !debug {
		level = hclog.Warn
	}
	return &logger{
		debug: debug,
		out:   out,
		hc: hclog.New(&hclog.LoggerOptions{
			Name:   LoggerName,
			Level:  level,
			Output: out,
		}),
	}
}

type Logger interface {
	PrintMessage(message string)
	PrintFormatted(format string, args ...interface{})
	PrintHeader(header string)
	PrintMemUsage(name string)
	PrintRunningTime(name string, t time.Time)
	PrintSummarizedVector(name string, vec []float64, numElements int)
	// Info and Error log a message with alternating key/value pairs.
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	// Named returns a sub-logger whose name is appended to this one.
	Named(name string) Logger
}

func (l *logger) PrintMessage(message string) {
	l.hc.Info(message)
}

func (l *logger) PrintFormatted(format string, args ...interface{}) {
	l.hc.Info(fmt.Sprintf(format, args...))
}

func (l *logger) Info(msg string, args ...interface{}) {
	l.hc.Info(msg, args...)
}

func (l *logger) Error(msg string, args ...interface{}) {
	l.hc.Error(msg, args...)
}

func (l *logger) Named(name string) Logger {
	return &logger{
		debug: l.debug,
		out:   l.out,
		hc:    l.hc.Named(name),
	}
}

// PrintHeader prints a nicely formatted header, auto-wrapping if too long.
func (l *logger) PrintHeader(header string) {
	if !l.debug {
		return
	}
	const totalWidth = 80
	const padding = 4

	lines := splitIntoLines(header, totalWidth-(padding*2))

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", totalWidth))
	b.WriteString("\n")
	for _, line := range lines {
		paddingLeft := (totalWidth - len(line)) / 2
		paddingRight := totalWidth - len(line) - paddingLeft
		b.WriteString(strings.Repeat(" ", paddingLeft) + line + strings.Repeat(" ", paddingRight))
		b.WriteString("\n")
	}
	b.WriteString(strings.Repeat("=", totalWidth))
	b.WriteString("\n")
	_, _ = io.WriteString(l.out, b.String())
}

// splitIntoLines splits a string into multiple lines based on max width.
func splitIntoLines(text string, maxWidth int) []string {
	var lines []string
	for len(text) > maxWidth {
		// Find the nearest space before maxWidth
		splitAt := strings.LastIndex(text[:maxWidth], " ")
		if splitAt == -1 {
			splitAt = maxWidth
		}
		lines = append(lines, strings.TrimSpace(text[:splitAt]))
		text = strings.TrimSpace(text[splitAt:])
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

// PrintMemUsage outputs the followings
// Alloc: the bytes of allocated heap objects.
// TotalAlloc: the cumulative bytes allocated for heap objects
// Sys: the total bytes of memory obtained from the OS
// For more info check: https://golang.org/pkg/runtime/#MemStats
func (l *logger) PrintMemUsage(name string) {
	if !MeMStat {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	l.hc.Info("memory usage",
		"stage", name,
		"alloc", humanize.Bytes(m.Alloc),
		"total_alloc", humanize.Bytes(m.TotalAlloc),
		"sys", humanize.Bytes(m.Sys),
	)
}

func (l *logger) PrintRunningTime(name string, t time.Time) {
	l.hc.Info(fmt.Sprintf("%s running time: %f (s)", name, time.Since(t).Seconds()))
}

// PrintSummarizedVector prints the head and tail of a vector
func (l *logger) PrintSummarizedVector(name string, vec []float64, numElements int) {
	const summaryLength = 4
	if !l.debug {
		return
	}
	if len(vec) == 0 {
		l.hc.Info(fmt.Sprintf("[%s]: vector is empty", name))
		return
	}
	if numElements > len(vec) {
		numElements = len(vec)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]: {", name)
	if numElements > 2*summaryLength {
		for i := 0; i < summaryLength; i++ {
			fmt.Fprintf(&b, "%.4f ", vec[i])
		}
		b.WriteString("... ")
		for i := numElements - summaryLength; i < numElements; i++ {
			fmt.Fprintf(&b, "%.4f ", vec[i])
		}
	} else {
		for i := 0; i < numElements; i++ {
			fmt.Fprintf(&b, "%.4f ", vec[i])
		}
	}
	b.WriteString("}")
	l.hc.Info(b.String())
}
