package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const defaultTermWidth = 80

// A writer that syncs writes with a mutex and, if the output is a TTY,
// clears to the end of line before newlines so progress output rendered
// with carriage returns does not leave stale characters behind.
type consoleWriter struct {
	Writer io.Writer
	IsTTY  bool
	Mutex  *sync.Mutex
}

func (w *consoleWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if w.IsTTY {
		p = bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\x1b', '[', '0', 'K', '\n'})
	}

	w.Mutex.Lock()
	n, err = w.Writer.Write(p)
	w.Mutex.Unlock()

	if err != nil && n < origLen {
		return n, err
	}
	return origLen, err
}

// getColor returns the requested color, or an uncolored object, depending
// on the value of noColor. The explicit EnableColor() and DisableColor()
// are needed because the library checks os.Stdout itself otherwise.
func getColor(noColor bool, attributes ...color.Attribute) *color.Color {
	if noColor {
		c := color.New()
		c.DisableColor()
		return c
	}

	c := color.New(attributes...)
	c.EnableColor()
	return c
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return defaultTermWidth
	}
	return w
}

// printBanner writes the verbose-mode startup line describing the test,
// clamped to the terminal width.
func (gs *globalState) printBanner(line string) {
	if w := termWidth(); len(line) > w {
		line = line[:w]
	}
	c := getColor(!gs.stdOut.IsTTY || gs.noColor, color.FgCyan)
	fmt.Fprintln(gs.stdOut, c.Sprint(line))
}
