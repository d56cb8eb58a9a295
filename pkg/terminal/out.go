package terminal

import (
	"bufio"
	"bytes"
	"fmt"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
	"io"
	"os"
	"os/exec"
	"strings"
)

const (
	colorGreen  = 32
	colorYellow = 33
	colorRed    = 31
)

// transcriptWriter writes to a pagingWriter and optionally copies everything
// to a transcript file.
type transcriptWriter struct {
	fileOnly bool
	pw       *pagingWriter
	file     *bufio.Writer
	fh       io.Closer
	color    bool
}

func newTranscriptWriter() *transcriptWriter {
	tty := isatty.IsTerminal(os.Stdout.Fd())
	return &transcriptWriter{
		pw:    newPagingWriter(colorable.NewColorableStdout(), tty),
		color: tty,
	}
}

func (w *transcriptWriter) Write(p []byte) (nn int, err error) {
	if !w.fileOnly {
		nn, err = w.pw.Write(p)
	}
	if err == nil && w.file != nil {
		nn, err = w.file.Write(p)
	}
	return
}

// ColorizePrint prints s, wrapped in the escape for color when the output
// is a terminal. The transcript gets the plain text.
func (w *transcriptWriter) ColorizePrint(color int, s string) {
	if !w.fileOnly {
		if w.color {
			fmt.Fprintf(w.pw, terminalHighlightEscapeCode, color)
			io.WriteString(w.pw, s)
			io.WriteString(w.pw, terminalResetEscapeCode)
		} else {
			io.WriteString(w.pw, s)
		}
	}
	if w.file != nil {
		w.file.WriteString(s)
	}
}

// Echo outputs text to the transcript file only.
func (w *transcriptWriter) Echo(text string) {
	if w.file != nil {
		w.file.WriteString(text)
	}
}

// Flush flushes the pager and the transcript file.
func (w *transcriptWriter) Flush() {
	w.pw.Flush()
	if w.file != nil {
		w.file.Flush()
	}
}

// CloseTranscript closes the current transcript file.
func (w *transcriptWriter) CloseTranscript() error {
	if w.file == nil {
		return nil
	}
	w.file.Flush()
	w.fileOnly = false
	err := w.fh.Close()
	w.file = nil
	w.fh = nil
	return err
}

// TranscribeTo starts transcribing the output to the specified file. If
// fileOnly is true the output will only go to the file, output to stdout
// will be suppressed.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, fileOnly bool) {
	if w.file != nil {
		w.CloseTranscript()
	}
	w.file = bufio.NewWriter(fh)
	w.fh = fh
	w.fileOnly = fileOnly
}

type pagingMode int

const (
	pagingOff pagingMode = iota
	pagingMaybe
	pagingOn
)

// pagingWriter holds back output of a command until it is known to fit the
// terminal. Output longer than the terminal is sent through $PAGER.
type pagingWriter struct {
	mode   pagingMode
	paging bool
	stdout io.Writer
	w      io.Writer
	buf    bytes.Buffer
	lines  int
	limit  int
	pager  *exec.Cmd
	pipe   io.WriteCloser
}

func newPagingWriter(w io.Writer, paging bool) *pagingWriter {
	pw := &pagingWriter{stdout: w, w: w, paging: paging}
	pw.Reset()
	return pw
}

func (w *pagingWriter) Write(p []byte) (int, error) {
	switch w.mode {
	case pagingMaybe:
		w.buf.Write(p)
		w.lines += bytes.Count(p, []byte{'\n'})
		if w.lines <= w.limit {
			return len(p), nil
		}
		if err := w.startPager(); err != nil {
			w.mode = pagingOff
		}
		if _, err := w.current().Write(w.buf.Bytes()); err != nil {
			return 0, err
		}
		w.buf.Reset()
		return len(p), nil
	default:
		return w.current().Write(p)
	}
}

func (w *pagingWriter) current() io.Writer {
	if w.mode == pagingOn {
		return w.pipe
	}
	return w.w
}

func (w *pagingWriter) startPager() error {
	pager := os.Getenv("PAGER")
	if pager == "" {
		pager = "less -R"
	}
	args := strings.Fields(pager)

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = w.w
	cmd.Stderr = os.Stderr
	pipe, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	w.pager, w.pipe = cmd, pipe
	w.mode = pagingOn
	return nil
}

// Flush writes out held back output and waits for the pager, if any.
func (w *pagingWriter) Flush() {
	switch w.mode {
	case pagingMaybe:
		w.w.Write(w.buf.Bytes())
		w.buf.Reset()
	case pagingOn:
		w.pipe.Close()
		w.pager.Wait()
		w.pager, w.pipe = nil, nil
		w.mode = pagingOff
	}
}

// Reset prepares the writer for the next command and restores stdout.
func (w *pagingWriter) Reset() {
	w.Flush()
	w.w = w.stdout
	w.lines = 0
	w.mode = pagingOff
	if w.paging {
		w.mode = pagingMaybe
		w.limit = terminalRows() - 1
	}
}

func terminalRows() int {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Row == 0 {
		return 24
	}
	return int(ws.Row)
}
