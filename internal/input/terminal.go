package input

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/bryanchriswhite/FluoroSim/internal/logger"
)

// ErrNotTerminal is returned when stdin is not an interactive terminal
var ErrNotTerminal = errors.New("stdin is not a terminal")

const (
	keyCtrlC = 3
	escByte  = 0x1b
)

// Terminal reads single key presses from a raw-mode stdin
type Terminal struct {
	fd    int
	state *term.State
	mux   *Mux

	once sync.Once
}

// StartTerminal switches stdin to raw mode and forwards key presses to mux.
// Close must be called to restore the terminal.
func StartTerminal(mux *Mux) (*Terminal, error) {
	fd := int(os.Stdin.Fd())
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil, ErrNotTerminal
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}

	t := &Terminal{fd: fd, state: state, mux: mux}
	go t.readKeys(os.Stdin)
	return t, nil
}

func (t *Terminal) readKeys(r io.Reader) {
	log := logger.WithComponent("terminal")
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, key := range decodeKeys(buf[:n]) {
			t.mux.SendKey(key)
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("Terminal read stopped")
			}
			return
		}
	}
}

// decodeKeys turns one read from a raw-mode terminal into key presses.
// Only a lone ESC is the Escape key: CSI (ESC [ ...) and SS3 (ESC O x)
// sequences from arrow and function keys, and ESC+char from Alt chords,
// are dropped. A terminal writes each sequence in a single read.
func decodeKeys(p []byte) []rune {
	var keys []rune
	for i := 0; i < len(p); i++ {
		b := p[i]
		switch {
		case b == escByte:
			if i+1 == len(p) || p[i+1] == escByte {
				keys = append(keys, KeyEscape)
				continue
			}
			i++
			switch p[i] {
			case '[':
				// Parameter and intermediate bytes, then one final byte
				for i+1 < len(p) && p[i+1] >= 0x20 && p[i+1] <= 0x3f {
					i++
				}
				if i+1 < len(p) && p[i+1] >= 0x40 && p[i+1] <= 0x7e {
					i++
				}
			case 'O':
				if i+1 < len(p) {
					i++
				}
			}
		case b == keyCtrlC:
			// Raw mode swallows SIGINT, treat Ctrl+C like Esc
			keys = append(keys, KeyEscape)
		default:
			keys = append(keys, rune(b))
		}
	}
	return keys
}

// Close restores the terminal state
func (t *Terminal) Close() error {
	var err error
	t.once.Do(func() {
		err = term.Restore(t.fd, t.state)
	})
	return err
}

// CRLFWriter rewrites bare newlines as CRLF, keeping log lines readable while
// the terminal has output post-processing disabled.
type CRLFWriter struct {
	W io.Writer
}

func (c CRLFWriter) Write(p []byte) (int, error) {
	if _, err := c.W.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
