package terminal

import (
	"context"
	"io"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/term"

	"go.viam.com/rgbdview/logging"
)

const keyBuffer = 16

// A Keyboard delivers key presses read from an input in the background.
//
// The reader goroutine blocks in Read and only notices Close once the read returns, so input
// that never yields again (a terminal left idle) keeps one goroutine parked until exit.
type Keyboard struct {
	keys   chan rune
	logger logging.Logger

	fd       int
	rawState *term.State

	closeOnce sync.Once
	closed    chan struct{}
}

// NewKeyboard starts reading keys from in. If in is a terminal it is switched to raw mode, so keys
// arrive without Enter and Ctrl-C arrives as a key instead of a signal.
func NewKeyboard(in io.Reader, logger logging.Logger) (*Keyboard, error) {
	k := &Keyboard{
		keys:   make(chan rune, keyBuffer),
		logger: logger.Sublogger("keyboard"),
		fd:     -1,
		closed: make(chan struct{}),
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		k.fd = int(f.Fd())
		state, err := term.MakeRaw(k.fd)
		if err != nil {
			return nil, errors.Wrap(err, "switching terminal to raw mode")
		}
		k.rawState = state
	}
	goutils.PanicCapturingGo(func() { k.read(in) })
	return k, nil
}

func (k *Keyboard) read(in io.Reader) {
	buf := make([]byte, 64)
	var pending []byte
	for {
		n, err := in.Read(buf)
		pending = append(pending, buf[:n]...)
		for len(pending) > 0 && utf8.FullRune(pending) {
			r, size := utf8.DecodeRune(pending)
			pending = pending[size:]
			select {
			case <-k.closed:
				return
			default:
			}
			select {
			case k.keys <- r:
			default:
				k.logger.Debugw("dropping key, nobody is polling", "key", string(r))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				k.logger.Debugw("keyboard input closed", "error", err)
			}
			return
		}
	}
}

// PollKey waits up to wait for a key press.
func (k *Keyboard) PollKey(ctx context.Context, wait time.Duration) (rune, bool) {
	select {
	case r := <-k.keys:
		return r, true
	default:
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case r := <-k.keys:
		return r, true
	case <-timer.C:
	case <-ctx.Done():
	case <-k.closed:
	}
	return 0, false
}

// Close restores the terminal mode. It is safe to call more than once.
func (k *Keyboard) Close() error {
	var err error
	k.closeOnce.Do(func() {
		close(k.closed)
		if k.rawState != nil {
			err = errors.Wrap(term.Restore(k.fd, k.rawState), "restoring terminal mode")
		}
	})
	return err
}
