package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/respond"
)

// ConsoleVoice talks to the caller over a terminal: prompts are printed and
// each input line is one utterance.
type ConsoleVoice struct {
	out   io.Writer
	lines chan string
	done  chan struct{}
}

// NewConsoleVoice starts reading in. The reader stops at EOF.
func NewConsoleVoice(in io.Reader, out io.Writer) *ConsoleVoice {
	v := &ConsoleVoice{
		out:   out,
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go v.read(in)
	return v
}

func (v *ConsoleVoice) read(in io.Reader) {
	defer close(v.done)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		v.lines <- sc.Text()
	}
}

func (v *ConsoleVoice) Prompt(_ context.Context, text string) error {
	_, err := fmt.Fprintf(v.out, "%s: %s\n> ", respond.AgentName, text)
	return err
}

func (v *ConsoleVoice) Listen(ctx context.Context, hint time.Duration) (string, error) {
	timer := time.NewTimer(hint)
	defer timer.Stop()

	for {
		select {
		case line := <-v.lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			return line, nil
		case <-v.done:
			return "", io.EOF
		case <-timer.C:
			return "", apperr.UserTimeout(hint)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
