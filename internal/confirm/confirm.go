// Package confirm asks an operator before the pipeline mutates anything.
package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Auto answers every prompt with the same value.
type Auto bool

func (a Auto) Confirm(context.Context, string) (bool, error) { return bool(a), nil }

// Console prompts on Out and reads y/N answers from In. Prompts from
// concurrent tasks are asked one at a time.
type Console struct {
	In  io.Reader
	Out io.Writer

	mu    sync.Mutex
	once  sync.Once
	lines chan string
	eof   chan struct{}
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{In: in, Out: out}
}

func (c *Console) start() {
	c.lines = make(chan string)
	c.eof = make(chan struct{})
	go func() {
		defer close(c.eof)
		sc := bufio.NewScanner(c.In)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
	}()
}

func (c *Console) Confirm(ctx context.Context, prompt string) (bool, error) {
	c.once.Do(c.start)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.Out, "%s [y/N]: ", prompt); err != nil {
		return false, err
	}
	select {
	case <-ctx.Done():
		fmt.Fprintln(c.Out)
		return false, ctx.Err()
	case <-c.eof:
		return false, io.EOF
	case line := <-c.lines:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
