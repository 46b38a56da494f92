package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
)

// Prompt asks for a decision on the terminal. Only one question is on screen
// at a time; concurrent callers wait their turn.
type Prompt struct {
	Out io.Writer

	mu      sync.Mutex
	confirm func(label string) (bool, error)
}

func NewPrompt() *Prompt {
	return &Prompt{
		Out:     os.Stdout,
		confirm: confirmTerminal,
	}
}

// Show prints the request and waits for the operator. When ctx ends first
// Show returns, but the next caller waits until the abandoned prompt is
// answered or aborted, since promptui cannot be cancelled.
func (p *Prompt) Show(ctx context.Context, req Request) (bool, error) {
	p.mu.Lock()

	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return false, err
	}

	p.describe(req)

	type answer struct {
		ok  bool
		err error
	}

	// The goroutine owns the terminal, and the lock, until the prompt returns.
	done := make(chan answer, 1)
	go func() {
		defer p.mu.Unlock()

		ok, err := p.confirm("Approve")
		done <- answer{ok, err}
	}()

	select {
	case a := <-done:
		return a.ok, a.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Prompt) describe(req Request) {
	header := color.New(color.FgCyan, color.Bold)
	warn := color.New(color.FgYellow)

	header.Fprintln(p.Out, Summary(req))

	switch r := req.(type) {
	case SignTransaction:
		p.describeTxs(r, warn)
	case SignAndSend:
		p.describeTxs(r.SignTransaction, warn)
	case SignMessage:
		fmt.Fprintf(p.Out, "  message: %q\n", r.Message)
	case Connect:
	}
}

func (p *Prompt) describeTxs(r SignTransaction, warn *color.Color) {
	if r.URL != "" {
		fmt.Fprintf(p.Out, "  origin: %s\n", r.URL)
	}

	for i, tx := range r.SerializedTxs {
		fmt.Fprintf(p.Out, "  tx %d: %d bytes\n", i+1, len(tx))
	}

	if !r.SuppressWarnings {
		warn.Fprintln(p.Out, "  balances may change when these transactions land")
	}
}

func confirmTerminal(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	_, err := prompt.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort),
		errors.Is(err, promptui.ErrInterrupt),
		errors.Is(err, promptui.ErrEOF):
		return false, nil
	default:
		return false, fmt.Errorf("prompt: %w", err)
	}
}
