// Package console is the operator shell of the daemon.
//
// On a terminal it runs an interactive prompt with completion; otherwise it
// reads one command per line, which lets scripts drive a recording through
// a pipe.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/digirec/internal/controller"
	"github.com/xtxerr/digirec/internal/logging"
)

// Controls is the part of the controller the console drives.
type Controls interface {
	Connect() error
	StartAcquisition() error
	StopAcquisition() error
	StartRecording() error
	StopRecording()
	Status() controller.Status
}

type command struct {
	help string
	run  func(c *Console) error
}

var commands = map[string]command{
	"connect": {"reconnect the digitiser", func(c *Console) error { return c.ctl.Connect() }},
	"start":   {"start acquisition", func(c *Console) error { return c.ctl.StartAcquisition() }},
	"stop":    {"stop acquisition", func(c *Console) error { return c.ctl.StopAcquisition() }},
	"record":  {"start or resume recording", func(c *Console) error { return c.ctl.StartRecording() }},
	"pause":   {"pause recording", func(c *Console) error { c.ctl.StopRecording(); return nil }},
	"status":  {"show pipeline status", func(c *Console) error {
		fmt.Fprint(c.out, c.ctl.Status())
		return nil
	}},
	"help": {"list commands", nil},
	"quit": {"shut down and exit", nil},
}

// Console dispatches operator commands to the controller.
type Console struct {
	ctl Controls
	out io.Writer

	quit     chan struct{}
	quitOnce sync.Once

	termMu    sync.Mutex
	termFd    int
	termState *term.State
}

// New creates a console writing its replies to out.
func New(ctl Controls, out io.Writer) *Console {
	return &Console{ctl: ctl, out: out, quit: make(chan struct{}), termFd: -1}
}

// Done is closed once the operator asked to quit or input ended.
func (c *Console) Done() <-chan struct{} {
	return c.quit
}

func (c *Console) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// Execute runs one command line and reports whether the console should quit.
func (c *Console) Execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	name := strings.ToLower(fields[0])
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(c.out, "unknown command %q, try help\n", fields[0])
		return false
	}
	switch name {
	case "quit":
		c.stop()
		return true
	case "help":
		c.help()
		return false
	}

	if err := cmd.run(c); err != nil {
		fmt.Fprintf(c.out, "%s: %v\n", name, err)
		logging.Component("console").Warn("command failed", "command", name, "error", err)
		return false
	}
	if name != "status" {
		fmt.Fprintln(c.out, "ok")
	}
	return false
}

func (c *Console) help() {
	for _, name := range names() {
		fmt.Fprintf(c.out, "  %-8s %s\n", name, commands[name].help)
	}
}

func names() []string {
	out := make([]string, 0, len(commands))
	for name := range commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Complete suggests command names for the word under the cursor.
func (c *Console) Complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	s := make([]prompt.Suggest, 0, len(commands))
	for _, name := range names() {
		s = append(s, prompt.Suggest{Text: name, Description: commands[name].help})
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

// Run reads commands from in until quit or ctx ends. On a terminal, Ctrl-D
// also quits; a piped input that ends just stops being read, so a daemon
// started with stdin closed keeps running.
func (c *Console) Run(ctx context.Context, in *os.File) {
	if term.IsTerminal(int(in.Fd())) {
		c.runPrompt(int(in.Fd()))
		c.stop()
		return
	}
	c.RunLines(ctx, in)
}

func (c *Console) runPrompt(fd int) {
	if st, err := term.GetState(fd); err == nil {
		c.termMu.Lock()
		c.termFd, c.termState = fd, st
		c.termMu.Unlock()
	}
	defer c.Restore()

	p := prompt.New(
		func(line string) { c.Execute(line) },
		c.Complete,
		prompt.OptionPrefix("digirec> "),
		prompt.OptionTitle("digirec"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			if !breakline {
				return false
			}
			select {
			case <-c.quit:
				return true
			default:
				return false
			}
		}),
	)
	p.Run()
}

// RunLines executes one command per line of r until quit, end of input or
// ctx ends.
func (c *Console) RunLines(ctx context.Context, r io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			case <-c.quit:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || c.Execute(line) {
				return
			}
		}
	}
}

// Restore puts the terminal back into the state it had before the prompt
// started. It is safe to call at any time and more than once.
func (c *Console) Restore() {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	if c.termState != nil {
		term.Restore(c.termFd, c.termState)
		c.termState = nil
	}
}
