package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/amxdbg/amxdbg/pkg/amx"
	"github.com/amxdbg/amxdbg/pkg/config"
	"github.com/amxdbg/amxdbg/pkg/logflags"
	"github.com/amxdbg/amxdbg/service"
	"github.com/amxdbg/amxdbg/service/api"
)

const (
	historyFile                 string = ".amxdbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack   = 30
	ansiWhite   = 37
	ansiBrBlack = 90
	ansiBrWhite = 97
	ansiBlue    = 34
)

// Term represents the terminal running amxdbg.
type Term struct {
	client service.Client
	conf   *config.Config
	prompt string
	line   *liner.State
	cmds   *Commands
	dumb   bool
	stdout io.Writer
	log    *logrus.Entry

	// cancelCmd interrupts the command being executed, if any.
	cancelMu  sync.Mutex
	cancelCmd context.CancelFunc
}

// New returns a new Term.
func New(client service.Client, conf *config.Config) *Term {
	cmds := DebugCommands(client)
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	if color := conf.GetRegisterColor(); (color > ansiWhite && color < ansiBrBlack) ||
		color < ansiBlack || color > ansiBrWhite {
		conf.RegisterColor = ansiBlue
	}

	t := &Term{
		client: client,
		conf:   conf,
		prompt: "(amxdbg) ",
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
		log:    logflags.TerminalLogger(),
	}
	client.SetEventHandler(t.handleEvent)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.cancelMu.Lock()
		cancel := t.cancelCmd
		t.cancelMu.Unlock()
		if cancel != nil {
			fmt.Fprintln(os.Stderr, "received SIGINT, interrupting command")
			cancel()
			continue
		}
		if t.client.Status() != api.Running {
			fmt.Fprintln(os.Stderr, "received SIGINT, target is not running (type 'exit' to quit)")
			continue
		}
		fmt.Fprintln(os.Stderr, "received SIGINT, halting target")
		if err := halt(t, context.Background(), ""); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// Run begins running amxdbg in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	// Halt the target on SIGINT
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer func() {
		signal.Stop(ch)
		close(ch)
	}()
	go t.sigintGuard(ch)

	t.line.SetCompleter(func(line string) []string {
		return t.cmds.Complete(line)
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.call(cmdstr); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.printError(err)
		}
	}
}

// call executes cmdstr, the command can be interrupted with SIGINT.
func (t *Term) call(cmdstr string) error {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelMu.Lock()
	t.cancelCmd = cancel
	t.cancelMu.Unlock()
	defer func() {
		t.cancelMu.Lock()
		t.cancelCmd = nil
		t.cancelMu.Unlock()
		cancel()
	}()

	t.log.Debugf("command %q", cmdstr)
	return t.cmds.Call(ctx, cmdstr, t)
}

func (t *Term) printError(err error) {
	var oerr *OfflineCommandError
	if errors.As(err, &oerr) {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Command interrupted, the connection will be reopened by the next command")
		return
	}
	fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
}

// handleEvent prints the asynchronous events of the session. It runs on
// the listener goroutine.
func (t *Term) handleEvent(ev api.Event) {
	switch ev.Kind {
	case api.BreakpointHit:
		fmt.Fprintf(t.stdout, "\n> Breakpoint hit at 0x%X (hit %d)\n", ev.CIP(), ev.Hits)
	case api.ListenerLost:
		fmt.Fprintf(t.stdout, "\n> Lost connection to the debugger while running: %v\n", ev.Err)
	}
}

func (t *Term) printCurrentInstruction() {
	regs := t.client.Registers()
	api.PrettyRegister(t.stdout, amx.CIP, regs.Get(amx.CIP), t.colorize)
}

// colorize highlights a register name unless the terminal is dumb.
func (t *Term) colorize(name string) string {
	if t.dumb {
		return name
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, t.conf.GetRegisterColor()) + name + terminalResetEscapeCode
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if err := t.client.Close(); err != nil {
		return 1, err
	}
	return 0, nil
}
