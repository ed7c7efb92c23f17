// Package console is the interactive terminal surface: it announces
// setpoint changes and lets the operator answer with a takeover decision,
// keeping any field of the observed setpoint by leaving it blank.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"mavmitm/forwarder"
	"mavmitm/logger"
	"mavmitm/mavlink"
)

type pendingChange struct {
	doc *forwarder.PacketDocument
	sig mavlink.SetpointSignature
}

// Decider applies operator decisions; the forwarder satisfies it.
type Decider interface {
	SubmitDecision(forwarder.Decision)
}

// Console reads operator commands from a terminal. It implements the
// forwarder's Notifier interface; notifications never block the datagram
// path, and changes that arrive while the operator is mid-dialog are
// skipped rather than queued up stale.
type Console struct {
	fwd    Decider
	in     io.Reader
	lines  chan string
	prompt chan pendingChange
	quit   chan struct{}
	stopCh chan struct{}
}

func New(fwd Decider) *Console {
	return &Console{
		fwd:    fwd,
		in:     os.Stdin,
		lines:  make(chan string),
		prompt: make(chan pendingChange, 1),
		quit:   make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

// Quit is closed when the operator types "quit".
func (c *Console) Quit() <-chan struct{} {
	return c.quit
}

// Start spawns the stdin reader and the dialog worker.
func (c *Console) Start() {
	go c.readLines()
	go c.run()
	fmt.Println("Commands: stop (end takeover), quit. Setpoint changes prompt for a decision.")
}

func (c *Console) Stop() {
	close(c.stopCh)
}

func (c *Console) readLines() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case c.lines <- strings.TrimSpace(scanner.Text()):
		case <-c.stopCh:
			return
		}
	}
}

func (c *Console) run() {
	for {
		select {
		case <-c.stopCh:
			return
		case line := <-c.lines:
			c.handleCommand(line)
		case p := <-c.prompt:
			c.dialog(p)
		}
	}
}

func (c *Console) handleCommand(line string) {
	switch strings.ToLower(line) {
	case "":
	case "stop":
		c.fwd.SubmitDecision(forwarder.Decision{Stop: true})
		fmt.Println("Takeover stopped.")
	case "quit", "exit":
		close(c.quit)
	default:
		fmt.Printf("Unknown command %q (stop, quit)\n", line)
	}
}

// dialog walks the operator through one takeover decision. Every field
// defaults to the setpoint the controller just sent.
func (c *Console) dialog(p pendingChange) {
	fmt.Printf("\nSetpoint changed: N=%.3f E=%.3f alt=%.3f yaw=%.3f (held %d repeats)\n",
		p.sig.X, p.sig.Y, p.sig.Alt, p.sig.Yaw, p.doc.Meta.RepeatSinceLast)

	answer, ok := c.ask("Take over? [y/N]: ")
	if !ok {
		return
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
	case "stop":
		c.fwd.SubmitDecision(forwarder.Decision{Stop: true})
		return
	case "quit", "exit":
		close(c.quit)
		return
	default:
		return // pass through unchanged
	}

	target := p.sig
	fields := []struct {
		label string
		val   *float64
	}{
		{"North", &target.X},
		{"East", &target.Y},
		{"Altitude", &target.Alt},
		{"Yaw", &target.Yaw},
	}
	for _, f := range fields {
		line, ok := c.ask(fmt.Sprintf("%s [%.3f]: ", f.label, *f.val))
		if !ok {
			return
		}
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			fmt.Printf("Not a number, keeping %.3f\n", *f.val)
			continue
		}
		*f.val = mavlink.Round3(v)
	}

	var hz float64
	if line, ok := c.ask("Rate Hz [match stream]: "); ok && line != "" {
		if v, err := strconv.ParseFloat(line, 64); err == nil {
			hz = v
		}
	}

	c.fwd.SubmitDecision(forwarder.Decision{Target: target, Hz: hz})
	fmt.Printf("Injecting N=%.3f E=%.3f alt=%.3f yaw=%.3f\n",
		target.X, target.Y, target.Alt, target.Yaw)
}

func (c *Console) ask(question string) (string, bool) {
	fmt.Print(question)
	select {
	case line := <-c.lines:
		return line, true
	case <-c.stopCh:
		return "", false
	}
}

// PacketForwarded is part of the Notifier interface; relayed non-setpoint
// traffic is visible on the web stream and stays quiet here.
func (c *Console) PacketForwarded(doc *forwarder.PacketDocument) {}

// SetpointChanged offers the change to the operator. If a dialog is
// already showing, the change is dropped; the next one will be fresher
// anyway.
func (c *Console) SetpointChanged(doc *forwarder.PacketDocument, sig mavlink.SetpointSignature) {
	select {
	case c.prompt <- pendingChange{doc: doc, sig: sig}:
	default:
		logger.Debug("[CONSOLE] Operator busy, change not offered")
	}
}

// SetpointRepeated stays quiet; repeats are summarized on the web stream.
func (c *Console) SetpointRepeated(doc *forwarder.PacketDocument) {}

// Telemetry stays quiet on the terminal.
func (c *Console) Telemetry(doc *forwarder.PacketDocument) {}
