package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/nerrad567/laurel-core/internal/bridge"
	"github.com/nerrad567/laurel-core/internal/mesh"
)

// Prompt is the readline prompt.
const Prompt = "laurel> "

// Console handles interactive mode. It implements bridge.StateSink so
// confirmed state changes are printed as they arrive.
type Console struct {
	network *mesh.Network
	rl      *readline.Instance

	mu  sync.Mutex
	out io.Writer
}

var _ bridge.StateSink = (*Console)(nil)

// New creates a console bound to the terminal.
func New(network *mesh.Network) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(network),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newConsole(network, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(network *mesh.Network, out io.Writer) *Console {
	return &Console{network: network, out: out}
}

// Stdout returns a writer that coordinates with the readline input.
// Use it for log output so records do not overwrite the prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads and executes commands until exit, EOF or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	if c.rl == nil {
		return errors.New("console: no terminal")
	}
	defer c.rl.Close()

	go func() {
		<-ctx.Done()
		c.rl.Close()
	}()

	c.printHelp()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			// EOF, or closed after cancellation.
			c.println("Exiting...")
			return nil
		}

		if quit := c.Execute(ctx, line); quit {
			return nil
		}
	}
}

// Execute runs one command line. It reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "list", "ls":
		c.cmdList()
	case "meshes":
		c.cmdMeshes()
	case "connect":
		c.cmdConnect(ctx, args)
	case "on", "off":
		c.cmdPower(ctx, cmd == "on", args)
	case "brightness", "dim":
		c.cmdBrightness(ctx, args)
	case "temp", "temperature":
		c.cmdTemperature(ctx, args)
	case "rgb":
		c.cmdRGB(ctx, args)
	case "status":
		c.cmdStatus(ctx, args)
	case "show":
		c.cmdShow(args)
	case "quit", "exit", "q":
		c.println("Exiting...")
		return true
	default:
		c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

// PublishState prints a confirmed state change.
func (c *Console) PublishState(msg bridge.StateMessage) {
	c.printf("[state] %s (%s): %s\n", msg.Name, msg.DeviceID, formatState(msg.State))
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) println(args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, args...)
}

func (c *Console) printHelp() {
	c.println(`
Laurel Console Commands:
  Network:
    list                      - List devices with cached state
    meshes                    - List meshes and connection state
    connect [mesh]            - Connect one mesh, or every disconnected mesh

  Control:
    on <device>               - Switch a light on
    off <device>              - Switch a light off
    brightness <device> <n>   - Set brightness (0-255)
    temp <device> <n>         - Set colour temperature (0-255)
    rgb <device> <r> <g> <b>  - Set colour (0-255 each)

  State:
    status [device]           - Request a status report (all meshes by default)
    show <device>             - Show cached state

  General:
    help                      - Show this help
    exit                      - Exit console

  <device> is a device key, a MAC or a device name.`)
}

// completer offers command names and device names.
func completer(network *mesh.Network) *readline.PrefixCompleter {
	var devices []readline.PrefixCompleterInterface
	for _, d := range network.Devices() {
		devices = append(devices, readline.PcItem(strings.ToLower(d.Name())))
	}
	var meshes []readline.PrefixCompleterInterface
	for _, m := range network.Meshes() {
		meshes = append(meshes, readline.PcItem(m.Address()))
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("list"),
		readline.PcItem("meshes"),
		readline.PcItem("connect", meshes...),
		readline.PcItem("on", devices...),
		readline.PcItem("off", devices...),
		readline.PcItem("brightness", devices...),
		readline.PcItem("temp", devices...),
		readline.PcItem("rgb", devices...),
		readline.PcItem("status", devices...),
		readline.PcItem("show", devices...),
		readline.PcItem("exit"),
	)
}
