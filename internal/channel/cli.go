package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"hassbridge/internal/domain"
)

const cliPrompt = "hass> "

// CLI implements domain.Channel for an interactive terminal session. Each
// line is published like a chat message; replies are printed as they come.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

var _ domain.Channel = (*CLI)(nil)

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until EOF, /quit or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound(c.Name(), func(msg domain.OutboundMessage) {
		_ = c.Send(ctx, msg.ChatID, msg.Content)
	})

	c.print("hassbridge chat. Type a command and press Enter, /help for the vocabulary, /quit to exit.\n" + cliPrompt)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			switch line {
			case "":
				c.print(cliPrompt)
				continue
			case "/quit", "/exit", "/q":
				c.logger.Info("user requested quit")
				return nil
			case "/help":
				c.print(telegramHelp + "\n" + cliPrompt)
				continue
			}

			c.bus.Publish(domain.InboundMessage{
				Channel:  c.Name(),
				ChatID:   "direct",
				SenderID: "user",
				Content:  line,
			})
			c.print(cliPrompt)
		}
	}
}

func (c *CLI) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

// Send prints content above a fresh prompt.
func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	c.print("\r" + content + "\n" + cliPrompt)
	return nil
}
