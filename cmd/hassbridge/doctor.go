package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"hassbridge/internal/audit"
	"hassbridge/internal/config"
	"hassbridge/internal/security"
)

const doctorTimeout = 10 * time.Second

func doctorCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your hassbridge setup",
		Long: `Verifies the configuration, the audit log, the raw-call policy and, unless
--offline is given, that Home Assistant and Telegram accept the configured tokens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), offline)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip checks that need the network")
	return cmd
}

type report struct {
	w                      io.Writer
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	fmt.Fprintf(r.w, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *report) fail(check, detail string) {
	fmt.Fprintf(r.w, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *report) warn(check, detail string) {
	fmt.Fprintf(r.w, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func runDoctor(ctx context.Context, w io.Writer, offline bool) error {
	fmt.Fprintf(w, "hassbridge doctor v%s\n", version)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	r := &report{w: w}

	cfg, err := loadConfig()
	if err != nil {
		r.fail("Config", err.Error())
		fmt.Fprintf(w, "\nRun 'hassbridge config init' to create a sample configuration.\n")
		return fmt.Errorf("configuration is invalid")
	}
	r.pass("Config", resolveConfigPath())

	if err := config.ValidateIngress(cfg); err != nil {
		r.warn("Ingress", err.Error()+" (chat still works)")
	} else {
		r.pass("Ingress", ingressSummary(cfg))
	}

	if _, err := security.NewPolicy(cfg.Policy, logger); err != nil {
		r.fail("Raw-call policy", err.Error())
	} else if cfg.Policy.Default == "allow" && len(cfg.Policy.Allow) == 0 && len(cfg.Policy.Deny) == 0 {
		r.warn("Raw-call policy", "every domain.service is allowed")
	} else {
		r.pass("Raw-call policy", "default "+cfg.Policy.Default)
	}

	if err := audit.CheckWritable(cfg.Audit.Path); err != nil {
		r.fail("Audit log", err.Error())
	} else {
		r.pass("Audit log", cfg.Audit.Path)
	}

	if cfg.HTTP.Enabled {
		if err := checkAddr(cfg.HTTP.Addr); err != nil {
			r.warn("HTTP listener", fmt.Sprintf("%s may be in use: %v", cfg.HTTP.Addr, err))
		} else {
			r.pass("HTTP listener", cfg.HTTP.Addr+" available")
		}
	}

	if offline {
		r.warn("Network checks", "skipped (--offline)")
	} else {
		checkHomeAssistant(ctx, r, cfg)
		if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
			checkTelegram(r, cfg)
		}
	}

	fmt.Fprintf(w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintf(w, "\nPlease fix the failed checks before running hassbridge.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(w, "\nhassbridge should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(w, "\nAll checks passed! hassbridge is ready to run.\n")
	}
	return nil
}

func ingressSummary(cfg *config.Config) string {
	switch {
	case cfg.Telegram.Enabled && cfg.HTTP.Enabled:
		return "telegram, webhook"
	case cfg.Telegram.Enabled:
		return "telegram"
	default:
		return "webhook"
	}
}

func checkHomeAssistant(ctx context.Context, r *report, cfg *config.Config) {
	client, err := newHAClient(cfg)
	if err != nil {
		r.fail("Home Assistant", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		r.fail("Home Assistant", err.Error())
		return
	}
	r.pass("Home Assistant", cfg.HomeAssistant.URL)
}

func checkTelegram(r *report, cfg *config.Config) {
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		r.fail("Telegram", err.Error())
		return
	}
	r.pass("Telegram", "@"+bot.Self.UserName)
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
