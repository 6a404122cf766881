package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hassbridge/internal/audit"
	"hassbridge/internal/command"
	"hassbridge/internal/config"
	"hassbridge/internal/domain"
	"hassbridge/internal/security"
)

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text...>",
		Short: "Show how a message would be handled, without calling Home Assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			classifier := command.NewClassifier(cfg.Entities)
			return printClassification(cmd.OutOrStdout(), classifier.Classify(strings.Join(args, " ")))
		},
	}
}

// printClassification writes the command kind, its audit text and the
// service calls it would produce.
func printClassification(w io.Writer, cmd domain.Command) error {
	fmt.Fprintf(w, "kind:  %s\n", cmd.Kind)
	switch cmd.Kind {
	case domain.CommandNone:
		fmt.Fprintln(w, "no command recognized; the message would be ignored")
		return nil
	case domain.CommandInvalid:
		fmt.Fprintf(w, "error: %s\n", cmd.Reason)
		return nil
	}

	fmt.Fprintf(w, "audit: %s\n", cmd.AuditText())
	for i, call := range command.Plan(cmd) {
		body, err := json.Marshal(call.Body())
		if err != nil {
			return fmt.Errorf("marshal %s: %w", call, err)
		}
		fmt.Fprintf(w, "call %d: POST /api/services/%s/%s %s\n", i+1, call.Domain, call.Service, body)
	}
	return nil
}

func callCmd() *cobra.Command {
	var noAudit bool

	cmd := &cobra.Command{
		Use:   "call <domain> <service> <entity_id> [key=value...]",
		Short: "Call one Home Assistant service directly",
		Long: `Calls one service and records it in the audit trail, like "call service" in chat.
Extra key=value pairs are added to the request body; numbers and booleans are
sent as JSON numbers and booleans.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			call := domain.ServiceCall{
				Domain:   strings.ToLower(args[0]),
				Service:  strings.ToLower(args[1]),
				EntityID: strings.ToLower(args[2]),
			}
			if call.Data, err = parseData(args[3:]); err != nil {
				return err
			}

			policy, err := security.NewPolicy(cfg.Policy, logger)
			if err != nil {
				return fmt.Errorf("raw-call policy: %w", err)
			}
			if policy.Check(call.Domain, call.Service) == domain.ActionBlock {
				return fmt.Errorf("%s.%s: %w", call.Domain, call.Service, command.ErrServiceNotAllowed)
			}

			client, err := newHAClient(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var res domain.CallResult
			if len(call.Data) == 0 {
				res = client.CallService(ctx, call.Domain, call.Service, call.EntityID)
			} else {
				res = client.Call(ctx, call)
			}
			if res.OK() {
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%d, %s)\n", call, res.StatusCode, res.Duration.Round(time.Millisecond))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "failed: %s (%v)\n", call, res.Err)
			}

			if !noAudit {
				text := strings.Join([]string{command.RawCallPrefix, call.Domain, call.Service, call.EntityID}, " ")
				rec := domain.AuditRecord{Timestamp: time.Now(), Text: text}
				if err := audit.NewFileLogger(cfg.Audit.Path, logger).Append(context.WithoutCancel(ctx), rec); err != nil {
					return fmt.Errorf("audit: %w", err)
				}
			}
			return res.Err
		},
	}

	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "do not write the call to the audit trail")
	return cmd
}

// parseData turns key=value arguments into a request body fragment.
func parseData(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid data %q: expected key=value", p)
		}
		if k == "entity_id" {
			return nil, errors.New("entity_id is set by the third argument")
		}
		data[k] = parseValue(v)
	}
	return data, nil
}

func parseValue(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Sample()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var raw bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any
			if raw {
				m, err := config.LoadFile(resolveConfigPath())
				if err != nil {
					return err
				}
				v = m
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				v = config.Sanitize(cfg)
			}
			return writeYAML(cmd.OutOrStdout(), v)
		},
	}
	showCmd.Flags().BoolVar(&raw, "raw", false, "print the file as written, without env expansion or masking")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.ExpandPath(resolveConfigPath()))
		},
	}

	cmd.AddCommand(initCmd, showCmd, pathCmd)
	return cmd
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
