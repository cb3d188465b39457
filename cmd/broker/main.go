package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "broker",
	Short:        "Integration broker CLI",
	Long:         "A CLI for creating, authorizing and using OAuth integrations held by the integration broker.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
		if err != nil {
			// login rewrites the file, so a broken one must not block it.
			if cmd.Name() != "login" {
				return err
			}
			loaded = CLIConfig{Address: defaultAddress}
		}
		cfg = loaded
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(integrationCmd())
	rootCmd.AddCommand(auditCmd())
}

// tokenArg takes the token from args, then BROKER_TOKEN, then stdin.
func tokenArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if v := os.Getenv("BROKER_TOKEN"); v != "" {
		return v, nil
	}
	fmt.Fprint(os.Stderr, "Integration token: ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	tok := strings.TrimSpace(scanner.Text())
	if tok == "" {
		return "", errors.New("no token given")
	}
	return tok, nil
}

// --- login ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the broker address and admin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("address"); addr != "" {
				cfg.Address = addr
			}
			if tok, _ := cmd.Flags().GetString("admin-token"); tok != "" {
				cfg.AdminToken = tok
			}
			if ca, _ := cmd.Flags().GetString("ca-cert"); ca != "" {
				cfg.TLSCACert = ca
			}
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			printSuccess("Saved configuration to " + configPath())
			return nil
		},
	}
	cmd.Flags().String("address", "", "Broker address")
	cmd.Flags().String("admin-token", "", "Admin token for the audit log")
	cmd.Flags().String("ca-cert", "", "CA certificate for TLS")
	return cmd
}

// --- status ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show broker health",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().call(http.MethodGet, "/v1/sys/health", nil)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

// --- integration ---

func integrationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "integration", Short: "Manage OAuth integrations"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Start a new integration and print the authorization URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().call(http.MethodPost, "/v1/integrations", nil)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	authorizeCmd := &cobra.Command{
		Use:   "authorize <authorization-token>",
		Short: "Complete an integration with the code and state from the provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("code")
			state, _ := cmd.Flags().GetString("state")
			result, err := newClient().call(http.MethodGet, authorizePath(args[0], code, state), nil)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	authorizeCmd.Flags().String("code", "", "Authorization code returned by the provider")
	authorizeCmd.Flags().String("state", "", "State returned by the provider")
	authorizeCmd.MarkFlagRequired("code")  //nolint:errcheck
	authorizeCmd.MarkFlagRequired("state") //nolint:errcheck

	authenticateCmd := &cobra.Command{
		Use:   "authenticate [integration-token]",
		Short: "Print the downstream credential for an integration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := tokenArg(args)
			if err != nil {
				return err
			}
			result, err := newClient().call(http.MethodGet, "/v1/integrations/credential", bearer(tok))
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke [integration-token]",
		Short: "Delete an integration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := tokenArg(args)
			if err != nil {
				return err
			}
			if _, err := newClient().call(http.MethodDelete, "/v1/integrations", bearer(tok)); err != nil {
				return err
			}
			printSuccess("Integration revoked")
			return nil
		},
	}

	cmd.AddCommand(createCmd, authorizeCmd, authenticateCmd, revokeCmd)
	return cmd
}

func authorizePath(token, code, state string) string {
	q := url.Values{}
	q.Set("code", code)
	q.Set("state", state)
	return "/v1/integrations/authorize/" + url.PathEscape(token) + "?" + q.Encode()
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit log entries (requires admin token)",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, name := range []string{"kind", "event", "since"} {
				if v, _ := cmd.Flags().GetString(name); v != "" {
					q.Set(name, v)
				}
			}
			limit, _ := cmd.Flags().GetInt("limit")
			q.Set("limit", strconv.Itoa(limit))

			client := newClient()
			if client.adminToken == "" {
				return errors.New("no admin token configured; run `broker login --admin-token` or set BROKER_ADMIN_TOKEN")
			}
			result, err := client.call(http.MethodGet, "/v1/sys/audit-log?"+q.Encode(), client.admin())
			if err != nil {
				return err
			}
			entries, _ := result["data"].([]any)
			printAudit(entries)
			return nil
		},
	}
	cmd.Flags().String("kind", "", "Filter by record kind (authorization, integration)")
	cmd.Flags().String("event", "", "Filter by event")
	cmd.Flags().String("since", "", "Only entries after this RFC3339 time")
	cmd.Flags().Int("limit", 50, "Maximum entries")
	return cmd
}
