package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/org/vaultcreds/internal/creds"
	"github.com/org/vaultcreds/internal/oidc"
)

var rootCmd = &cobra.Command{
	Use:   "vaultcreds",
	Short: "Vault-backed credential manager",
	Long:  "Manage per-object username/password credentials stored in a Vault KV engine.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		if err := loadConfig(); err != nil {
			return err
		}
		levelName := cfg.LogLevel
		if logLevel != "" {
			levelName = logLevel
		}
		level, err := zerolog.ParseLevel(levelName)
		if err != nil {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.vaultcreds/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&objectPath, "object", "", "Object keyspace, e.g. device/42")
	rootCmd.PersistentFlags().StringVar(&storeKind, "token-store", "keyring", "Where to keep the session token: keyring, file")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(revealCmd())
	rootCmd.AddCommand(setCmd())
	rootCmd.AddCommand(rotateCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(devServerCmd())
}

// --- login / logout ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString("method")
			if method == "" {
				if cfg.TokenEnabled() {
					method = "token"
				} else {
					method = "oidc"
				}
			}

			ctx := cmd.Context()
			switch method {
			case "token":
				if !cfg.TokenEnabled() {
					printError("token login is not enabled for this deployment")
					return nil
				}
				token, _ := cmd.Flags().GetString("token")
				if token == "" {
					fmt.Fprint(os.Stderr, "Token: ")
					scanner := bufio.NewScanner(os.Stdin)
					scanner.Scan()
					token = strings.TrimSpace(scanner.Text())
				}
				client := newClient().WithSession(newStaticSession(token))
				lookup, err := client.TokenLookupSelf(ctx)
				if err != nil {
					printError(err.Error())
					return nil
				}
				if err := tokenStore().Save(token); err != nil {
					printError("storing token: " + err.Error())
					return nil
				}
				printResult(map[string]any{
					"display_name": lookup.DisplayName,
					"policies":     toAny(lookup.Policies),
					"ttl":          lookup.TTL,
					"renewable":    lookup.Renewable,
				})
				return nil

			case "oidc":
				if !cfg.OIDCEnabled() {
					printError("oidc login is not enabled for this deployment")
					return nil
				}
				role, _ := cmd.Flags().GetString("role")
				role, err := resolveRole(role)
				if err != nil {
					printError(err.Error())
					return nil
				}
				authed, err := oidc.Login(ctx, newClient(), role)
				if err != nil {
					printError(err.Error())
					return nil
				}
				defer authed.Close()
				session := authed.Session()
				if err := tokenStore().Save(session.Token()); err != nil {
					printError("storing token: " + err.Error())
					return nil
				}
				result := map[string]any{"authenticated": true}
				if exp := session.ExpiresAt(); !exp.IsZero() {
					result["expires_at"] = exp.Format("2006-01-02 15:04:05")
				}
				printResult(result)
				return nil

			default:
				printError("unknown login method: " + method)
				return nil
			}
		},
	}
	cmd.Flags().String("method", "", "Login method: token, oidc (default per deployment config)")
	cmd.Flags().String("token", "", "Token for token login (prompted when omitted)")
	cmd.Flags().String("role", "", "OIDC role (required for multi-role deployments)")
	return cmd
}

// resolveRole picks the OIDC role: an explicit flag always wins, a
// single-role deployment needs none, a multi-role one requires the choice.
func resolveRole(role string) (string, error) {
	if role != "" {
		if _, ok := cfg.OIDC.Roles[role]; !ok && len(cfg.OIDC.Roles) > 0 {
			return "", fmt.Errorf("unknown role %q", role)
		}
		return role, nil
	}
	switch len(cfg.OIDC.Roles) {
	case 0:
		return "", nil
	case 1:
		for r := range cfg.OIDC.Roles {
			return r, nil
		}
	}
	names := make([]string, 0, len(cfg.OIDC.Roles))
	for r, label := range cfg.OIDC.Roles {
		names = append(names, fmt.Sprintf("%s (%s)", r, label))
	}
	return "", fmt.Errorf("--role required, one of: %s", strings.Join(names, ", "))
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := tokenStore().Remove(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

// --- credential entries ---

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credential entries for the object",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				printError(err.Error())
				return nil
			}
			infos, err := svc.List(cmd.Context())
			if err != nil {
				printError(err.Error())
				return nil
			}
			printInfos(infos)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one credential entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				printError(err.Error())
				return nil
			}
			info, err := svc.Entry(cmd.Context(), args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(map[string]any{
				"id":       info.ID,
				"label":    info.Label,
				"username": info.Username,
				"version":  info.Version,
			})
			return nil
		},
	}
}

func revealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <id>",
		Short: "Print the entry's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				printError(err.Error())
				return nil
			}
			pw, err := svc.Reveal(cmd.Context(), args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if !pw.Exists {
				printError("no password stored for this entry")
				return nil
			}
			fmt.Println(pw.Value)
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [id]",
		Short: "Create or update a credential entry",
		Long: "Without an id a new entry is created from --label, --username and\n" +
			"--password. With an id, only the flags given are changed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				printError(err.Error())
				return nil
			}
			req := creds.SaveRequest{}
			if len(args) == 1 {
				req.ID = args[0]
			}
			req.Label, _ = cmd.Flags().GetString("label")
			req.Username, _ = cmd.Flags().GetString("username")
			req.Password, _ = cmd.Flags().GetString("password")
			if cmd.Flags().Changed("cas") {
				v, _ := cmd.Flags().GetInt("cas")
				req.ExpectedVersion = &v
			}

			info, err := svc.Save(cmd.Context(), req)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(map[string]any{
				"id":       info.ID,
				"label":    info.Label,
				"username": info.Username,
				"version":  info.Version,
			})
			return nil
		},
	}
	cmd.Flags().String("label", "", "Display label")
	cmd.Flags().String("username", "", "Username")
	cmd.Flags().String("password", "", "Password")
	cmd.Flags().Int("cas", 0, "Require this current version for the password write")
	return cmd
}

func rotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate <id>",
		Short: "Write a new password version, guarded against concurrent edits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				printError(err.Error())
				return nil
			}
			ctx := cmd.Context()

			// Pin the version we observed so a rotation that raced
			// another writer fails instead of silently clobbering.
			edit, err := svc.NewEdit(ctx, args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if err := edit.ToggleReveal(ctx); err != nil {
				printError(err.Error())
				return nil
			}

			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				fmt.Fprint(os.Stderr, "New password: ")
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Scan()
				password = strings.TrimSpace(scanner.Text())
			}
			edit.Password = password

			info, err := edit.Commit(ctx)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(map[string]any{"id": info.ID, "version": info.Version})
			return nil
		},
	}
	cmd.Flags().String("password", "", "New password (prompted when omitted)")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a credential entry and all its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				printError(err.Error())
				return nil
			}
			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Entry deleted: " + args[0])
			return nil
		},
	}
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Session token management"}

	lookupCmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up the stored session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := sessionClient()
			if err != nil {
				printError(err.Error())
				return nil
			}
			lookup, err := client.TokenLookupSelf(cmd.Context())
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(map[string]any{
				"accessor":     lookup.Accessor,
				"display_name": lookup.DisplayName,
				"expire_time":  lookup.ExpireTime,
				"policies":     toAny(lookup.Policies),
				"renewable":    lookup.Renewable,
				"ttl":          lookup.TTL,
			})
			return nil
		},
	}

	renewCmd := &cobra.Command{
		Use:   "renew",
		Short: "Renew the stored session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := sessionClient()
			if err != nil {
				printError(err.Error())
				return nil
			}
			auth, err := client.TokenRenewSelf(cmd.Context())
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(map[string]any{
				"lease_duration": auth.LeaseDuration,
				"renewable":      auth.Renewable,
			})
			return nil
		},
	}

	cmd.AddCommand(lookupCmd, renewCmd)
	return cmd
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
