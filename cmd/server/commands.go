package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aethra/lowcode/internal/auth"
	"github.com/aethra/lowcode/internal/migration"
	"github.com/aethra/lowcode/internal/models"
)

// withApp runs fn with an assembled app and closes it afterwards
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func printApplied(w io.Writer, verb string, names []string) {
	if len(names) == 0 {
		fmt.Fprintln(w, "Nothing to do")
		return
	}
	for _, n := range names {
		fmt.Fprintf(w, "  %s %s\n", verb, n)
	}
}

func printStatus(w io.Writer, files []migration.FileStatus) {
	if len(files) == 0 {
		fmt.Fprintln(w, "No files found")
		return
	}
	for _, f := range files {
		state := "pending"
		if f.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "  [%s] %s\n", state, f.Name)
	}
}

// =============================================================================
// MIGRATE
// =============================================================================

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply, revert and inspect migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		applied, err := a.migrator.Up(cmd.Context())
		printApplied(cmd.OutOrStdout(), "applied", applied)
		return err
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migrations",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		steps, _ := cmd.Flags().GetInt("steps")
		reverted, err := a.migrator.Down(cmd.Context(), steps)
		printApplied(cmd.OutOrStdout(), "reverted", reverted)
		return err
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		files, err := a.migrator.Status(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), files)
		return nil
	}),
}

// =============================================================================
// SEED
// =============================================================================

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply and revert seeders",
}

var seedUpCmd = &cobra.Command{
	Use:   "up [name]",
	Short: "Apply pending seeders, or only the named one",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if len(args) == 1 {
			ran, err := a.seeds.Apply(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintf(cmd.OutOrStdout(), "Seeder %s already applied\n", args[0])
				return nil
			}
			printApplied(cmd.OutOrStdout(), "applied", []string{args[0]})
			return nil
		}
		applied, err := a.seeds.Up(cmd.Context())
		printApplied(cmd.OutOrStdout(), "applied", applied)
		return err
	}),
}

var seedDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent seeders",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		steps, _ := cmd.Flags().GetInt("steps")
		reverted, err := a.seeds.Down(cmd.Context(), steps)
		printApplied(cmd.OutOrStdout(), "reverted", reverted)
		return err
	}),
}

// =============================================================================
// MODULE
// =============================================================================

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage feature modules",
}

var moduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List modules in dependency order",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		mods, err := a.modules.Discover()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(mods) == 0 {
			fmt.Fprintln(w, "No modules found")
			return nil
		}
		for _, m := range mods {
			state := "disabled"
			if m.Enabled {
				state = "enabled"
			}
			deps := ""
			if len(m.Dependencies) > 0 {
				deps = " (requires " + strings.Join(m.Dependencies, ", ") + ")"
			}
			fmt.Fprintf(w, "  %-20s %-8s %s%s\n", m.Name, m.Version, state, deps)
		}
		return nil
	}),
}

var moduleInstallCmd = &cobra.Command{
	Use:   "install <name>",
	Short: "Enable a module with its dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		m, err := a.modules.Install(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if _, err := a.schema.Reload(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Module %s installed\n", m.Name)
		return nil
	}),
}

var moduleUninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "Disable a module",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		m, err := a.modules.Uninstall(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Module %s uninstalled\n", m.Name)
		return nil
	}),
}

// =============================================================================
// MODEL
// =============================================================================

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect models and generate their artifacts",
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		module, _ := cmd.Flags().GetString("module")
		for _, m := range a.tools.Models(module) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", m.Name, m.TableName)
		}
		return nil
	}),
}

var modelGenerateCmd = &cobra.Command{
	Use:   "generate <name>",
	Short: "Generate a migration (and optionally a seeder) for a model",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		var isNew *bool
		if cmd.Flags().Changed("create") {
			v, _ := cmd.Flags().GetBool("create")
			isNew = &v
		}
		res, err := a.tools.GenerateMigration(cmd.Context(), args[0], isNew)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)

		if n, _ := cmd.Flags().GetInt("seed"); n > 0 {
			res, err := a.tools.GenerateSeeder(args[0], nil, n, "", "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		}
		return nil
	}),
}

// =============================================================================
// USER / TOKEN
// =============================================================================

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		name, _ := cmd.Flags().GetString("name")
		roles, _ := cmd.Flags().GetStringSlice("role")
		if email == "" || password == "" {
			return fmt.Errorf("--email and --password are required")
		}
		u, err := auth.CreateUser(cmd.Context(), a.db, email, name, password, roles)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User created: %s (id %d, roles %s)\n",
			u.Email, u.ID, strings.Join(auth.RoleNames(u), ","))
		return nil
	}),
}

var tokenCmd = &cobra.Command{
	Use:   "token <email>",
	Short: "Issue an access token for an existing user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		var u models.User
		if err := a.db.WithContext(cmd.Context()).Preload("Roles").
			Where("email = ?", args[0]).First(&u).Error; err != nil {
			return fmt.Errorf("user %s: %w", args[0], err)
		}
		token, err := a.jwt.Generate(u.ID, u.Email, auth.RoleNames(&u))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", token.ExpiresAt.Format(time.RFC3339))
		return nil
	}),
}

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List the functions callable from chat and MCP",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		for _, d := range a.registry.List() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-28s %s\n", d.Name, d.Description)
		}
		return nil
	}),
}

func init() {
	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to revert")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)

	seedDownCmd.Flags().Int("steps", 1, "number of seeders to revert")
	seedCmd.AddCommand(seedUpCmd, seedDownCmd)

	moduleCmd.AddCommand(moduleListCmd, moduleInstallCmd, moduleUninstallCmd)

	modelListCmd.Flags().String("module", "", "only models of this module")
	modelGenerateCmd.Flags().Bool("create", false, "force CREATE TABLE (true) or ALTER TABLE (false)")
	modelGenerateCmd.Flags().Int("seed", 0, "also write a seeder with this many sample rows")
	modelCmd.AddCommand(modelListCmd, modelGenerateCmd)

	userCreateCmd.Flags().String("email", "", "login email")
	userCreateCmd.Flags().String("password", "", "initial password")
	userCreateCmd.Flags().String("name", "", "display name")
	userCreateCmd.Flags().StringSlice("role", []string{auth.AdminRole}, "roles to grant")
	userCmd.AddCommand(userCreateCmd)
}
