package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-fmodel/cli/config"
	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
	"github.com/AshkanYarmoradi/go-fmodel/cli/ui"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		name       string
		driver     string
		path       string
		url        string
		serializer string
		force      bool

		nonInteractive bool
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a fmodel.yaml configuration file",
		Long: `Write a fmodel.yaml configuration file.

On a terminal, init asks for the settings that were not given as flags.

Examples:
  fmodel init                          # Ask for every setting
  fmodel init --non-interactive        # bolt store in ./fmodel.db
  fmodel init --driver sqlite          # sqlite store in ./fmodel.db
  fmodel init --driver postgres --url postgres://localhost/events`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			if config.Exists(absDir) && !force {
				fmt.Fprintln(out, styles.FormatWarning("fmodel.yaml already exists in this directory (use --force to overwrite)"))
				return nil
			}

			cfg := config.DefaultConfig()
			if name != "" {
				cfg.Project.Name = name
			} else {
				cfg.Project.Name = filepath.Base(absDir)
			}
			if driver != "" {
				cfg.Store.Driver = driver
			}
			if path != "" {
				cfg.Store.Path = path
			}
			if url != "" {
				cfg.Store.URL = url
			}
			if serializer != "" {
				cfg.Serializer = serializer
			}

			if !nonInteractive && ui.IsTerminal(out) {
				fmt.Fprintln(out, ui.Banner())
				fmt.Fprintln(out)
				form := initForm(cfg).WithInput(cmd.InOrStdin()).WithOutput(out)
				if err := form.RunWithContext(cmd.Context()); err != nil {
					return err
				}
			}

			if problems := cfg.Validate(); len(problems) > 0 {
				return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
			}

			if err := os.MkdirAll(absDir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", absDir, err)
			}

			configPath := filepath.Join(absDir, config.ConfigFileName)
			if err := os.WriteFile(configPath, []byte(config.GenerateYAML(cfg)), 0o644); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}

			fmt.Fprintln(out, styles.FormatSuccess("Created "+configPath))
			fmt.Fprintln(out, styles.InfoBox.Render(nextSteps(cfg)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Project name (default: directory name)")
	cmd.Flags().StringVarP(&driver, "driver", "d", "", "Store driver (memory, bolt, sqlite, postgres)")
	cmd.Flags().StringVar(&path, "path", "", "Database file for bolt and sqlite")
	cmd.Flags().StringVar(&url, "url", "", "Postgres connection URL")
	cmd.Flags().StringVar(&serializer, "serializer", "", "Event payload format (json, msgpack)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing fmodel.yaml")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Take every setting from flags and defaults")

	return cmd
}

// initForm asks for the settings of cfg, prefilled with its current values.
func initForm(cfg *config.Config) *huh.Form {
	required := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New(field + " is required")
			}
			return nil
		}
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project Name").
				Description("Service name of metrics and traces").
				Value(&cfg.Project.Name).
				Validate(required("project name")),

			huh.NewSelect[string]().
				Title("Store Driver").
				Description("Where events, views and checkpoints are kept").
				Options(
					huh.NewOption("Bolt (single file, recommended for local use)", config.DriverBolt),
					huh.NewOption("SQLite (single file)", config.DriverSQLite),
					huh.NewOption("PostgreSQL (recommended for production)", config.DriverPostgres),
					huh.NewOption("In-Memory (for testing only)", config.DriverMemory),
				).
				Value(&cfg.Store.Driver),
		).Title("Project Configuration"),

		huh.NewGroup(
			huh.NewInput().
				Title("Database File").
				Description("Relative paths resolve against fmodel.yaml").
				Value(&cfg.Store.Path).
				Validate(required("database file")),
		).Title("Store").WithHideFunc(func() bool { return !needsPath(cfg.Store.Driver) }),

		huh.NewGroup(
			huh.NewInput().
				Title("Connection URL").
				Placeholder("postgres://localhost:5432/events?sslmode=disable").
				Value(&cfg.Store.URL).
				Validate(required("connection URL")),
			huh.NewInput().
				Title("Schema").
				Value(&cfg.Store.Schema),
		).Title("Store").WithHideFunc(func() bool { return cfg.Store.Driver != config.DriverPostgres }),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Serializer").
				Description("Payload format of stored events and views").
				Options(
					huh.NewOption("JSON", "json"),
					huh.NewOption("MessagePack", "msgpack"),
				).
				Value(&cfg.Serializer),
		).Title("Encoding"),
	).WithTheme(huh.ThemeDracula())
}

func needsPath(driver string) bool {
	return driver == config.DriverBolt || driver == config.DriverSQLite
}

func nextSteps(cfg *config.Config) string {
	var steps []string

	if cfg.Store.Driver == config.DriverPostgres {
		steps = append(steps, "Create the schema: "+styles.Code.Render("fmodel migrate"))
	}

	steps = append(steps,
		"Try the sample scenario: "+styles.Code.Render("fmodel demo"),
		"Handle your own commands: "+styles.Code.Render("fmodel handle commands.json --project"),
		"Inspect a view: "+styles.Code.Render("fmodel view <restaurant-id>"),
	)

	return styles.Bold.Render("Next Steps:") + "\n\n" + strings.TrimSuffix(ui.NumberedList(steps), "\n")
}
