package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medqr/medqr/internal/config"
	"github.com/medqr/medqr/internal/domain/identity"
	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/db"
	"github.com/medqr/medqr/internal/platform/events"
	"github.com/medqr/medqr/internal/platform/logging"
	"github.com/medqr/medqr/internal/platform/sandbox"
	"github.com/medqr/medqr/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "medqr-server",
		Short:         "Medical records API with QR emergency lookup",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is what every command needs: validated config, the logger and a
// database pool.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	closer io.Closer
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closer := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Console:    cfg.IsDev(),
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &env{cfg: cfg, logger: logger, pool: pool, closer: closer}, nil
}

func (e *env) Close() {
	e.pool.Close()
	e.closer.Close()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()
			return runServer(env)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			count, err := db.NewMigrator(env.pool, migrations.FS).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			statuses, err := db.NewMigrator(env.pool, migrations.FS).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			first, _ := cmd.Flags().GetString("first-name")
			last, _ := cmd.Flags().GetString("last-name")
			password := os.Getenv("MEDQR_ADMIN_PASSWORD")
			if p, _ := cmd.Flags().GetString("password"); p != "" {
				password = p
			}
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password (or MEDQR_ADMIN_PASSWORD) are required")
			}

			env, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			d := newDomain(env.pool, cliDeps(env))
			u, err := d.users.CreateUser(cmd.Context(), access.System, identity.NewUser{
				Email:     email,
				Password:  password,
				Role:      access.RoleAdmin,
				FirstName: first,
				LastName:  last,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created admin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password (prefer MEDQR_ADMIN_PASSWORD)")
	createCmd.Flags().String("first-name", "", "First name")
	createCmd.Flags().String("last-name", "", "Last name")

	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load hospitals, users and patients from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			file, err := sandbox.LoadFile(path)
			if err != nil {
				return err
			}

			env, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			d := newDomain(env.pool, cliDeps(env))
			seeder := sandbox.NewSeeder(d.hospitals, d.users, d.patients, env.logger)

			// One transaction: a file that fails halfway leaves nothing behind.
			var res *sandbox.Result
			err = db.InTx(cmd.Context(), env.pool, func(ctx context.Context) error {
				var err error
				res, err = seeder.Seed(ctx, file)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("hospitals: %d created, %d existing\n", res.HospitalsCreated, res.HospitalsFound)
			fmt.Printf("users:     %d created, %d existing\n", res.UsersCreated, res.UsersFound)
			fmt.Printf("patients:  %d created, %d existing\n", res.PatientsCreated, res.PatientsFound)
			return nil
		},
	}
	cmd.Flags().String("file", "seed.yaml", "Seed file")
	return cmd
}

// cliDeps wires the domain for one-shot commands: no metrics, and events
// only go to the log.
func cliDeps(env *env) deps {
	return deps{
		authz:  access.NewAuthorizer(),
		events: events.NewLogPublisher(env.logger),
		logger: env.logger,
		tokens: tokenIssuer(env.cfg),
	}
}
