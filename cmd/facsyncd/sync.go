package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/campusops/facsync/config"
	"github.com/campusops/facsync/internal/courses"
	"github.com/campusops/facsync/internal/directory"
	"github.com/campusops/facsync/internal/identity"
	"github.com/campusops/facsync/internal/pipeline"
	"github.com/campusops/facsync/internal/store"
)

// syncCMD runs one pipeline stage from the command line, without the HTTP
// server. Useful for cron jobs and one-off backfills.
func syncCMD() *cobra.Command {
	var cfgPath string
	var sync = &cobra.Command{
		Use:       "sync [faculty|courses|reconcile|all]",
		Short:     "Run a pipeline stage once and exit",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"faculty", "courses", "reconcile", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			resolver := identity.NewResolver(cfg.Identity.Domain, cfg.Identity.TitleTokens)
			dir, err := directory.New(cfg.Sources.Faculty, resolver)
			if err != nil {
				return err
			}
			svc := pipeline.New(cfg, st, dir, courses.NewClient(cfg.Sources.Courses, resolver))

			switch args[0] {
			case "faculty":
				n, err := svc.SyncFaculty(ctx)
				if err != nil {
					return err
				}
				log.Printf("updated %d teacher records", n)
			case "courses":
				res, err := svc.SyncCourses(ctx)
				if err != nil {
					return err
				}
				log.Printf("wrote %d sessions and %d catalog courses in %d batches", res.Sessions, res.Courses, res.Batches)
			case "reconcile":
				res, err := svc.Reconcile(ctx)
				if err != nil {
					return err
				}
				log.Printf("reconciled %d teachers with %d assignments", res.Teachers, res.Assignments)
			case "all":
				res, err := svc.RunAll(ctx)
				if err != nil {
					return err
				}
				log.Printf("full run: %d teachers, %d sessions, %d assignments", res.Faculty, res.Courses.Sessions, res.Reconcile.Assignments)
			default:
				return fmt.Errorf("unknown stage: %s", args[0])
			}
			return nil
		},
	}
	sync.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return sync
}
