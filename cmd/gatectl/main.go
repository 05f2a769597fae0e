// gatectl drives the release pipeline: it triggers runs for revisions
// and inspects their stage-by-stage outcomes.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/go-git/go-git/v5"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"oras.land/oras-go/v2/registry/remote"

	"github.com/gateline/gateline/internal/application"
	"github.com/gateline/gateline/internal/domain"
	"github.com/gateline/gateline/internal/infrastructure/cluster"
	"github.com/gateline/gateline/internal/infrastructure/dbosworkflows"
	"github.com/gateline/gateline/internal/infrastructure/gitops"
	"github.com/gateline/gateline/internal/infrastructure/goworkflows"
	"github.com/gateline/gateline/internal/infrastructure/registry"
	"github.com/gateline/gateline/internal/infrastructure/slack"
	"github.com/gateline/gateline/internal/infrastructure/sonar"
	"github.com/gateline/gateline/internal/infrastructure/sqlite"
	"github.com/gateline/gateline/internal/infrastructure/syncworkflow"
)

func main() {
	app := cli.NewApp()
	app.Name = "gatectl"
	app.Usage = "quality-gated release pipeline"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "db",
			Usage:  "path to the pipeline database",
			Value:  "gateline.db",
			EnvVar: "GATELINE_DB",
		},
		cli.StringFlag{
			Name:   "log-level",
			Usage:  "logrus level (debug, info, warn, error)",
			Value:  "info",
			EnvVar: "GATELINE_LOG_LEVEL",
		},
	}
	app.Commands = []cli.Command{
		triggerCommand(),
		listCommand(),
		getCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newLogger(c *cli.Context) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(c.GlobalString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func triggerCommand() cli.Command {
	return cli.Command{
		Name:  "trigger",
		Usage: "Run the pipeline for a revision",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "source", Usage: "source repository identifier", Required: true},
			cli.StringFlag{Name: "environment, e", Usage: "target environment", Required: true},
			cli.StringFlag{Name: "commit", Usage: "commit ID of the revision", Required: true},
			cli.StringFlag{Name: "branch", Usage: "branch of the revision", Value: "main"},
			cli.StringFlag{Name: "author", Usage: "author of the revision"},
			cli.StringFlag{
				Name:   "engine",
				Usage:  "workflow engine: sync, durable or dbos",
				Value:  "sync",
				EnvVar: "GATELINE_ENGINE",
			},
			cli.StringFlag{
				Name:   "workflow-db",
				Usage:  "durable engine state database (engine=durable)",
				Value:  "gateline-workflows.db",
				EnvVar: "GATELINE_WORKFLOW_DB",
			},
			cli.StringFlag{
				Name:   "dbos-url",
				Usage:  "postgres URL for the DBOS engine (engine=dbos)",
				EnvVar: "DBOS_DATABASE_URL",
			},
			cli.StringFlag{Name: "sonar-url", Usage: "analysis backend base URL", Required: true, EnvVar: "GATELINE_SONAR_URL"},
			cli.StringFlag{Name: "sonar-token", Usage: "analysis backend token", EnvVar: "GATELINE_SONAR_TOKEN"},
			cli.StringFlag{Name: "registry-repo", Usage: "artifact repository, e.g. registry.example.com/app", Required: true, EnvVar: "GATELINE_REGISTRY_REPO"},
			cli.BoolFlag{Name: "registry-plain-http", Usage: "use plain HTTP for the registry"},
			cli.StringFlag{Name: "gitops-dir", Usage: "checked-out desired-state repository", Required: true, EnvVar: "GATELINE_GITOPS_DIR"},
			cli.BoolFlag{Name: "gitops-push", Usage: "push desired-state commits to the default remote"},
			cli.StringFlag{Name: "cluster-url", Usage: "environment status endpoint base URL", Required: true, EnvVar: "GATELINE_CLUSTER_URL"},
			cli.StringFlag{Name: "slack-webhook", Usage: "notification webhook URL", EnvVar: "GATELINE_SLACK_WEBHOOK"},
			cli.Float64Flag{Name: "min-coverage", Usage: "quality gate minimum coverage", Value: 80},
			cli.IntFlag{Name: "max-new-bugs", Usage: "quality gate maximum new bugs"},
			cli.IntFlag{Name: "max-hotspots", Usage: "quality gate maximum security hotspots", Value: 0},
			cli.DurationFlag{Name: "verify-timeout", Usage: "sync verification timeout", Value: 5 * time.Minute},
		},
		Action: runTrigger,
	}
}

func runTrigger(c *cli.Context) error {
	log := newLogger(c)
	ctx := context.Background()

	db, err := sqlite.Open(c.GlobalString("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	runRepo := &sqlite.RunRepo{DB: db}
	store := &sqlite.StateStore{DB: db}

	gitRepo, err := git.PlainOpen(c.String("gitops-dir"))
	if err != nil {
		return fmt.Errorf("open desired-state repository %s: %w", c.String("gitops-dir"), err)
	}
	updater, err := gitops.NewUpdater(gitops.Options{
		Repo:  gitRepo,
		State: store,
		Push:  c.Bool("gitops-push"),
	})
	if err != nil {
		return err
	}

	builder := registry.NewBuilder(c.String("registry-repo"))
	target, err := remote.NewRepository(c.String("registry-repo"))
	if err != nil {
		return fmt.Errorf("configure registry %s: %w", c.String("registry-repo"), err)
	}
	target.PlainHTTP = c.Bool("registry-plain-http")

	var notifier domain.Notifier = &logNotifier{log: log}
	if webhook := c.String("slack-webhook"); webhook != "" {
		notifier = &slack.Notifier{WebhookURL: webhook, Log: log}
	}

	wf := &domain.PipelineWorkflow{
		Runs:      runRepo,
		Gate:      &sonar.Client{BaseURL: c.String("sonar-url"), Token: c.String("sonar-token")},
		Builder:   builder,
		Publisher: &registry.Publisher{Source: builder.Store(), Target: target},
		Updater:   updater,
		Verifier:  &cluster.Verifier{BaseURL: c.String("cluster-url")},
		Notifier:  notifier,
		Rulesets: domain.StaticRulesets{
			Default: domain.GateRuleset{
				MinCoverage:         c.Float64("min-coverage"),
				MaxNewBugs:          c.Int("max-new-bugs"),
				MaxSecurityHotspots: c.Int("max-hotspots"),
			},
		},
		Timeouts: domain.StageTimeouts{Verify: c.Duration("verify-timeout")},
	}

	runner, shutdown, err := newRunner(ctx, c, wf)
	if err != nil {
		return err
	}
	defer shutdown()

	trigger := &application.TriggerService{Runs: runRepo, Pipeline: runner, Log: log}

	run, err := trigger.Trigger(ctx, domain.Source(c.String("source")), domain.Environment(c.String("environment")), domain.Revision{
		CommitID:  c.String("commit"),
		Branch:    c.String("branch"),
		Author:    c.String("author"),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"run":    run.ID,
		"status": run.Status,
	}).Info("pipeline run finished")
	printRuns(os.Stdout, run)
	for _, sr := range run.Stages {
		fmt.Printf("  %-22s %-8s attempts=%d", sr.Stage, sr.Status, sr.Attempts)
		if sr.Error != "" {
			fmt.Printf("  %s", sr.Error)
		}
		fmt.Println()
	}
	if run.Status != domain.RunStatusSucceeded {
		return cli.NewExitError("", 1)
	}
	return nil
}

// newRunner builds the selected workflow engine and returns a shutdown
// hook releasing its resources.
func newRunner(ctx context.Context, c *cli.Context, wf *domain.PipelineWorkflow) (domain.PipelineRunner, func(), error) {
	switch engine := c.String("engine"); engine {
	case "sync":
		runner, err := (&syncworkflow.Engine{}).PipelineRunner(wf)
		return runner, func() {}, err

	case "durable":
		b := wfsqlite.NewSqliteBackend(c.String("workflow-db"))
		w := worker.New(b, nil)
		workerCtx, cancel := context.WithCancel(ctx)
		e := &goworkflows.Engine{Worker: w, Client: client.New(b), Timeout: time.Hour}
		runner, err := e.PipelineRunner(wf)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		if err := w.Start(workerCtx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("start workflow worker: %w", err)
		}
		return runner, func() {
			cancel()
			_ = w.WaitForCompletion()
		}, nil

	case "dbos":
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "gateline",
			DatabaseURL: c.String("dbos-url"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize DBOS: %w", err)
		}
		runner, err := (&dbosworkflows.Engine{DBOSCtx: dbosCtx}).PipelineRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, nil, fmt.Errorf("launch DBOS: %w", err)
		}
		return runner, func() { dbos.Shutdown(dbosCtx, 5*time.Second) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine %q", engine)
	}
}

func listCommand() cli.Command {
	return cli.Command{
		Name:  "list",
		Usage: "List pipeline runs",
		Action: func(c *cli.Context) error {
			db, err := sqlite.Open(c.GlobalString("db"))
			if err != nil {
				return err
			}
			defer db.Close()

			svc := &application.RunService{Runs: &sqlite.RunRepo{DB: db}}
			runs, err := svc.List(context.Background())
			if err != nil {
				return err
			}
			printRuns(os.Stdout, runs...)
			return nil
		},
	}
}

func getCommand() cli.Command {
	return cli.Command{
		Name:      "get",
		Usage:     "Show one run with its stage results",
		ArgsUsage: "RUN_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.NewExitError("exactly one run ID is required", 1)
			}
			db, err := sqlite.Open(c.GlobalString("db"))
			if err != nil {
				return err
			}
			defer db.Close()

			svc := &application.RunService{Runs: &sqlite.RunRepo{DB: db}}
			run, err := svc.Get(context.Background(), domain.RunID(c.Args().First()))
			if err != nil {
				return err
			}
			printRuns(os.Stdout, run)
			for _, sr := range run.Stages {
				fmt.Printf("  %-22s %-8s attempts=%d", sr.Stage, sr.Status, sr.Attempts)
				if sr.Error != "" {
					fmt.Printf("  %s", sr.Error)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func printRuns(out *os.File, runs ...domain.PipelineRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSOURCE\tENV\tCOMMIT\tSTAGE\tSTATUS\tCREATED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Source, run.Environment, run.Revision.CommitID,
			run.Stage, run.Status, run.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()
}

// logNotifier stands in when no webhook is configured.
type logNotifier struct {
	log *logrus.Logger
}

func (n *logNotifier) Notify(_ context.Context, event domain.NotificationEvent) error {
	n.log.WithFields(logrus.Fields{
		"run":      event.RunID,
		"stage":    event.Stage,
		"status":   event.Status,
		"severity": event.Severity,
	}).Info(event.Summary)
	return nil
}
