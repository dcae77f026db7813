// Package main implements the lf-migrate command. It moves a Glue Data
// Catalog from Lake Formation permissions to IAM access control.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	lfaws "github.com/gurre/lf-iam-migrate/aws"
	"github.com/gurre/lf-iam-migrate/audit"
	"github.com/gurre/lf-iam-migrate/config"
	"github.com/gurre/lf-iam-migrate/identity"
	"github.com/gurre/lf-iam-migrate/logs"
	"github.com/gurre/lf-iam-migrate/migrator"
	"github.com/gurre/lf-iam-migrate/report"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	if err := newRootCommand(newAWSClients).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// clients are the AWS APIs a run talks to.
type clients struct {
	lakeFormation lfaws.LakeFormationClient
	glue          lfaws.GlueClient
	sts           lfaws.STSClient
	iam           lfaws.IAMClient
	s3            lfaws.S3Client
	dynamoDB      lfaws.DynamoDBClient
}

type clientFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*clients, error)

func newAWSClients(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*clients, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Verbose {
		opts = append(opts,
			awsconfig.WithLogger(logs.SDKLogger(logger)),
			awsconfig.WithClientLogMode(aws.LogRetries),
		)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &clients{
		lakeFormation: lakeformation.NewFromConfig(awsCfg),
		glue:          glue.NewFromConfig(awsCfg),
		sts:           sts.NewFromConfig(awsCfg),
		iam:           iam.NewFromConfig(awsCfg),
		s3:            s3.NewFromConfig(awsCfg),
		dynamoDB:      dynamodb.NewFromConfig(awsCfg),
	}, nil
}

func newRootCommand(newClients clientFactory) *cobra.Command {
	cfg := &config.Config{}
	fl := &flags{}

	cmd := &cobra.Command{
		Use:   "lf-migrate",
		Short: "Migrate a Glue Data Catalog from Lake Formation permissions to IAM access control",
		Long: "Switches the account's data lake to IAM access control: new databases and tables default to " +
			"IAM_ALLOWED_PRINCIPALS, registered locations are deregistered, IAM_ALLOWED_PRINCIPALS is granted ALL " +
			"on every database and table, and every other Lake Formation permission is revoked.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(fl.envFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("region") {
				cfg.Region = settings.Region
			}
			if !cmd.Flags().Changed("report") {
				cfg.ReportURI = settings.ReportURI
			}
			if !cmd.Flags().Changed("audit-table") {
				cfg.AuditTable = settings.AuditTable
			}
			cfg.TargetDatabases = config.ParseDatabases(fl.databases)
			cfg.ApplyGlobalConfig = !fl.noGlobal

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd, cfg, newClients)
		},
	}

	fl.register(cmd.Flags(), cfg)
	return cmd
}

// flags are the command line values that do not map onto config.Config directly.
type flags struct {
	databases string
	noGlobal  bool
	envFile   string
}

func (fl *flags) register(f *pflag.FlagSet, cfg *config.Config) {
	f.StringVarP(&fl.databases, "databases", "d", "", "Comma-separated databases to migrate (default: all)")
	f.BoolVar(&cfg.SkipErrors, "skip-errors", false, "Continue past failed revokes")
	f.BoolVar(&cfg.DryRun, "dryrun", false, "Print the migration steps without calling AWS")
	f.BoolVar(&fl.noGlobal, "no-global", false, "Skip data lake settings, location deregistration and the catalog grant")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Debug logging")
	f.StringVar(&cfg.Region, "region", "", "AWS region (defaults to AWS_REGION env)")
	f.StringVar(&cfg.ReportURI, "report", "", "Write the JSON report to s3://bucket/key or file:///abs/path")
	f.StringVar(&cfg.AuditTable, "audit-table", "", "DynamoDB table (RunId, Seq) receiving every revoked grant")
	f.BoolVar(&cfg.Preflight, "preflight", false, "Check the caller's IAM policy before migrating")
	f.BoolVarP(&cfg.AssumeYes, "yes", "y", false, "Do not ask for confirmation")
	f.StringVar(&fl.envFile, "env-file", ".env", "Optional dotenv file with default settings")
}

func options(cfg *config.Config) migrator.Options {
	return migrator.Options{
		TargetDatabases:   cfg.TargetDatabases,
		SkipErrors:        cfg.SkipErrors,
		ApplyGlobalConfig: cfg.ApplyGlobalConfig,
	}
}

// confirm reads one answer from in; only y or yes proceeds.
func confirm(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "This will revoke Lake Formation permissions. Proceed? (y/N): ")
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

func run(cmd *cobra.Command, cfg *config.Config, newClients clientFactory) error {
	out := cmd.OutOrStdout()
	opts := options(cfg)

	if cfg.DryRun {
		fmt.Fprintln(out, "DRY RUN - would perform the following steps:")
		for _, line := range migrator.Plan(opts) {
			fmt.Fprintln(out, line)
		}
		return nil
	}

	if !cfg.AssumeYes {
		ok, err := confirm(cmd.InOrStdin(), out)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Migration cancelled")
			return nil
		}
	}

	logger := logs.New(out, cfg.Verbose)
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	c, err := newClients(ctx, cfg, logger)
	if err != nil {
		return err
	}

	caller, err := identity.Resolve(ctx, c.sts)
	if err != nil {
		return err
	}
	logger.Info("resolved caller", "account", caller.AccountID, "arn", caller.ARN)

	if cfg.Preflight {
		if err := identity.Preflight(ctx, c.iam, caller, cfg.ApplyGlobalConfig); err != nil {
			return fmt.Errorf("preflight failed: %w", err)
		}
		logger.Info("preflight passed")
	}

	var sink report.Sink
	switch cfg.ReportScheme() {
	case "s3":
		sink = report.NewS3Sink(c.s3, cfg.ReportBucket(), cfg.ReportKey())
	case "file":
		if sink, err = report.NewFileSink(cfg.ReportKey()); err != nil {
			return err
		}
	}

	var ledger audit.Ledger
	if cfg.AuditTable != "" {
		ledger = audit.NewDynamoDBLedger(c.dynamoDB, cfg.AuditTable, audit.MaxBatchSize)
	}

	m := migrator.NewMigrator(c.lakeFormation, c.glue, caller.AccountID, ledger, logger)
	rep, runErr := m.Migrate(ctx, opts)
	fmt.Fprint(out, rep.String())

	if sink != nil {
		// the report is written even for a failed run
		if err := sink.Write(context.WithoutCancel(ctx), rep); err != nil {
			logger.Error("failed to write report", "uri", cfg.ReportURI, "err", err)
			runErr = errors.Join(runErr, err)
		} else {
			logger.Info("report written", "uri", cfg.ReportURI)
		}
	}

	if runErr != nil {
		return fmt.Errorf("migration failed: %w", runErr)
	}
	return nil
}
