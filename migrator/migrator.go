// Package migrator converts a Glue Data Catalog from fine-grained Lake
// Formation permissions to IAM access control.
//
// A run executes four phases strictly in order, one call at a time:
//
//  1. data lake settings: new databases and tables default to IAM_ALLOWED_PRINCIPALS
//  2. every registered data lake location is deregistered
//  3. IAM_ALLOWED_PRINCIPALS is granted CREATE_DATABASE on the catalog and ALL
//     on every targeted database and table
//  4. every other principal's permission on a targeted resource is revoked
//
// Phases 1, 2 and the catalog grant form the global configuration and are
// skipped when Options.ApplyGlobalConfig is false.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	lfaws "github.com/gurre/lf-iam-migrate/aws"
	"github.com/gurre/lf-iam-migrate/audit"
	"github.com/gurre/lf-iam-migrate/pager"
	"github.com/gurre/lf-iam-migrate/report"
)

// Phase names a step of the migration.
type Phase string

const (
	PhaseSettings     Phase = "data-lake-settings"
	PhaseLocations    Phase = "deregister-locations"
	PhaseCatalogGrant Phase = "catalog-grant"
	PhaseGrants       Phase = "database-table-grants"
	PhaseRevoke       Phase = "revoke"
)

// PhaseError reports the phase that aborted a run.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Options control a run.
type Options struct {
	RunID             string   // defaults to a random UUID
	TargetDatabases   []string // empty means every database
	SkipErrors        bool     // continue past failed revokes
	ApplyGlobalConfig bool
}

// Migrator runs the migration against one account's catalog.
type Migrator struct {
	lf        lfaws.LakeFormationClient
	glue      lfaws.GlueClient
	accountID string
	ledger    audit.Ledger // optional
	logger    *slog.Logger
}

// NewMigrator creates a Migrator. accountID is the caller's account; only
// resources in that account's catalog are touched. ledger may be nil.
func NewMigrator(lf lfaws.LakeFormationClient, glue lfaws.GlueClient, accountID string, ledger audit.Ledger, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		lf:        lf,
		glue:      glue,
		accountID: accountID,
		ledger:    ledger,
		logger:    logger,
	}
}

// run holds the state of one Migrate call.
type run struct {
	*Migrator
	opts    Options
	targets map[string]struct{}
	metrics *report.Metrics
	seq     int64
}

// Migrate executes the phases in order. The returned report is always
// populated; when err is non-nil it describes how far the run got.
func (m *Migrator) Migrate(ctx context.Context, opts Options) (report.Report, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	r := &run{
		Migrator: m,
		opts:     opts,
		metrics:  report.NewMetrics(),
	}
	if len(opts.TargetDatabases) > 0 {
		r.targets = make(map[string]struct{}, len(opts.TargetDatabases))
		for _, db := range opts.TargetDatabases {
			r.targets[db] = struct{}{}
		}
	}

	m.logger.Info("starting Lake Formation migration to IAM access control",
		"run", opts.RunID, "account", m.accountID, "databases", opts.TargetDatabases)

	err := r.execute(ctx)

	if m.ledger != nil {
		// revokes already issued must reach the ledger after an interrupt
		if ferr := m.ledger.Flush(context.WithoutCancel(ctx)); ferr != nil {
			m.logger.Error("failed to flush revocation ledger", "err", ferr)
			err = errors.Join(err, fmt.Errorf("flush revocation ledger: %w", ferr))
		}
	}

	rep := r.metrics.GenerateReport(report.RunInfo{
		RunID:             opts.RunID,
		AccountID:         m.accountID,
		TargetDatabases:   opts.TargetDatabases,
		SkipErrors:        opts.SkipErrors,
		ApplyGlobalConfig: opts.ApplyGlobalConfig,
	}, err)

	if err != nil {
		m.logger.Error("migration failed", "err", err)
		return rep, err
	}
	m.logger.Info("Lake Formation migration completed", "outcome", rep.Outcome)
	return rep, nil
}

func (r *run) execute(ctx context.Context) error {
	type step struct {
		phase Phase
		fn    func(context.Context) error
	}
	var steps []step
	if r.opts.ApplyGlobalConfig {
		steps = append(steps,
			step{PhaseSettings, r.updateDataLakeSettings},
			step{PhaseLocations, r.deregisterLocations},
			step{PhaseCatalogGrant, r.grantCatalog},
		)
	} else {
		r.logger.Info("skipping global configuration updates")
	}
	steps = append(steps,
		step{PhaseGrants, r.grantDatabasesAndTables},
		step{PhaseRevoke, r.revokeAll},
	)

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			var pe *PhaseError
			if errors.As(err, &pe) {
				return err
			}
			return &PhaseError{Phase: s.phase, Err: err}
		}
		r.metrics.RecordPhase(string(s.phase))
	}
	return nil
}

func iamPrincipal() *types.DataLakePrincipal {
	return &types.DataLakePrincipal{DataLakePrincipalIdentifier: aws.String(IAMAllowedPrincipals)}
}

func iamAllPermissions() []types.PrincipalPermissions {
	return []types.PrincipalPermissions{{
		Principal:   iamPrincipal(),
		Permissions: []types.Permission{types.PermissionAll},
	}}
}

// updateDataLakeSettings overwrites both default permission lists; any other
// default principal is dropped.
func (r *run) updateDataLakeSettings(ctx context.Context) error {
	r.logger.Info("modifying data lake settings to use IAM controls only")

	out, err := r.lf.GetDataLakeSettings(ctx, &lakeformation.GetDataLakeSettingsInput{})
	if err != nil {
		return fmt.Errorf("get data lake settings: %w", err)
	}
	settings := out.DataLakeSettings
	if settings == nil {
		settings = &types.DataLakeSettings{}
	}
	settings.CreateDatabaseDefaultPermissions = iamAllPermissions()
	settings.CreateTableDefaultPermissions = iamAllPermissions()

	if _, err := r.lf.PutDataLakeSettings(ctx, &lakeformation.PutDataLakeSettingsInput{
		DataLakeSettings: settings,
	}); err != nil {
		return fmt.Errorf("put data lake settings: %w", err)
	}
	r.logger.Info("data lake settings updated")
	return nil
}

func (r *run) resources(ctx context.Context) ([]types.ResourceInfo, error) {
	return pager.Collect(pager.Seq(ctx, func(ctx context.Context, token *string) ([]types.ResourceInfo, *string, error) {
		out, err := r.lf.ListResources(ctx, &lakeformation.ListResourcesInput{NextToken: token})
		if err != nil {
			return nil, nil, err
		}
		return out.ResourceInfoList, out.NextToken, nil
	}))
}

// deregisterLocations lists every registered location before deregistering
// any, so the listing is not disturbed by its own side effects.
func (r *run) deregisterLocations(ctx context.Context) error {
	r.logger.Info("de-registering all data lake locations")

	locations, err := r.resources(ctx)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	for _, loc := range locations {
		resourceARN := aws.ToString(loc.ResourceArn)
		r.logger.Info("de-registering location", "arn", resourceARN)
		if _, err := r.lf.DeregisterResource(ctx, &lakeformation.DeregisterResourceInput{
			ResourceArn: loc.ResourceArn,
		}); err != nil {
			r.logCallError("DeregisterResource", resourceARN, "", err)
			r.metrics.RecordFailure("DeregisterResource", resourceARN, "", err)
			return fmt.Errorf("deregister %s: %w", resourceARN, err)
		}
		r.metrics.RecordDeregistered()
	}
	r.logger.Info("all data lake locations de-registered", "count", len(locations))
	return nil
}

func (r *run) grant(ctx context.Context, res Resource, perms ...types.Permission) error {
	_, err := r.lf.GrantPermissions(ctx, &lakeformation.GrantPermissionsInput{
		Principal:                  iamPrincipal(),
		Resource:                   ToSDK(res),
		Permissions:                perms,
		PermissionsWithGrantOption: []types.Permission{},
	})
	return err
}

// grantCatalog is fatal on failure: without CREATE_DATABASE for IAM
// principals the rest of the migration is meaningless.
func (r *run) grantCatalog(ctx context.Context) error {
	r.logger.Info("granting CREATE_DATABASE to IAM_ALLOWED_PRINCIPALS on the catalog")
	if err := r.grant(ctx, CatalogResource{}, types.PermissionCreateDatabase); err != nil {
		r.logCallError("GrantPermissions", "catalog", IAMAllowedPrincipals, err)
		r.metrics.RecordFailure("GrantPermissions", "catalog", IAMAllowedPrincipals, err)
		return fmt.Errorf("grant catalog permissions: %w", err)
	}
	r.logger.Info("catalog permissions granted")
	return nil
}

func (r *run) targeted(database string) bool {
	if r.targets == nil {
		return true
	}
	_, ok := r.targets[database]
	return ok
}

func (r *run) databases(ctx context.Context) iter.Seq2[Database, error] {
	seq := pager.Seq(ctx, func(ctx context.Context, token *string) ([]gluetypes.Database, *string, error) {
		out, err := r.glue.GetDatabases(ctx, &glue.GetDatabasesInput{NextToken: token})
		if err != nil {
			return nil, nil, err
		}
		return out.DatabaseList, out.NextToken, nil
	})
	return func(yield func(Database, error) bool) {
		for db, err := range seq {
			if !yield(Database{
				CatalogID:      aws.ToString(db.CatalogId),
				Name:           aws.ToString(db.Name),
				Description:    aws.ToString(db.Description),
				Parameters:     db.Parameters,
				LocationURI:    aws.ToString(db.LocationUri),
				IsResourceLink: db.TargetDatabase != nil,
			}, err) {
				return
			}
		}
	}
}

func (r *run) tables(ctx context.Context, database string) iter.Seq2[Table, error] {
	seq := pager.Seq(ctx, func(ctx context.Context, token *string) ([]gluetypes.Table, *string, error) {
		out, err := r.glue.GetTables(ctx, &glue.GetTablesInput{
			DatabaseName: aws.String(database),
			NextToken:    token,
		})
		if err != nil {
			return nil, nil, err
		}
		return out.TableList, out.NextToken, nil
	})
	return func(yield func(Table, error) bool) {
		for t, err := range seq {
			if !yield(Table{
				DatabaseName:   database,
				Name:           aws.ToString(t.Name),
				IsResourceLink: t.TargetTable != nil,
			}, err) {
				return
			}
		}
	}
}

// grantDatabasesAndTables grants ALL on every targeted database and table.
// Per-item failures are logged and recorded, never fatal; only a failed
// database listing aborts the phase.
func (r *run) grantDatabasesAndTables(ctx context.Context) error {
	r.logger.Info("granting ALL to IAM_ALLOWED_PRINCIPALS on databases and tables")

	for db, err := range r.databases(ctx) {
		if err != nil {
			return fmt.Errorf("list databases: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case db.IsResourceLink:
			r.logger.Debug("skipping resource link", "database", db.Name)
			r.metrics.RecordSkip(report.SkipResourceLink)
			continue
		case db.CatalogID != "" && db.CatalogID != r.accountID:
			r.logger.Debug("skipping database in another catalog", "database", db.Name, "catalog", db.CatalogID)
			r.metrics.RecordSkip(report.SkipCrossAccount)
			continue
		case !r.targeted(db.Name):
			r.logger.Debug("skipping database not in targets", "database", db.Name)
			r.metrics.RecordSkip(report.SkipUntargeted)
			continue
		}

		if err := r.grantDatabase(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

// grantDatabase only returns an error when ctx is done.
func (r *run) grantDatabase(ctx context.Context, db Database) error {
	r.logger.Info("granting permissions on database", "database", db.Name)
	res := DatabaseResource{Name: db.Name}
	if err := r.grant(ctx, res, types.PermissionAll); err != nil {
		r.logCallError("GrantPermissions", "Database "+db.Name, IAMAllowedPrincipals, err)
		r.metrics.RecordFailure("GrantPermissions", "Database "+db.Name, IAMAllowedPrincipals, err)
	} else {
		r.metrics.RecordDatabaseGranted()
	}

	if err := r.updateDatabaseDefaults(ctx, db); err != nil {
		r.logCallError("UpdateDatabase", "Database "+db.Name, "", err)
		r.metrics.RecordFailure("UpdateDatabase", "Database "+db.Name, "", err)
	} else {
		r.metrics.RecordDefaultsUpdated()
	}

	for t, err := range r.tables(ctx, db.Name) {
		if err != nil {
			r.logCallError("GetTables", "Database "+db.Name, "", err)
			r.metrics.RecordFailure("GetTables", "Database "+db.Name, "", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.IsResourceLink {
			r.logger.Debug("skipping table resource link", "table", db.Name+"."+t.Name)
			r.metrics.RecordSkip(report.SkipResourceLink)
			continue
		}

		name := db.Name + "." + t.Name
		r.logger.Info("granting permissions on table", "table", name)
		if err := r.grant(ctx, TableResource{DatabaseName: db.Name, Name: t.Name}, types.PermissionAll); err != nil {
			r.logCallError("GrantPermissions", "Table "+name, IAMAllowedPrincipals, err)
			r.metrics.RecordFailure("GrantPermissions", "Table "+name, IAMAllowedPrincipals, err)
			continue
		}
		r.metrics.RecordTableGranted()
	}
	return nil
}

// updateDatabaseDefaults rewrites the database so new tables default to
// IAM_ALLOWED_PRINCIPALS, keeping its description, parameters and location.
func (r *run) updateDatabaseDefaults(ctx context.Context, db Database) error {
	r.logger.Info("updating default permissions for database", "database", db.Name)

	params := db.Parameters
	if params == nil {
		params = map[string]string{}
	}
	input := &gluetypes.DatabaseInput{
		Name:        aws.String(db.Name),
		Description: aws.String(db.Description),
		Parameters:  params,
		CreateTableDefaultPermissions: []gluetypes.PrincipalPermissions{{
			Principal:   &gluetypes.DataLakePrincipal{DataLakePrincipalIdentifier: aws.String(IAMAllowedPrincipals)},
			Permissions: []gluetypes.Permission{gluetypes.PermissionAll},
		}},
	}
	if db.LocationURI != "" {
		input.LocationUri = aws.String(db.LocationURI)
	}

	_, err := r.glue.UpdateDatabase(ctx, &glue.UpdateDatabaseInput{
		Name:          aws.String(db.Name),
		DatabaseInput: input,
	})
	return err
}

func (r *run) permissions(ctx context.Context) ([]types.PrincipalResourcePermissions, error) {
	return pager.Collect(pager.Seq(ctx, func(ctx context.Context, token *string) ([]types.PrincipalResourcePermissions, *string, error) {
		out, err := r.lf.ListPermissions(ctx, &lakeformation.ListPermissionsInput{NextToken: token})
		if err != nil {
			return nil, nil, err
		}
		return out.PrincipalResourcePermissions, out.NextToken, nil
	}))
}

// revokeAll revokes every permission not held by IAM_ALLOWED_PRINCIPALS on
// in-scope resources. The listing is a snapshot taken before the first revoke.
func (r *run) revokeAll(ctx context.Context) error {
	r.logger.Info("revoking all permissions except IAM_ALLOWED_PRINCIPALS")

	listed, err := r.permissions(ctx)
	if err != nil {
		return fmt.Errorf("list permissions: %w", err)
	}

	for _, p := range listed {
		if err := ctx.Err(); err != nil {
			return err
		}
		g := grantFromSDK(p)
		if g.Principal == IAMAllowedPrincipals {
			r.metrics.RecordSkip(report.SkipIAMPrincipal)
			continue
		}

		kind, name, database := Describe(g.Resource)
		catalog := g.Resource.Catalog()
		if catalog == "" {
			catalog = r.accountID
		}
		if catalog != r.accountID {
			r.logger.Debug("skipping cross-account resource", "principal", g.Principal, "resource", name, "catalog", catalog)
			r.metrics.RecordSkip(report.SkipCrossAccount)
			continue
		}
		if r.targets != nil && !r.targeted(database) {
			if database == "" {
				// left in place by a targeted run; a full run revokes it
				r.logger.Info("skipping grant outside any database", "principal", g.Principal, "resource", kind+" "+name)
			} else {
				r.logger.Debug("skipping resource outside target databases", "principal", g.Principal, "resource", name)
			}
			r.metrics.RecordSkip(report.SkipUntargeted)
			continue
		}

		if err := r.revoke(ctx, p.Principal, g, kind, name); err != nil {
			var pe *PhaseError
			if !r.opts.SkipErrors || errors.As(err, &pe) {
				return err
			}
		}
	}
	return nil
}

// revoke issues one revoke. Errors are logged and recorded; ledger failures
// are returned as PhaseErrors so that SkipErrors never masks them.
func (r *run) revoke(ctx context.Context, principal *types.DataLakePrincipal, g PermissionGrant, kind, name string) error {
	target := ForRevoke(g.Resource)
	display := kind + " " + name
	r.logger.Info("revoking permissions", "principal", g.Principal, "resource", display, "permissions", g.Permissions)

	_, err := r.lf.RevokePermissions(ctx, &lakeformation.RevokePermissionsInput{
		Principal:                  principal,
		Resource:                   ToSDK(target),
		Permissions:                g.Permissions,
		PermissionsWithGrantOption: g.Grantable,
	})
	if err != nil {
		r.logCallError("RevokePermissions", display, g.Principal, err)
		r.metrics.RecordFailure("RevokePermissions", display, g.Principal, err)
		return fmt.Errorf("revoke %s from %s: %w", display, g.Principal, err)
	}
	r.metrics.RecordRevoked()

	if r.ledger == nil {
		return nil
	}
	doc, err := MarshalResource(target)
	if err != nil {
		return &PhaseError{Phase: PhaseRevoke, Err: fmt.Errorf("encode resource %s: %w", display, err)}
	}
	r.seq++
	rec := audit.Record{
		RunID:                r.opts.RunID,
		Seq:                  r.seq,
		Principal:            g.Principal,
		ResourceType:         kind,
		Resource:             string(doc),
		Permissions:          permissionStrings(g.Permissions),
		GrantablePermissions: permissionStrings(g.Grantable),
		RevokedAt:            time.Now().UTC(),
	}
	if err := r.ledger.Record(ctx, rec); err != nil {
		return &PhaseError{Phase: PhaseRevoke, Err: fmt.Errorf("record revocation of %s: %w", display, err)}
	}
	return nil
}

func permissionStrings(perms []types.Permission) []string {
	if len(perms) == 0 {
		return nil
	}
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// logCallError logs a failed AWS call with its error code, when the SDK
// returned an API error.
func (r *run) logCallError(op, resource, principal string, err error) {
	attrs := []any{"op", op, "resource", resource, "err", err}
	if principal != "" {
		attrs = append(attrs, "principal", principal)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		attrs = append(attrs, "code", apiErr.ErrorCode())
	}
	r.logger.Error("AWS call failed", attrs...)
}
