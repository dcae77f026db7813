package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation/types"
	json "github.com/goccy/go-json"
	"github.com/gurre/lf-iam-migrate/audit"
	"github.com/gurre/lf-iam-migrate/identity"
	"github.com/gurre/lf-iam-migrate/integration/mock"
	"github.com/gurre/lf-iam-migrate/migrator"
	"github.com/gurre/lf-iam-migrate/report"
)

const (
	account = "123456789012"
	analyst = "arn:aws:iam::123456789012:role/analyst"
)

func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func database(catalog, name string) *types.Resource {
	return &types.Resource{Database: &types.DatabaseResource{CatalogId: aws.String(catalog), Name: aws.String(name)}}
}

func table(catalog, db, name string) *types.Resource {
	return &types.Resource{Table: &types.TableResource{CatalogId: aws.String(catalog), DatabaseName: aws.String(db), Name: aws.String(name)}}
}

// touched returns every database a grant or revoke call named.
func touched(lf *mock.LakeFormationClient) []string {
	var dbs []string
	for _, c := range lf.Calls() {
		if c.Op != "GrantPermissions" && c.Op != "RevokePermissions" {
			continue
		}
		_, rest, ok := strings.Cut(c.Resource, ":")
		if !ok {
			continue
		}
		// rest is catalog:db or catalog:db/table
		_, rest, _ = strings.Cut(rest, ":")
		db, _, _ := strings.Cut(rest, "/")
		if !slices.Contains(dbs, db) {
			dbs = append(dbs, db)
		}
	}
	slices.Sort(dbs)
	return dbs
}

func TestResourceLinkIsNeverTouched(t *testing.T) {
	lf := mock.NewLakeFormationClient()
	glue := mock.NewGlueClient()
	glue.AddDatabase(account, "sales", "orders", "customers", "returns")
	glue.AddDatabaseLink(account, "sales_replica", account, "sales")
	lf.AddGrant(analyst, database(account, "sales"), types.PermissionDescribe)

	m := migrator.NewMigrator(lf, glue, account, nil, logger())
	rep, err := m.Migrate(context.Background(), migrator.Options{ApplyGlobalConfig: true})
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	if got := touched(lf); !slices.Equal(got, []string{"sales"}) {
		t.Errorf("expected only sales to be touched, got %v", got)
	}
	if rep.TablesGranted != 3 {
		t.Errorf("expected 3 table grants, got %d", rep.TablesGranted)
	}
	if rep.Skipped[report.SkipResourceLink] != 1 {
		t.Errorf("expected one resource link skip, got %d", rep.Skipped[report.SkipResourceLink])
	}
	for _, u := range glue.Updates() {
		if aws.ToString(u.Name) == "sales_replica" {
			t.Error("resource link database was updated")
		}
	}
}

func TestTargetDatabasesIsolation(t *testing.T) {
	lf := mock.NewLakeFormationClient()
	glue := mock.NewGlueClient()
	glue.AddDatabase(account, "sales", "orders")
	glue.AddDatabase(account, "hr", "staff", "salaries")
	lf.AddGrant(analyst, database(account, "sales"), types.PermissionDescribe)
	lf.AddGrant(analyst, table(account, "sales", "orders"), types.PermissionSelect)
	lf.AddGrant(analyst, database(account, "hr"), types.PermissionDescribe)
	lf.AddGrant(analyst, table(account, "hr", "salaries"), types.PermissionSelect, types.PermissionAlter)

	m := migrator.NewMigrator(lf, glue, account, nil, logger())
	rep, err := m.Migrate(context.Background(), migrator.Options{TargetDatabases: []string{"sales"}})
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	if got := touched(lf); !slices.Equal(got, []string{"sales"}) {
		t.Errorf("expected only sales to be touched, got %v", got)
	}
	if !lf.HasGrant(analyst, "db:"+account+":hr", types.PermissionDescribe) {
		t.Error("hr database grant was revoked")
	}
	if !lf.HasGrant(analyst, "table:"+account+":hr/salaries", types.PermissionAlter) {
		t.Error("hr table grant was revoked")
	}
	if rep.Revoked != 2 {
		t.Errorf("expected 2 revokes, got %d", rep.Revoked)
	}
}

func TestGrantPhaseIsIdempotent(t *testing.T) {
	lf := mock.NewLakeFormationClient()
	glue := mock.NewGlueClient()
	glue.AddDatabase(account, "sales", "orders", "customers")
	m := migrator.NewMigrator(lf, glue, account, nil, logger())

	snapshot := func() []string {
		var out []string
		for _, g := range lf.Grants {
			perms := make([]string, len(g.Permissions))
			for i, p := range g.Permissions {
				perms[i] = string(p)
			}
			slices.Sort(perms)
			out = append(out, fmt.Sprintf("%s %s %v", aws.ToString(g.Principal.DataLakePrincipalIdentifier), mock.ResourceKey(g.Resource), perms))
		}
		slices.Sort(out)
		return out
	}

	if _, err := m.Migrate(context.Background(), migrator.Options{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := snapshot()
	if _, err := m.Migrate(context.Background(), migrator.Options{}); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second := snapshot(); !slices.Equal(first, second) {
		t.Errorf("grant set changed on second run:\n%v\n%v", first, second)
	}
}

func TestThirdRevokeFailureStopsRun(t *testing.T) {
	lf := mock.NewLakeFormationClient()
	glue := mock.NewGlueClient()
	glue.AddDatabase(account, "sales", "orders")
	for i := 1; i <= 5; i++ {
		lf.AddGrant(fmt.Sprintf("arn:aws:iam::%s:role/user%d", account, i), table(account, "sales", "orders"), types.PermissionSelect)
	}
	revokes := 0
	lf.FailRevoke = func(principal, resource string) error {
		revokes++
		if revokes == 3 {
			return &types.ConcurrentModificationException{Message: aws.String("try again")}
		}
		return nil
	}

	m := migrator.NewMigrator(lf, glue, account, nil, logger())
	rep, err := m.Migrate(context.Background(), migrator.Options{ApplyGlobalConfig: true})
	if err == nil {
		t.Fatal("expected the run to fail")
	}
	if rep.Outcome != report.OutcomeFailed {
		t.Errorf("expected outcome failed, got %s", rep.Outcome)
	}
	if n := len(lf.CallsTo("RevokePermissions")); n != 3 {
		t.Errorf("expected 3 revoke attempts, got %d", n)
	}
	for i := 4; i <= 5; i++ {
		p := fmt.Sprintf("arn:aws:iam::%s:role/user%d", account, i)
		if !lf.HasGrant(p, "table:"+account+":sales/orders", types.PermissionSelect) {
			t.Errorf("grant of %s was revoked", p)
		}
	}
	if !lf.HasGrant(migrator.IAMAllowedPrincipals, "table::sales/orders", types.PermissionAll) {
		t.Error("phase 3 grant was lost")
	}
	if !lf.HasGrant(migrator.IAMAllowedPrincipals, "catalog", types.PermissionCreateDatabase) {
		t.Error("catalog grant was lost")
	}
}

func TestEndToEndWithLedgerAndReport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	lf := mock.NewLakeFormationClient()
	lf.PageSize = 7
	glue := mock.NewGlueClient()
	stsClient := &mock.STSClient{Account: account, ARN: "arn:aws:iam::123456789012:user/ops"}
	ddb := mock.NewDynamoDBClient()
	ddb.UnprocessedFirst = 1
	s3Client := mock.NewS3Client()

	var tables []string
	for i := range 30 {
		tables = append(tables, fmt.Sprintf("t%02d", i))
	}
	glue.AddDatabase(account, "lake", tables...)
	for _, tbl := range tables {
		lf.AddGrant(analyst, table(account, "lake", tbl), types.PermissionSelect)
	}
	lf.Locations = []string{"arn:aws:s3:::lake"}

	caller, err := identity.Resolve(ctx, stsClient)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	ledger := audit.NewDynamoDBLedger(ddb, "lf-revocations", audit.MaxBatchSize)
	m := migrator.NewMigrator(lf, glue, caller.AccountID, ledger, logger())
	rep, err := m.Migrate(ctx, migrator.Options{RunID: "e2e", ApplyGlobalConfig: true})
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if rep.Revoked != 30 || rep.TablesGranted != 30 || rep.LocationsDeregistered != 1 {
		t.Errorf("unexpected counts: revoked=%d tables=%d locations=%d", rep.Revoked, rep.TablesGranted, rep.LocationsDeregistered)
	}

	items := ddb.Items("lf-revocations")
	if len(items) != 30 {
		t.Fatalf("expected 30 ledger records, got %d", len(items))
	}
	seqs := make(map[int64]bool)
	for _, item := range items {
		var rec audit.Record
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			t.Fatalf("failed to decode ledger record: %v", err)
		}
		if rec.RunID != "e2e" || rec.Principal != analyst {
			t.Errorf("unexpected record %+v", rec)
		}
		seqs[rec.Seq] = true
	}
	for i := int64(1); i <= 30; i++ {
		if !seqs[i] {
			t.Errorf("missing ledger sequence %d", i)
		}
	}

	if err := report.NewS3Sink(s3Client, "reports", "runs/e2e.json").Write(ctx, rep); err != nil {
		t.Fatalf("failed to write report: %v", err)
	}
	data, ok := s3Client.Object("reports", "runs/e2e.json")
	if !ok {
		t.Fatal("report was not uploaded")
	}
	var decoded struct {
		RunID           string   `json:"runId"`
		Outcome         string   `json:"outcome"`
		Duration        string   `json:"duration"`
		CompletedPhases []string `json:"completedPhases"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if decoded.RunID != "e2e" || decoded.Outcome != "succeeded" || decoded.Duration == "" {
		t.Errorf("unexpected report %+v", decoded)
	}
	if len(decoded.CompletedPhases) != 5 {
		t.Errorf("expected 5 completed phases, got %v", decoded.CompletedPhases)
	}
}

func TestDryRunPlanMakesNoCalls(t *testing.T) {
	lf := mock.NewLakeFormationClient()
	for _, opts := range []migrator.Options{
		{ApplyGlobalConfig: true},
		{TargetDatabases: []string{"sales"}, SkipErrors: true},
	} {
		if steps := migrator.Plan(opts); len(steps) == 0 {
			t.Errorf("empty plan for %+v", opts)
		}
	}
	if calls := lf.Calls(); len(calls) != 0 {
		t.Errorf("expected no calls, got %v", calls)
	}
}
