package mock

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
)

// GlueClient is an in-memory Glue Data Catalog for testing.
type GlueClient struct {
	mu sync.Mutex

	Databases []types.Database
	Tables    map[string][]types.Table // by database name
	PageSize  int

	FailGetDatabases error
	FailGetTables    map[string]error // by database name
	FailUpdate       map[string]error // by database name

	updates []glue.UpdateDatabaseInput
}

// NewGlueClient creates a new mock Glue client
func NewGlueClient() *GlueClient {
	return &GlueClient{
		Tables:        make(map[string][]types.Table),
		FailGetTables: make(map[string]error),
		FailUpdate:    make(map[string]error),
		PageSize:      2,
	}
}

// AddDatabase adds a database in catalogID with the named tables
func (m *GlueClient) AddDatabase(catalogID, name string, tables ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Databases = append(m.Databases, types.Database{
		CatalogId:  aws.String(catalogID),
		Name:       aws.String(name),
		Parameters: map[string]string{"owner": "data-eng"},
	})
	for _, t := range tables {
		m.Tables[name] = append(m.Tables[name], types.Table{
			CatalogId:    aws.String(catalogID),
			DatabaseName: aws.String(name),
			Name:         aws.String(t),
		})
	}
}

// AddDatabaseLink adds a database resource link pointing at target
func (m *GlueClient) AddDatabaseLink(catalogID, name, targetCatalog, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Databases = append(m.Databases, types.Database{
		CatalogId: aws.String(catalogID),
		Name:      aws.String(name),
		TargetDatabase: &types.DatabaseIdentifier{
			CatalogId:    aws.String(targetCatalog),
			DatabaseName: aws.String(target),
		},
	})
}

// AddTableLink adds a table resource link named name to database db,
// pointing at targetDB.target in targetCatalog
func (m *GlueClient) AddTableLink(catalogID, db, name, targetCatalog, targetDB, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tables[db] = append(m.Tables[db], types.Table{
		CatalogId:    aws.String(catalogID),
		DatabaseName: aws.String(db),
		Name:         aws.String(name),
		TargetTable: &types.TableIdentifier{
			CatalogId:    aws.String(targetCatalog),
			DatabaseName: aws.String(targetDB),
			Name:         aws.String(target),
		},
	})
}

// Updates returns the recorded UpdateDatabase calls
func (m *GlueClient) Updates() []glue.UpdateDatabaseInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]glue.UpdateDatabaseInput(nil), m.updates...)
}

// GetDatabases pages over the databases
func (m *GlueClient) GetDatabases(ctx context.Context, params *glue.GetDatabasesInput, optFns ...func(*glue.Options)) (*glue.GetDatabasesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGetDatabases != nil {
		return nil, m.FailGetDatabases
	}
	dbs, next, err := page(m.Databases, params.NextToken, m.PageSize)
	if err != nil {
		return nil, err
	}
	return &glue.GetDatabasesOutput{DatabaseList: dbs, NextToken: next}, nil
}

// GetTables pages over one database's tables
func (m *GlueClient) GetTables(ctx context.Context, params *glue.GetTablesInput, optFns ...func(*glue.Options)) (*glue.GetTablesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	db := aws.ToString(params.DatabaseName)
	if err := m.FailGetTables[db]; err != nil {
		return nil, err
	}
	tables, next, err := page(m.Tables[db], params.NextToken, m.PageSize)
	if err != nil {
		return nil, err
	}
	return &glue.GetTablesOutput{TableList: tables, NextToken: next}, nil
}

// UpdateDatabase records the update and applies its description and parameters
func (m *GlueClient) UpdateDatabase(ctx context.Context, params *glue.UpdateDatabaseInput, optFns ...func(*glue.Options)) (*glue.UpdateDatabaseOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := aws.ToString(params.Name)
	m.updates = append(m.updates, *params)
	if err := m.FailUpdate[name]; err != nil {
		return nil, err
	}
	for i, db := range m.Databases {
		if aws.ToString(db.Name) == name {
			in := params.DatabaseInput
			m.Databases[i].Description = in.Description
			m.Databases[i].Parameters = in.Parameters
			m.Databases[i].LocationUri = in.LocationUri
			m.Databases[i].CreateTableDefaultPermissions = in.CreateTableDefaultPermissions
			return &glue.UpdateDatabaseOutput{}, nil
		}
	}
	return nil, &types.EntityNotFoundException{Message: aws.String("database not found: " + name)}
}
