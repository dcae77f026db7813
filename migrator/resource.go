package migrator

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation/types"
	json "github.com/goccy/go-json"
)

// IAMAllowedPrincipals is the principal that defers authorization to IAM.
// Every permission the migration leaves behind belongs to it.
const IAMAllowedPrincipals = "IAM_ALLOWED_PRINCIPALS"

// AllTablesName is the table name some grant APIs store for a
// column-wildcard grant over every table of a database.
const AllTablesName = "ALL_TABLES"

// Resource is a Lake Formation resource. Exactly one of the variant types
// below implements it: CatalogResource, DatabaseResource, TableResource,
// TableWithColumnsResource, or OtherResource for the kinds the migration
// only ever passes through (data locations, LF-tags, data cell filters).
type Resource interface {
	// Catalog returns the owning catalog id; empty means the caller's own.
	Catalog() string
	isResource()
}

// CatalogResource is the data catalog itself.
type CatalogResource struct {
	CatalogID string
}

// DatabaseResource is a catalog database.
type DatabaseResource struct {
	CatalogID string
	Name      string
}

// TableResource is one table, or every table of a database when Wildcard is set.
type TableResource struct {
	CatalogID    string
	DatabaseName string
	Name         string
	Wildcard     bool
}

// TableWithColumnsResource is a column-level grant on a table.
type TableWithColumnsResource struct {
	CatalogID       string
	DatabaseName    string
	Name            string
	ColumnNames     []string
	ColumnWildcard  bool
	ExcludedColumns []string
}

// OtherResource wraps resource kinds that are revoked verbatim.
type OtherResource struct {
	Kind         string
	CatalogID    string
	DatabaseName string
	Raw          *types.Resource
}

func (r CatalogResource) Catalog() string          { return r.CatalogID }
func (r DatabaseResource) Catalog() string         { return r.CatalogID }
func (r TableResource) Catalog() string            { return r.CatalogID }
func (r TableWithColumnsResource) Catalog() string { return r.CatalogID }
func (r OtherResource) Catalog() string            { return r.CatalogID }

func (CatalogResource) isResource()          {}
func (DatabaseResource) isResource()         {}
func (TableResource) isResource()            {}
func (TableWithColumnsResource) isResource() {}
func (OtherResource) isResource()            {}

// FromSDK converts a listed Lake Formation resource into its variant.
func FromSDK(r *types.Resource) Resource {
	if r == nil {
		return OtherResource{Kind: "Unknown"}
	}
	switch {
	case r.Catalog != nil:
		return CatalogResource{CatalogID: aws.ToString(r.Catalog.Id)}
	case r.Database != nil:
		return DatabaseResource{
			CatalogID: aws.ToString(r.Database.CatalogId),
			Name:      aws.ToString(r.Database.Name),
		}
	case r.Table != nil:
		return TableResource{
			CatalogID:    aws.ToString(r.Table.CatalogId),
			DatabaseName: aws.ToString(r.Table.DatabaseName),
			Name:         aws.ToString(r.Table.Name),
			Wildcard:     r.Table.TableWildcard != nil,
		}
	case r.TableWithColumns != nil:
		t := TableWithColumnsResource{
			CatalogID:    aws.ToString(r.TableWithColumns.CatalogId),
			DatabaseName: aws.ToString(r.TableWithColumns.DatabaseName),
			Name:         aws.ToString(r.TableWithColumns.Name),
			ColumnNames:  r.TableWithColumns.ColumnNames,
		}
		if cw := r.TableWithColumns.ColumnWildcard; cw != nil {
			t.ColumnWildcard = true
			t.ExcludedColumns = cw.ExcludedColumnNames
		}
		return t
	case r.DataLocation != nil:
		return OtherResource{Kind: "DataLocation", CatalogID: aws.ToString(r.DataLocation.CatalogId), Raw: r}
	case r.DataCellsFilter != nil:
		return OtherResource{
			Kind:         "DataCellsFilter",
			CatalogID:    aws.ToString(r.DataCellsFilter.TableCatalogId),
			DatabaseName: aws.ToString(r.DataCellsFilter.DatabaseName),
			Raw:          r,
		}
	case r.LFTag != nil:
		return OtherResource{Kind: "LFTag", CatalogID: aws.ToString(r.LFTag.CatalogId), Raw: r}
	case r.LFTagPolicy != nil:
		return OtherResource{Kind: "LFTagPolicy", CatalogID: aws.ToString(r.LFTagPolicy.CatalogId), Raw: r}
	default:
		return OtherResource{Kind: "Unknown", Raw: r}
	}
}

// ToSDK builds the request shape of a resource.
func ToSDK(r Resource) *types.Resource {
	switch v := r.(type) {
	case CatalogResource:
		return &types.Resource{Catalog: &types.CatalogResource{Id: optional(v.CatalogID)}}
	case DatabaseResource:
		return &types.Resource{Database: &types.DatabaseResource{
			CatalogId: optional(v.CatalogID),
			Name:      aws.String(v.Name),
		}}
	case TableResource:
		t := &types.TableResource{
			CatalogId:    optional(v.CatalogID),
			DatabaseName: aws.String(v.DatabaseName),
			Name:         optional(v.Name),
		}
		if v.Wildcard {
			t.TableWildcard = &types.TableWildcard{}
		}
		return &types.Resource{Table: t}
	case TableWithColumnsResource:
		t := &types.TableWithColumnsResource{
			CatalogId:    optional(v.CatalogID),
			DatabaseName: aws.String(v.DatabaseName),
			Name:         aws.String(v.Name),
			ColumnNames:  v.ColumnNames,
		}
		if v.ColumnWildcard {
			t.ColumnWildcard = &types.ColumnWildcard{ExcludedColumnNames: v.ExcludedColumns}
		}
		return &types.Resource{TableWithColumns: t}
	case OtherResource:
		return v.Raw
	default:
		panic(fmt.Sprintf("migrator: unhandled resource %T", r))
	}
}

// ForRevoke rewrites a listed resource into the shape RevokePermissions
// accepts for the grant it came from:
//   - a wildcard table loses its literal name
//   - a column wildcard over ALL_TABLES becomes a wildcard table
//
// Every other resource is returned unchanged.
func ForRevoke(r Resource) Resource {
	switch v := r.(type) {
	case TableResource:
		if v.Wildcard {
			v.Name = ""
		}
		return v
	case TableWithColumnsResource:
		if v.ColumnWildcard && v.Name == AllTablesName {
			return TableResource{
				CatalogID:    v.CatalogID,
				DatabaseName: v.DatabaseName,
				Wildcard:     true,
			}
		}
		return v
	case CatalogResource, DatabaseResource, OtherResource:
		return v
	default:
		panic(fmt.Sprintf("migrator: unhandled resource %T", r))
	}
}

// Describe returns the resource kind, a display name and the owning
// database, which is empty for resources outside any database.
func Describe(r Resource) (kind, name, database string) {
	switch v := r.(type) {
	case CatalogResource:
		return "Catalog", "catalog", ""
	case DatabaseResource:
		return "Database", v.Name, v.Name
	case TableResource:
		table := v.Name
		if v.Wildcard {
			table = "*"
		}
		return "Table", v.DatabaseName + "." + table, v.DatabaseName
	case TableWithColumnsResource:
		return "TableWithColumns", v.DatabaseName + "." + v.Name + ".columns", v.DatabaseName
	case OtherResource:
		return v.Kind, v.Kind, v.DatabaseName
	default:
		panic(fmt.Sprintf("migrator: unhandled resource %T", r))
	}
}

// MarshalResource encodes a resource in the Lake Formation request JSON
// shape, usable as-is with `aws lakeformation grant-permissions --resource`.
func MarshalResource(r Resource) ([]byte, error) {
	var doc map[string]any
	switch v := r.(type) {
	case CatalogResource:
		body := map[string]any{}
		if v.CatalogID != "" {
			body["Id"] = v.CatalogID
		}
		doc = map[string]any{"Catalog": body}
	case DatabaseResource:
		doc = map[string]any{"Database": withCatalog(v.CatalogID, map[string]any{"Name": v.Name})}
	case TableResource:
		body := map[string]any{"DatabaseName": v.DatabaseName}
		if v.Name != "" {
			body["Name"] = v.Name
		}
		if v.Wildcard {
			body["TableWildcard"] = map[string]any{}
		}
		doc = map[string]any{"Table": withCatalog(v.CatalogID, body)}
	case TableWithColumnsResource:
		body := map[string]any{"DatabaseName": v.DatabaseName, "Name": v.Name}
		if len(v.ColumnNames) > 0 {
			body["ColumnNames"] = v.ColumnNames
		}
		if v.ColumnWildcard {
			cw := map[string]any{}
			if len(v.ExcludedColumns) > 0 {
				cw["ExcludedColumnNames"] = v.ExcludedColumns
			}
			body["ColumnWildcard"] = cw
		}
		doc = map[string]any{"TableWithColumns": withCatalog(v.CatalogID, body)}
	case OtherResource:
		return json.Marshal(v.Raw)
	default:
		panic(fmt.Sprintf("migrator: unhandled resource %T", r))
	}
	return json.Marshal(doc)
}

func withCatalog(id string, body map[string]any) map[string]any {
	if id != "" {
		body["CatalogId"] = id
	}
	return body
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// PermissionGrant is one listed grant of permissions on a resource.
type PermissionGrant struct {
	Principal   string
	Resource    Resource
	Permissions []types.Permission
	Grantable   []types.Permission
}

// grantFromSDK converts a ListPermissions entry.
func grantFromSDK(p types.PrincipalResourcePermissions) PermissionGrant {
	g := PermissionGrant{
		Resource:    FromSDK(p.Resource),
		Permissions: p.Permissions,
		Grantable:   p.PermissionsWithGrantOption,
	}
	if p.Principal != nil {
		g.Principal = aws.ToString(p.Principal.DataLakePrincipalIdentifier)
	}
	return g
}

// Database is a catalog database descriptor.
type Database struct {
	CatalogID      string
	Name           string
	Description    string
	Parameters     map[string]string
	LocationURI    string
	IsResourceLink bool
}

// Table is a catalog table descriptor.
type Table struct {
	DatabaseName   string
	Name           string
	IsResourceLink bool
}
