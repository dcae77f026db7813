package mock

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation/types"
)

// Call is one recorded mutating call.
type Call struct {
	Op        string
	Principal string
	Resource  string // ResourceKey of the request resource, or an ARN
}

// LakeFormationClient is an in-memory Lake Formation for testing. Grants
// are held as a flat list the way ListPermissions reports them.
type LakeFormationClient struct {
	mu sync.Mutex

	Settings  *types.DataLakeSettings
	Locations []string
	Grants    []types.PrincipalResourcePermissions
	PageSize  int

	// Fail hooks return an error to inject for a call, or nil.
	FailGrant      func(principal, resource string) error
	FailRevoke     func(principal, resource string) error
	FailDeregister func(arn string) error

	calls []Call
}

// NewLakeFormationClient creates a new mock Lake Formation client
func NewLakeFormationClient() *LakeFormationClient {
	return &LakeFormationClient{
		Settings: &types.DataLakeSettings{},
		PageSize: 2,
	}
}

// ResourceKey renders a resource as a comparable string.
func ResourceKey(r *types.Resource) string {
	switch {
	case r == nil:
		return "nil"
	case r.Catalog != nil:
		if id := aws.ToString(r.Catalog.Id); id != "" {
			return "catalog:" + id
		}
		return "catalog"
	case r.Database != nil:
		return "db:" + aws.ToString(r.Database.CatalogId) + ":" + aws.ToString(r.Database.Name)
	case r.Table != nil:
		name := aws.ToString(r.Table.Name)
		if r.Table.TableWildcard != nil {
			name += "*"
		}
		return "table:" + aws.ToString(r.Table.CatalogId) + ":" + aws.ToString(r.Table.DatabaseName) + "/" + name
	case r.TableWithColumns != nil:
		name := aws.ToString(r.TableWithColumns.Name)
		if r.TableWithColumns.ColumnWildcard != nil {
			name += "[*]"
		}
		return "columns:" + aws.ToString(r.TableWithColumns.CatalogId) + ":" + aws.ToString(r.TableWithColumns.DatabaseName) + "/" + name
	case r.DataLocation != nil:
		return "location:" + aws.ToString(r.DataLocation.ResourceArn)
	default:
		return "other"
	}
}

// Principal builds a DataLakePrincipal
func Principal(id string) *types.DataLakePrincipal {
	return &types.DataLakePrincipal{DataLakePrincipalIdentifier: aws.String(id)}
}

// AddGrant seeds an existing grant
func (m *LakeFormationClient) AddGrant(principal string, resource *types.Resource, perms ...types.Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Grants = append(m.Grants, types.PrincipalResourcePermissions{
		Principal:   Principal(principal),
		Resource:    resource,
		Permissions: perms,
	})
}

// Calls returns the recorded mutating calls
func (m *LakeFormationClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsTo returns the recorded calls of one operation
func (m *LakeFormationClient) CallsTo(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// HasGrant reports whether principal holds perm on the resource with the given key
func (m *LakeFormationClient) HasGrant(principal, key string, perm types.Permission) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.Grants {
		if aws.ToString(g.Principal.DataLakePrincipalIdentifier) == principal &&
			ResourceKey(g.Resource) == key && slices.Contains(g.Permissions, perm) {
			return true
		}
	}
	return false
}

func (m *LakeFormationClient) record(op, principal, resource string) {
	m.calls = append(m.calls, Call{Op: op, Principal: principal, Resource: resource})
}

func invalidInput(format string, args ...any) error {
	return &types.InvalidInputException{Message: aws.String(fmt.Sprintf(format, args...))}
}

// page slices items according to a numeric token
func page[T any](items []T, token *string, size int) ([]T, *string, error) {
	start := 0
	if token != nil {
		n, err := strconv.Atoi(*token)
		if err != nil || n < 0 || n > len(items) {
			return nil, nil, invalidInput("invalid next token %q", *token)
		}
		start = n
	}
	if size <= 0 {
		size = len(items)
	}
	end := min(start+size, len(items))
	var next *string
	if end < len(items) {
		next = aws.String(strconv.Itoa(end))
	}
	return append([]T(nil), items[start:end]...), next, nil
}

// GetDataLakeSettings returns the current settings
func (m *LakeFormationClient) GetDataLakeSettings(ctx context.Context, params *lakeformation.GetDataLakeSettingsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.GetDataLakeSettingsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *m.Settings
	return &lakeformation.GetDataLakeSettingsOutput{DataLakeSettings: &s}, nil
}

// PutDataLakeSettings replaces the settings
func (m *LakeFormationClient) PutDataLakeSettings(ctx context.Context, params *lakeformation.PutDataLakeSettingsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.PutDataLakeSettingsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PutDataLakeSettings", "", "settings")
	s := *params.DataLakeSettings
	m.Settings = &s
	return &lakeformation.PutDataLakeSettingsOutput{}, nil
}

// ListResources pages over registered locations
func (m *LakeFormationClient) ListResources(ctx context.Context, params *lakeformation.ListResourcesInput, optFns ...func(*lakeformation.Options)) (*lakeformation.ListResourcesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	arns, next, err := page(m.Locations, params.NextToken, m.PageSize)
	if err != nil {
		return nil, err
	}
	out := &lakeformation.ListResourcesOutput{NextToken: next}
	for _, a := range arns {
		out.ResourceInfoList = append(out.ResourceInfoList, types.ResourceInfo{ResourceArn: aws.String(a)})
	}
	return out, nil
}

// DeregisterResource removes a registered location
func (m *LakeFormationClient) DeregisterResource(ctx context.Context, params *lakeformation.DeregisterResourceInput, optFns ...func(*lakeformation.Options)) (*lakeformation.DeregisterResourceOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	arn := aws.ToString(params.ResourceArn)
	m.record("DeregisterResource", "", arn)
	if m.FailDeregister != nil {
		if err := m.FailDeregister(arn); err != nil {
			return nil, err
		}
	}
	idx := slices.Index(m.Locations, arn)
	if idx < 0 {
		return nil, &types.EntityNotFoundException{Message: aws.String("location not registered: " + arn)}
	}
	m.Locations = slices.Delete(m.Locations, idx, idx+1)
	return &lakeformation.DeregisterResourceOutput{}, nil
}

// GrantPermissions adds permissions, merging into an existing grant of the
// same principal and resource.
func (m *LakeFormationClient) GrantPermissions(ctx context.Context, params *lakeformation.GrantPermissionsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.GrantPermissionsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	principal := aws.ToString(params.Principal.DataLakePrincipalIdentifier)
	key := ResourceKey(params.Resource)
	m.record("GrantPermissions", principal, key)
	if m.FailGrant != nil {
		if err := m.FailGrant(principal, key); err != nil {
			return nil, err
		}
	}

	for i, g := range m.Grants {
		if aws.ToString(g.Principal.DataLakePrincipalIdentifier) == principal && ResourceKey(g.Resource) == key {
			for _, p := range params.Permissions {
				if !slices.Contains(g.Permissions, p) {
					m.Grants[i].Permissions = append(slices.Clone(m.Grants[i].Permissions), p)
				}
			}
			return &lakeformation.GrantPermissionsOutput{}, nil
		}
	}
	m.Grants = append(m.Grants, types.PrincipalResourcePermissions{
		Principal:                  params.Principal,
		Resource:                   params.Resource,
		Permissions:                append([]types.Permission(nil), params.Permissions...),
		PermissionsWithGrantOption: append([]types.Permission(nil), params.PermissionsWithGrantOption...),
	})
	return &lakeformation.GrantPermissionsOutput{}, nil
}

// RevokePermissions removes permissions. Like the service it rejects a
// wildcard table that also names a table, and column grants over ALL_TABLES.
// A wildcard table revoke matches a grant listed as TableWithColumns over
// ALL_TABLES. Revoking a grant that does not exist is a no-op.
func (m *LakeFormationClient) RevokePermissions(ctx context.Context, params *lakeformation.RevokePermissionsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.RevokePermissionsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	principal := aws.ToString(params.Principal.DataLakePrincipalIdentifier)
	key := ResourceKey(params.Resource)
	m.record("RevokePermissions", principal, key)
	if m.FailRevoke != nil {
		if err := m.FailRevoke(principal, key); err != nil {
			return nil, err
		}
	}

	r := params.Resource
	if r != nil && r.Table != nil && r.Table.TableWildcard != nil && r.Table.Name != nil {
		return nil, invalidInput("table wildcard must not specify a table name")
	}
	if r != nil && r.TableWithColumns != nil && aws.ToString(r.TableWithColumns.Name) == "ALL_TABLES" {
		return nil, invalidInput("ALL_TABLES is not a valid table name")
	}

	matches := func(g types.PrincipalResourcePermissions) bool {
		if aws.ToString(g.Principal.DataLakePrincipalIdentifier) != principal {
			return false
		}
		gk := ResourceKey(g.Resource)
		if gk == key {
			return true
		}
		// listed forms of a wildcard grant
		if r != nil && r.Table != nil && r.Table.TableWildcard != nil && g.Resource != nil {
			db := aws.ToString(r.Table.DatabaseName)
			cat := aws.ToString(r.Table.CatalogId)
			if g.Resource.Table != nil && g.Resource.Table.TableWildcard != nil &&
				aws.ToString(g.Resource.Table.DatabaseName) == db && aws.ToString(g.Resource.Table.CatalogId) == cat {
				return true
			}
			if c := g.Resource.TableWithColumns; c != nil && c.ColumnWildcard != nil &&
				aws.ToString(c.Name) == "ALL_TABLES" && aws.ToString(c.DatabaseName) == db && aws.ToString(c.CatalogId) == cat {
				return true
			}
		}
		return false
	}

	// callers may pass slices shared with a listed grant
	revoked := slices.Clone(params.Permissions)
	revokedGrantable := slices.Clone(params.PermissionsWithGrantOption)

	kept := make([]types.PrincipalResourcePermissions, 0, len(m.Grants))
	for _, g := range m.Grants {
		if matches(g) {
			g.Permissions = slices.DeleteFunc(slices.Clone(g.Permissions), func(p types.Permission) bool {
				return slices.Contains(revoked, p)
			})
			g.PermissionsWithGrantOption = slices.DeleteFunc(slices.Clone(g.PermissionsWithGrantOption), func(p types.Permission) bool {
				return slices.Contains(revokedGrantable, p) || slices.Contains(revoked, p)
			})
			if len(g.Permissions) == 0 {
				continue
			}
		}
		kept = append(kept, g)
	}
	m.Grants = kept
	return &lakeformation.RevokePermissionsOutput{}, nil
}

// ListPermissions pages over a copy of the grants
func (m *LakeFormationClient) ListPermissions(ctx context.Context, params *lakeformation.ListPermissionsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.ListPermissionsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grants, next, err := page(m.Grants, params.NextToken, m.PageSize)
	if err != nil {
		return nil, err
	}
	return &lakeformation.ListPermissionsOutput{PrincipalResourcePermissions: grants, NextToken: next}, nil
}
