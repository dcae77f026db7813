// Package identity resolves who is running the migration and, optionally,
// checks up front that the caller's IAM policy allows every call it needs.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	lfaws "github.com/gurre/lf-iam-migrate/aws"
	"github.com/gurre/lf-iam-migrate/pager"
)

// Caller is the identity behind the loaded credentials.
type Caller struct {
	AccountID string
	ARN       string
	UserID    string
}

// Resolve asks STS for the caller identity.
func Resolve(ctx context.Context, client lfaws.STSClient) (Caller, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Caller{}, fmt.Errorf("failed to get caller identity: %w", err)
	}
	c := Caller{
		AccountID: aws.ToString(out.Account),
		ARN:       aws.ToString(out.Arn),
		UserID:    aws.ToString(out.UserId),
	}
	if c.AccountID == "" {
		return Caller{}, fmt.Errorf("caller identity has no account id")
	}
	return c, nil
}

// PolicySourceARN maps a caller ARN to the IAM principal whose policies
// apply. Assumed-role sessions map to their role; the role path is not
// part of a session ARN, so roles under a path are not resolvable.
func PolicySourceARN(callerARN string) (string, error) {
	a, err := arn.Parse(callerARN)
	if err != nil {
		return "", fmt.Errorf("invalid caller ARN %q: %w", callerARN, err)
	}

	switch {
	case a.Service == "iam" && a.Resource == "root":
		return "", fmt.Errorf("policy simulation is not supported for the root user")
	case a.Service == "iam":
		return callerARN, nil
	case a.Service == "sts" && strings.HasPrefix(a.Resource, "assumed-role/"):
		parts := strings.Split(a.Resource, "/")
		if len(parts) < 3 {
			return "", fmt.Errorf("malformed assumed-role ARN %q", callerARN)
		}
		return arn.ARN{
			Partition: a.Partition,
			Service:   "iam",
			AccountID: a.AccountID,
			Resource:  "role/" + parts[1],
		}.String(), nil
	default:
		return "", fmt.Errorf("cannot simulate policies for %q", callerARN)
	}
}

// RequiredActions lists the IAM actions a migration run calls.
func RequiredActions(applyGlobalConfig bool) []string {
	actions := []string{
		"glue:GetDatabases",
		"glue:GetTables",
		"glue:UpdateDatabase",
		"lakeformation:GrantPermissions",
		"lakeformation:ListPermissions",
		"lakeformation:RevokePermissions",
	}
	if applyGlobalConfig {
		actions = append(actions,
			"lakeformation:GetDataLakeSettings",
			"lakeformation:PutDataLakeSettings",
			"lakeformation:ListResources",
			"lakeformation:DeregisterResource",
		)
	}
	return actions
}

// Denied simulates the given actions for principalARN and returns the ones
// not allowed, in evaluation order.
func Denied(ctx context.Context, client lfaws.IAMClient, principalARN string, actions []string) ([]string, error) {
	results := pager.Seq(ctx, func(ctx context.Context, marker *string) ([]iamtypes.EvaluationResult, *string, error) {
		out, err := client.SimulatePrincipalPolicy(ctx, &iam.SimulatePrincipalPolicyInput{
			PolicySourceArn: aws.String(principalARN),
			ActionNames:     actions,
			Marker:          marker,
		})
		if err != nil {
			return nil, nil, err
		}
		if !out.IsTruncated {
			return out.EvaluationResults, nil, nil
		}
		return out.EvaluationResults, out.Marker, nil
	})

	var denied []string
	for r, err := range results {
		if err != nil {
			return nil, fmt.Errorf("failed to simulate policy for %s: %w", principalARN, err)
		}
		if r.EvalDecision != iamtypes.PolicyEvaluationDecisionTypeAllowed {
			denied = append(denied, aws.ToString(r.EvalActionName))
		}
	}
	return denied, nil
}

// Preflight resolves the caller's policy source and fails if any required
// action is not allowed.
func Preflight(ctx context.Context, client lfaws.IAMClient, caller Caller, applyGlobalConfig bool) error {
	principal, err := PolicySourceARN(caller.ARN)
	if err != nil {
		return err
	}
	denied, err := Denied(ctx, client, principal, RequiredActions(applyGlobalConfig))
	if err != nil {
		return err
	}
	if len(denied) > 0 {
		return fmt.Errorf("%s is not allowed: %s", principal, strings.Join(denied, ", "))
	}
	return nil
}
