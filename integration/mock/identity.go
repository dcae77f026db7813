package mock

import (
	"context"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSClient returns a fixed caller identity.
type STSClient struct {
	Account string
	ARN     string
	UserID  string
	Err     error
	Calls   int
}

// GetCallerIdentity returns the configured identity
func (m *STSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(m.Account),
		Arn:     aws.String(m.ARN),
		UserId:  aws.String(m.UserID),
	}, nil
}

// IAMClient simulates policies by denying a fixed set of actions. Results
// are returned one per page to exercise Marker handling.
type IAMClient struct {
	Denied []string
	Err    error
	// PolicySources records the PolicySourceArn of each call
	PolicySources []string
}

// SimulatePrincipalPolicy evaluates each action against Denied
func (m *IAMClient) SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	m.PolicySources = append(m.PolicySources, aws.ToString(params.PolicySourceArn))
	if m.Err != nil {
		return nil, m.Err
	}

	start := 0
	if params.Marker != nil {
		start = slices.Index(params.ActionNames, *params.Marker)
		if start < 0 {
			start = len(params.ActionNames)
		}
	}
	out := &iam.SimulatePrincipalPolicyOutput{}
	if start >= len(params.ActionNames) {
		return out, nil
	}
	action := params.ActionNames[start]
	decision := iamtypes.PolicyEvaluationDecisionTypeAllowed
	if slices.Contains(m.Denied, action) {
		decision = iamtypes.PolicyEvaluationDecisionTypeImplicitDeny
	}
	out.EvaluationResults = []iamtypes.EvaluationResult{{
		EvalActionName: aws.String(action),
		EvalDecision:   decision,
	}}
	if start+1 < len(params.ActionNames) {
		out.IsTruncated = true
		out.Marker = aws.String(params.ActionNames[start+1])
	}
	return out, nil
}
