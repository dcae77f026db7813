package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSTS struct {
	out *sts.GetCallerIdentityOutput
	err error
}

func (m *mockSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return m.out, m.err
}

// mockIAM returns one page per call; denied actions get implicitDeny.
type mockIAM struct {
	denied   map[string]bool
	pageSize int
	inputs   []*iam.SimulatePrincipalPolicyInput
}

func (m *mockIAM) SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	m.inputs = append(m.inputs, params)
	start := 0
	if params.Marker != nil {
		start = len(*params.Marker)
	}
	end := min(start+m.pageSize, len(params.ActionNames))

	out := &iam.SimulatePrincipalPolicyOutput{}
	for _, action := range params.ActionNames[start:end] {
		decision := iamtypes.PolicyEvaluationDecisionTypeAllowed
		if m.denied[action] {
			decision = iamtypes.PolicyEvaluationDecisionTypeImplicitDeny
		}
		out.EvaluationResults = append(out.EvaluationResults, iamtypes.EvaluationResult{
			EvalActionName: aws.String(action),
			EvalDecision:   decision,
		})
	}
	if end < len(params.ActionNames) {
		out.IsTruncated = true
		// marker length encodes the next offset
		marker := make([]byte, end)
		for i := range marker {
			marker[i] = 'x'
		}
		out.Marker = aws.String(string(marker))
	}
	return out, nil
}

func TestResolve(t *testing.T) {
	c, err := Resolve(context.Background(), &mockSTS{out: &sts.GetCallerIdentityOutput{
		Account: aws.String("111122223333"),
		Arn:     aws.String("arn:aws:iam::111122223333:user/admin"),
		UserId:  aws.String("AIDAEXAMPLE"),
	}})
	require.NoError(t, err)
	assert.Equal(t, "111122223333", c.AccountID)
	assert.Equal(t, "arn:aws:iam::111122223333:user/admin", c.ARN)
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve(context.Background(), &mockSTS{err: errors.New("expired token")})
	assert.ErrorContains(t, err, "expired token")

	_, err = Resolve(context.Background(), &mockSTS{out: &sts.GetCallerIdentityOutput{}})
	assert.Error(t, err)
}

func TestPolicySourceARN(t *testing.T) {
	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"arn:aws:iam::111122223333:user/admin", "arn:aws:iam::111122223333:user/admin", false},
		{"arn:aws:iam::111122223333:role/path/LFAdmin", "arn:aws:iam::111122223333:role/path/LFAdmin", false},
		{"arn:aws:sts::111122223333:assumed-role/LFAdmin/session-1", "arn:aws:iam::111122223333:role/LFAdmin", false},
		{"arn:aws-cn:sts::111122223333:assumed-role/LFAdmin/s", "arn:aws-cn:iam::111122223333:role/LFAdmin", false},
		{"arn:aws:iam::111122223333:root", "", true},
		{"arn:aws:sts::111122223333:federated-user/bob", "", true},
		{"arn:aws:sts::111122223333:assumed-role/LFAdmin", "", true},
		{"not-an-arn", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := PolicySourceARN(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRequiredActions(t *testing.T) {
	scoped := RequiredActions(false)
	global := RequiredActions(true)
	assert.NotContains(t, scoped, "lakeformation:PutDataLakeSettings")
	assert.Contains(t, global, "lakeformation:PutDataLakeSettings")
	assert.Contains(t, global, "lakeformation:DeregisterResource")
	assert.Subset(t, global, scoped)
}

func TestDeniedFollowsMarker(t *testing.T) {
	client := &mockIAM{
		pageSize: 3,
		denied:   map[string]bool{"glue:UpdateDatabase": true, "lakeformation:DeregisterResource": true},
	}
	denied, err := Denied(context.Background(), client, "arn:aws:iam::111122223333:role/LFAdmin", RequiredActions(true))
	require.NoError(t, err)
	assert.Equal(t, []string{"glue:UpdateDatabase", "lakeformation:DeregisterResource"}, denied)
	assert.Len(t, client.inputs, 4)
	assert.Nil(t, client.inputs[0].Marker)
}

func TestPreflight(t *testing.T) {
	caller := Caller{AccountID: "111122223333", ARN: "arn:aws:sts::111122223333:assumed-role/LFAdmin/cli"}

	ok := &mockIAM{pageSize: 100}
	require.NoError(t, Preflight(context.Background(), ok, caller, true))
	assert.Equal(t, "arn:aws:iam::111122223333:role/LFAdmin", aws.ToString(ok.inputs[0].PolicySourceArn))

	deny := &mockIAM{pageSize: 100, denied: map[string]bool{"lakeformation:RevokePermissions": true}}
	err := Preflight(context.Background(), deny, caller, false)
	assert.ErrorContains(t, err, "lakeformation:RevokePermissions")
}
