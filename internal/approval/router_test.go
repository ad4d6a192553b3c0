package approval

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-oa/meridian-oa/internal/org"
)

type memoryRuleRepo struct {
	rules []Rule
}

func (r *memoryRuleRepo) ListRules(ctx context.Context, officeID int64, kind RuleKind) ([]Rule, error) {
	var out []Rule
	for _, rule := range r.rules {
		if rule.OfficeID == officeID && rule.Kind == kind {
			out = append(out, rule)
		}
	}
	return out, nil
}

type memoryDirectory struct {
	users  map[int64]org.User
	groups map[int64][]int64
}

func (d *memoryDirectory) GetUser(ctx context.Context, id int64) (org.User, error) {
	u, ok := d.users[id]
	if !ok {
		return org.User{}, org.ErrNotFound
	}
	return u, nil
}

func (d *memoryDirectory) GetUserByEmail(ctx context.Context, email string) (org.User, error) {
	for _, u := range d.users {
		if u.Email == email {
			return u, nil
		}
	}
	return org.User{}, org.ErrNotFound
}

func (d *memoryDirectory) GetOffice(ctx context.Context, id int64) (org.Office, error) {
	return org.Office{ID: id, Code: "HQ", Currency: "CNY"}, nil
}

func (d *memoryDirectory) GroupMembers(ctx context.Context, groupID int64) ([]org.User, error) {
	var out []org.User
	for _, id := range d.groups[groupID] {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *memoryDirectory) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	for _, id := range d.groups[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func ptr(v int64) *int64 { return &v }

func dptr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func testDirectory() *memoryDirectory {
	return &memoryDirectory{
		users: map[int64]org.User{
			1: {ID: 1, DisplayName: "Alice", IsActive: true},
			2: {ID: 2, DisplayName: "Bob", IsActive: true},
			3: {ID: 3, DisplayName: "Carol", IsActive: true},
			4: {ID: 4, DisplayName: "Dave", IsActive: true},
			5: {ID: 5, DisplayName: "Erin", IsActive: true},
		},
		groups: map[int64][]int64{
			10: {1, 2}, // claimer group
			20: {3, 4}, // approver group
		},
	}
}

func TestFirstApproversSpecificityOrder(t *testing.T) {
	repo := &memoryRuleRepo{rules: []Rule{
		{ID: 1, OfficeID: 1, Kind: KindFirst, TargetUserID: ptr(5)},                                      // unscoped fallback
		{ID: 2, OfficeID: 1, Kind: KindFirst, ScopeGroupID: ptr(10), TargetGroupID: ptr(20)},             // group scope
		{ID: 3, OfficeID: 1, Kind: KindFirst, ScopeUserID: ptr(1), TargetUserID: ptr(3)},                 // exact scope
		{ID: 4, OfficeID: 1, Kind: KindFirst, ScopeUserID: ptr(1), TargetUserID: ptr(3)},                 // duplicate target
	}}
	router := NewRouter(repo, testDirectory())
	ctx := context.Background()

	// Claimer 1 hits the exact rule; group and unscoped levels are ignored.
	approvers, err := router.FirstApprovers(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, approvers, 1)
	require.Equal(t, int64(3), approvers[0].ID)

	// Claimer 2 has no exact rule, falls to the group level and resolves
	// the approver group sorted by display name.
	approvers, err = router.FirstApprovers(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, approvers, 2)
	require.Equal(t, "Carol", approvers[0].DisplayName)
	require.Equal(t, "Dave", approvers[1].DisplayName)

	// Claimer 5 matches nothing scoped and falls to the unscoped rule.
	approvers, err = router.FirstApprovers(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, approvers, 1)
	require.Equal(t, int64(5), approvers[0].ID)
}

func TestAssistantsDirectAndGroupMatch(t *testing.T) {
	repo := &memoryRuleRepo{rules: []Rule{
		{ID: 1, OfficeID: 1, Kind: KindAssistant, ScopeUserID: ptr(3), TargetUserID: ptr(2)},
		{ID: 2, OfficeID: 1, Kind: KindAssistant, ScopeGroupID: ptr(20), TargetUserID: ptr(5)},
	}}
	router := NewRouter(repo, testDirectory())

	assistants, err := router.Assistants(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Len(t, assistants, 2) // direct rule plus group rule via group 20
	require.Equal(t, "Bob", assistants[0].DisplayName)
	require.Equal(t, "Erin", assistants[1].DisplayName)

	assistants, err = router.Assistants(context.Background(), 1, 4)
	require.NoError(t, err)
	require.Len(t, assistants, 1)
	require.Equal(t, int64(5), assistants[0].ID)
}

func TestNeedsSecondApproval(t *testing.T) {
	repo := &memoryRuleRepo{rules: []Rule{
		{ID: 1, OfficeID: 1, Kind: KindSecond, ScopeUserID: ptr(3), TargetUserID: ptr(5), MinAmount: dptr("500.00")},
	}}
	router := NewRouter(repo, testDirectory())
	ctx := context.Background()

	needs, err := router.NeedsSecondApproval(ctx, 1, 3, decimal.RequireFromString("499.99"))
	require.NoError(t, err)
	require.False(t, needs)

	needs, err = router.NeedsSecondApproval(ctx, 1, 3, decimal.RequireFromString("500.00"))
	require.NoError(t, err)
	require.True(t, needs)

	// No rules configured for this approver at all.
	needs, err = router.NeedsSecondApproval(ctx, 1, 4, decimal.RequireFromString("9999"))
	require.NoError(t, err)
	require.False(t, needs)
}

func TestNeedsSecondApprovalAbsentThresholdAlwaysRequired(t *testing.T) {
	repo := &memoryRuleRepo{rules: []Rule{
		{ID: 1, OfficeID: 1, Kind: KindSecond, ScopeUserID: ptr(3), TargetUserID: ptr(5)},
	}}
	router := NewRouter(repo, testDirectory())

	needs, err := router.NeedsSecondApproval(context.Background(), 1, 3, decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	require.True(t, needs)
}

func TestValidateApproverFirstStage(t *testing.T) {
	repo := &memoryRuleRepo{rules: []Rule{
		{ID: 1, OfficeID: 1, Kind: KindFirst, ScopeUserID: ptr(1), TargetUserID: ptr(3)},
		{ID: 2, OfficeID: 1, Kind: KindAssistant, ScopeUserID: ptr(3), TargetUserID: ptr(2)},
	}}
	router := NewRouter(repo, testDirectory())
	ctx := context.Background()
	amount := decimal.RequireFromString("100.00")

	// Acting approver equals the nominated approver.
	require.NoError(t, router.ValidateApprover(ctx, 1, 1, 3, 3, amount, true))

	// An assistant of the nominated approver may act.
	require.NoError(t, router.ValidateApprover(ctx, 1, 1, 3, 2, amount, true))

	// A stranger may not.
	err := router.ValidateApprover(ctx, 1, 1, 3, 5, amount, true)
	require.ErrorIs(t, err, ErrNotAuthorized)

	// Nominating someone outside the resolved first approvers fails.
	err = router.ValidateApprover(ctx, 1, 1, 4, 4, amount, true)
	require.ErrorIs(t, err, ErrInvalidNomination)
}

func TestValidateApproverSecondStageThreshold(t *testing.T) {
	repo := &memoryRuleRepo{rules: []Rule{
		{ID: 1, OfficeID: 1, Kind: KindSecond, ScopeUserID: ptr(3), TargetUserID: ptr(5), MinAmount: dptr("500.00")},
	}}
	router := NewRouter(repo, testDirectory())
	ctx := context.Background()

	require.NoError(t, router.ValidateApprover(ctx, 1, 1, 3, 5, decimal.RequireFromString("500.00"), false))

	err := router.ValidateApprover(ctx, 1, 1, 3, 5, decimal.RequireFromString("499.99"), false)
	var belowMin *BelowMinimumError
	require.True(t, errors.As(err, &belowMin))
	require.Equal(t, "500.00", belowMin.MinAmount.StringFixed(2))

	err = router.ValidateApprover(ctx, 1, 1, 3, 4, decimal.RequireFromString("600.00"), false)
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSecondApproversKeepLowestThreshold(t *testing.T) {
	repo := &memoryRuleRepo{rules: []Rule{
		{ID: 1, OfficeID: 1, Kind: KindSecond, ScopeUserID: ptr(3), TargetUserID: ptr(5), MinAmount: dptr("500.00")},
		{ID: 2, OfficeID: 1, Kind: KindSecond, ScopeGroupID: ptr(20), TargetUserID: ptr(5), MinAmount: dptr("200.00")},
	}}
	router := NewRouter(repo, testDirectory())

	seconds, err := router.SecondApprovers(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Len(t, seconds, 1)
	require.NotNil(t, seconds[0].MinAmount)
	require.Equal(t, "200.00", seconds[0].MinAmount.StringFixed(2))
}
