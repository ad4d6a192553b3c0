package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/meridian-oa/meridian-oa/internal/org"
)

var (
	// ErrNotAuthorized indicates the acting approver holds no authority for
	// the requested stage.
	ErrNotAuthorized = errors.New("approval: acting approver not authorized")

	// ErrInvalidNomination indicates the nominated approver does not
	// resolve as a first approver for the claimer.
	ErrInvalidNomination = errors.New("approval: nominated approver not valid for claimer")
)

// BelowMinimumError reports a second approval attempted under the acting
// approver's configured threshold.
type BelowMinimumError struct {
	Amount    decimal.Decimal
	MinAmount decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("approval: amount %s below second-approval minimum %s",
		e.Amount.StringFixed(2), e.MinAmount.StringFixed(2))
}

// Router resolves approver rules against the user directory.
type Router struct {
	repo Repository
	dir  org.Directory
}

// NewRouter constructs a Router.
func NewRouter(repo Repository, dir org.Directory) *Router {
	return &Router{repo: repo, dir: dir}
}

// FirstApprovers returns the valid first approvers for a claimer, resolved
// in specificity order: rules naming the claimer, else rules naming a group
// containing the claimer, else unscoped rules. The first level yielding any
// approvers wins.
func (r *Router) FirstApprovers(ctx context.Context, officeID, claimerID int64) ([]Approver, error) {
	rules, err := r.repo.ListRules(ctx, officeID, KindFirst)
	if err != nil {
		return nil, err
	}

	levels := []func(Rule) (bool, error){
		func(rule Rule) (bool, error) {
			return rule.ScopeUserID != nil && *rule.ScopeUserID == claimerID, nil
		},
		func(rule Rule) (bool, error) {
			if rule.ScopeGroupID == nil {
				return false, nil
			}
			return r.dir.IsGroupMember(ctx, *rule.ScopeGroupID, claimerID)
		},
		func(rule Rule) (bool, error) {
			return rule.Unscoped(), nil
		},
	}

	for _, match := range levels {
		var matched []Rule
		for _, rule := range rules {
			ok, err := match(rule)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, rule)
			}
		}
		approvers, err := r.resolveTargets(ctx, matched)
		if err != nil {
			return nil, err
		}
		if len(approvers) > 0 {
			return approvers, nil
		}
	}
	return nil, nil
}

// Assistants returns the assistants allowed to act for an approver during
// the first stage, via direct and group scope matches.
func (r *Router) Assistants(ctx context.Context, officeID, approverID int64) ([]Approver, error) {
	matched, err := r.rulesForApprover(ctx, officeID, KindAssistant, approverID)
	if err != nil {
		return nil, err
	}
	return r.resolveTargets(ctx, matched)
}

// SecondApprovers returns the second approvers for an approver together
// with each entry's minimum-amount threshold. When a second approver is
// reachable through several rules the lowest threshold applies; an absent
// threshold means the stage is always available.
func (r *Router) SecondApprovers(ctx context.Context, officeID, approverID int64) ([]SecondApprover, error) {
	matched, err := r.rulesForApprover(ctx, officeID, KindSecond, approverID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*SecondApprover)
	var order []int64
	for _, rule := range matched {
		targets, err := r.resolveTargets(ctx, []Rule{rule})
		if err != nil {
			return nil, err
		}
		for _, target := range targets {
			existing, ok := byID[target.ID]
			if !ok {
				sa := &SecondApprover{Approver: target}
				if rule.MinAmount != nil {
					min := *rule.MinAmount
					sa.MinAmount = &min
				}
				byID[target.ID] = sa
				order = append(order, target.ID)
				continue
			}
			if existing.MinAmount == nil {
				continue
			}
			if rule.MinAmount == nil || rule.MinAmount.LessThan(*existing.MinAmount) {
				existing.MinAmount = rule.MinAmount
			}
		}
	}

	out := make([]SecondApprover, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// NeedsSecondApproval reports whether any second-approver rule makes the
// second stage mandatory for the given amount.
func (r *Router) NeedsSecondApproval(ctx context.Context, officeID, approverID int64, amount decimal.Decimal) (bool, error) {
	seconds, err := r.SecondApprovers(ctx, officeID, approverID)
	if err != nil {
		return false, err
	}
	for _, sa := range seconds {
		if sa.MinAmount == nil || sa.MinAmount.LessThanOrEqual(amount) {
			return true, nil
		}
	}
	return false, nil
}

// ValidateApprover checks whether the acting approver may take the given
// stage for a document nominating nominatedID as approver.
func (r *Router) ValidateApprover(ctx context.Context, officeID, claimerID, nominatedID, actingID int64, amount decimal.Decimal, firstStage bool) error {
	if firstStage {
		firsts, err := r.FirstApprovers(ctx, officeID, claimerID)
		if err != nil {
			return err
		}
		if !containsApprover(firsts, nominatedID) {
			return ErrInvalidNomination
		}
		if actingID == nominatedID {
			return nil
		}
		assistants, err := r.Assistants(ctx, officeID, nominatedID)
		if err != nil {
			return err
		}
		if containsApprover(assistants, actingID) {
			return nil
		}
		return ErrNotAuthorized
	}

	seconds, err := r.SecondApprovers(ctx, officeID, nominatedID)
	if err != nil {
		return err
	}
	for _, sa := range seconds {
		if sa.ID != actingID {
			continue
		}
		if sa.MinAmount != nil && amount.LessThan(*sa.MinAmount) {
			return &BelowMinimumError{Amount: amount, MinAmount: *sa.MinAmount}
		}
		return nil
	}
	return ErrNotAuthorized
}

func (r *Router) rulesForApprover(ctx context.Context, officeID int64, kind RuleKind, approverID int64) ([]Rule, error) {
	rules, err := r.repo.ListRules(ctx, officeID, kind)
	if err != nil {
		return nil, err
	}
	var matched []Rule
	for _, rule := range rules {
		if rule.ScopeUserID != nil && *rule.ScopeUserID == approverID {
			matched = append(matched, rule)
			continue
		}
		if rule.ScopeGroupID != nil {
			ok, err := r.dir.IsGroupMember(ctx, *rule.ScopeGroupID, approverID)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, rule)
			}
		}
	}
	return matched, nil
}

// resolveTargets expands rule targets to users, de-duplicates and sorts by
// display name.
func (r *Router) resolveTargets(ctx context.Context, rules []Rule) ([]Approver, error) {
	seen := make(map[int64]bool)
	var out []Approver
	add := func(u org.User) {
		if !u.IsActive || seen[u.ID] {
			return
		}
		seen[u.ID] = true
		out = append(out, Approver{ID: u.ID, DisplayName: u.DisplayName})
	}
	for _, rule := range rules {
		if rule.TargetUserID != nil {
			user, err := r.dir.GetUser(ctx, *rule.TargetUserID)
			if err != nil {
				if errors.Is(err, org.ErrNotFound) {
					continue
				}
				return nil, err
			}
			add(user)
		}
		if rule.TargetGroupID != nil {
			members, err := r.dir.GroupMembers(ctx, *rule.TargetGroupID)
			if err != nil {
				return nil, err
			}
			for _, member := range members {
				add(member)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func containsApprover(list []Approver, id int64) bool {
	for _, a := range list {
		if a.ID == id {
			return true
		}
	}
	return false
}
