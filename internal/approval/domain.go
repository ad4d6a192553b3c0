package approval

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleKind distinguishes the three approver mappings an office configures.
type RuleKind string

const (
	// KindFirst maps a claimer scope to the approvers who may take the
	// first approval.
	KindFirst RuleKind = "FIRST"
	// KindAssistant maps an approver scope to assistants allowed to act on
	// that approver's behalf during the first stage.
	KindAssistant RuleKind = "ASSISTANT"
	// KindSecond maps an approver scope to second approvers, each carrying
	// the minimum amount that makes the second stage mandatory.
	KindSecond RuleKind = "SECOND"
)

// Rule is one configured approver mapping. The scope side selects who the
// rule applies to (a claimer for KindFirst, an approver otherwise); the
// target side names the resulting approver or group. A nil MinAmount on a
// KindSecond rule means the second stage is always required.
type Rule struct {
	ID            int64
	OfficeID      int64
	Kind          RuleKind
	ScopeUserID   *int64
	ScopeGroupID  *int64
	TargetUserID  *int64
	TargetGroupID *int64
	MinAmount     *decimal.Decimal
	CreatedAt     time.Time
}

// Unscoped reports whether the rule applies regardless of scope.
func (r Rule) Unscoped() bool {
	return r.ScopeUserID == nil && r.ScopeGroupID == nil
}

// Approver is a resolved approver candidate.
type Approver struct {
	ID          int64
	DisplayName string
}

// SecondApprover is a resolved second approver with its threshold.
type SecondApprover struct {
	Approver
	MinAmount *decimal.Decimal
}
