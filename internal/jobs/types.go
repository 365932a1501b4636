package jobs

type JobType string

const (
	// TypeLoanReceipt confirms a successful checkout to the borrower.
	TypeLoanReceipt JobType = "loan.receipt"
	// TypeLoanOverdueNotice nags a borrower whose loan slipped past due.
	TypeLoanOverdueNotice JobType = "loan.overdue_notice"
)

func (t JobType) IsValid() bool {
	switch t {
	case TypeLoanReceipt, TypeLoanOverdueNotice:
		return true
	default:
		return false
	}
}
