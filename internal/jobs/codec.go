package jobs

import (
	"encoding/json"
	"fmt"
)

// DecodePayload unmarshals a raw job payload into the typed struct for its
// job type.
func DecodePayload(t JobType, raw []byte) (any, error) {
	if !t.IsValid() {
		return nil, ErrInvalidJobType
	}
	if len(raw) == 0 {
		return nil, ErrInvalidJobPayload
	}

	switch t {
	case TypeLoanReceipt:
		var p LoanReceiptPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		if p.LoanID == "" || p.UserID == "" {
			return nil, ErrInvalidJobPayload
		}
		return p, nil

	case TypeLoanOverdueNotice:
		var p LoanOverdueNoticePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		if p.LoanID == "" || p.UserID == "" {
			return nil, ErrInvalidJobPayload
		}
		return p, nil

	default:
		return nil, ErrInvalidJobType
	}
}
