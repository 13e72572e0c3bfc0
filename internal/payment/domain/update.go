package domain

import "time"

// TransactionUpdate is a partial update: nil fields are left untouched.
type TransactionUpdate struct {
	Status        *Status
	PaymentMethod *string
	Bank          *string
	Wallet        *string
	VPA           *string
	Fee           *int64
	Tax           *int64
	Signature     *string
}

// Columns maps the supplied fields onto column assignments. updated_at is
// always refreshed.
func (u TransactionUpdate) Columns(now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now}
	if u.Status != nil {
		cols["status"] = string(*u.Status)
	}
	if u.PaymentMethod != nil {
		cols["payment_method"] = *u.PaymentMethod
	}
	if u.Bank != nil {
		cols["bank"] = *u.Bank
	}
	if u.Wallet != nil {
		cols["wallet"] = *u.Wallet
	}
	if u.VPA != nil {
		cols["vpa"] = *u.VPA
	}
	if u.Fee != nil {
		cols["fee"] = *u.Fee
	}
	if u.Tax != nil {
		cols["tax"] = *u.Tax
	}
	if u.Signature != nil {
		cols["gateway_signature"] = *u.Signature
	}
	return cols
}

func (u TransactionUpdate) Empty() bool {
	return len(u.Columns(time.Time{})) == 1
}

// UpdateFromPayment builds the update carrying the instrument details the
// gateway reported. Empty strings are skipped so a sparse event does not
// erase details an earlier one recorded.
func UpdateFromPayment(p GatewayPayment) TransactionUpdate {
	var update TransactionUpdate
	if status, ok := StatusFromGateway(p.Status); ok {
		update.Status = &status
	}
	update.PaymentMethod = nonEmpty(p.Method)
	update.Bank = nonEmpty(p.Bank)
	update.Wallet = nonEmpty(p.Wallet)
	update.VPA = nonEmpty(p.VPA)
	if p.Fee != nil {
		fee := *p.Fee
		update.Fee = &fee
	}
	if p.Tax != nil {
		tax := *p.Tax
		update.Tax = &tax
	}
	return update
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
