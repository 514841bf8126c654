package accounting

import "errors"

var (
	ErrContactNotFound = errors.New("accounting: contact not found")
	ErrInvoiceNotFound = errors.New("accounting: invoice not found")
	ErrPaymentNotFound = errors.New("accounting: payment not found")

	ErrInvalidTenantID      = errors.New("accounting: invalid tenant ID")
	ErrInvalidContactName   = errors.New("accounting: contact name is required")
	ErrInvalidContactKind   = errors.New("accounting: invalid contact kind")
	ErrInvalidEmail         = errors.New("accounting: invalid email address")
	ErrFieldTooLong         = errors.New("accounting: value too long")
	ErrInvalidInvoiceType   = errors.New("accounting: invalid invoice type")
	ErrInvalidInvoiceStatus = errors.New("accounting: invalid invoice status")
	ErrInvalidDates         = errors.New("accounting: due date is before issue date")
	ErrInvalidCurrency      = errors.New("accounting: invalid currency code")
	ErrInvalidLine          = errors.New("accounting: invalid invoice line")
	ErrInvoiceNotEditable   = errors.New("accounting: invoice can no longer be edited")
	ErrTenantMismatch       = errors.New("accounting: record belongs to another tenant")

	ErrInvalidAmount      = errors.New("accounting: amount must be positive")
	ErrOverpayment        = errors.New("accounting: payment exceeds amount due")
	ErrInvoiceNotPayable  = errors.New("accounting: invoice is not awaiting payment")
	ErrPaymentDeleted     = errors.New("accounting: payment already deleted")
	ErrInvalidPaymentDate = errors.New("accounting: payment date is required")
)
