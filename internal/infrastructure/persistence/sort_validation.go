package persistence

import (
	"strings"

	"gorm.io/gorm"

	"github.com/buildops/backend/internal/domain/shared"
)

// maxPageSize bounds list queries regardless of what the caller asks for
const maxPageSize = 200

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	if strings.ToUpper(strings.TrimSpace(orderDir)) == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField returns sortField when it is whitelisted, otherwise defaultField
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed != "" && allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// ContactSortFields contains allowed sort fields for contacts
var ContactSortFields = map[string]bool{
	"created_at":        true,
	"updated_at":        true,
	"name":              true,
	"email":             true,
	"sync_state":        true,
	"local_modified_at": true,
}

// InvoiceSortFields contains allowed sort fields for invoices
var InvoiceSortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"number":     true,
	"issue_date": true,
	"due_date":   true,
	"total":      true,
	"amount_due": true,
	"status":     true,
	"sync_state": true,
}

// PaymentSortFields contains allowed sort fields for payments
var PaymentSortFields = map[string]bool{
	"created_at": true,
	"date":       true,
	"amount":     true,
}

// applyPaging orders and paginates a query with a whitelisted sort column
func applyPaging(query *gorm.DB, filter shared.Filter, allowed map[string]bool, defaultField string) *gorm.DB {
	dir := ValidateSortOrder(filter.OrderDir)
	filter.Normalize(maxPageSize)
	orderBy := ValidateSortField(filter.OrderBy, allowed, defaultField)
	query = query.Order(orderBy + " " + dir)
	return query.Offset(filter.Offset()).Limit(filter.PageSize)
}

// likePattern escapes a user search term for a LIKE clause
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + strings.ToLower(r.Replace(strings.TrimSpace(search))) + "%"
}
