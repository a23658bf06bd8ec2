// Package validation holds business rules applied to freshly extracted records.
package validation

import (
	"math"
	"reflect"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

// TotalAmountTolerance is the largest accepted gap between the line subtotals
// and the stated total excluding VAT.
const TotalAmountTolerance = 0.01

// Validate decides the initial status of a record: needs_review when its
// lines do not add up to the stated total excluding VAT, to_accept otherwise.
// Malformed input degrades to needs_review.
func Validate(record domain.LineTotaler) domain.RecordStatus {
	if isNil(record) {
		return domain.RecordNeedsReview
	}

	total := record.ExclVATTotal()
	if !finite(total) {
		return domain.RecordNeedsReview
	}

	var sum float64
	for _, subtotal := range record.LineSubtotals() {
		if !finite(subtotal) {
			continue
		}
		sum += subtotal
	}

	if math.Abs(sum-total) > TotalAmountTolerance {
		return domain.RecordNeedsReview
	}
	return domain.RecordToAccept
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// isNil catches typed nil pointers hidden in the interface.
func isNil(record domain.LineTotaler) bool {
	if record == nil {
		return true
	}
	v := reflect.ValueOf(record)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
