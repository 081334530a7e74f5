// Package transformer projects raw certificate rows onto domain.Record.
//
// ParseRow is pure: no I/O, no trimming, no type coercion. Date and numeric
// validity is left to the store.
package transformer

import "epcloader/internal/domain"

// Source column names read from certificates.csv.
const (
	ColLMKKey          = "LMK_KEY"
	ColLodgementDate   = "LODGEMENT_DATE"
	ColTransactionType = "TRANSACTION_TYPE"
	ColTotalFloorArea  = "TOTAL_FLOOR_AREA"
	ColAddress         = "ADDRESS"
	ColPostcode        = "POSTCODE"
)

// RequiredColumns lists every header a row must carry to become a Record.
var RequiredColumns = []string{
	ColLMKKey,
	ColLodgementDate,
	ColTransactionType,
	ColTotalFloorArea,
	ColAddress,
	ColPostcode,
}

// ParseRow extracts the six record fields from row. It reports false when any
// required key is absent. A present key with an empty value still counts.
func ParseRow(row domain.RawRow) (domain.Record, bool) {
	var rec domain.Record
	for _, f := range []struct {
		col string
		dst *string
	}{
		{ColLMKKey, &rec.LMKKey},
		{ColLodgementDate, &rec.LodgementDate},
		{ColTransactionType, &rec.TransactionType},
		{ColTotalFloorArea, &rec.TotalFloorArea},
		{ColAddress, &rec.Address},
		{ColPostcode, &rec.Postcode},
	} {
		v, ok := row[f.col]
		if !ok {
			return domain.Record{}, false
		}
		*f.dst = v
	}
	return rec, true
}

// MissingColumns lists the required columns absent from row, in
// RequiredColumns order. It is empty exactly when ParseRow succeeds.
func MissingColumns(row domain.RawRow) []string {
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := row[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}
