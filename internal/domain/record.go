package domain

// RawRow is one data line of the certificates CSV keyed by header name.
// Only the cells present on the line are set.
type RawRow map[string]string

// business object for one energy performance certificate.
type Record struct {
	LMKKey          string
	LodgementDate   string
	TransactionType string
	TotalFloorArea  string
	Address         string
	Postcode        string
}

// Values returns the record in Columns order, ready to bind to an INSERT.
func (r Record) Values() []any {
	return []any{
		r.LMKKey,
		r.LodgementDate,
		r.TransactionType,
		r.TotalFloorArea,
		r.Address,
		r.Postcode,
	}
}

// Table is the destination table for certificate records.
const Table = "epc"

// Columns lists the destination columns in INSERT order. lmk_key is the
// natural key.
var Columns = []string{
	"lmk_key",
	"lodgement_date",
	"transaction_type",
	"total_floor_area",
	"address",
	"postcode",
}
