package gate

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"First Name", "Last Name", "Email", "Cellphone", "Event ID",
	"Payment Confirmed", "Payment Verification", "Registered At", "Confirmed At",
}

// WriteCSV writes the registrant export. Confirmation tokens and their hashes
// are never part of a row.
func WriteCSV(w io.Writer, rows []RegistrationRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		confirmed := "No"
		if r.PaymentConfirmed {
			confirmed = "Yes"
		}
		confirmedAt := ""
		if r.ConfirmedAt != nil {
			confirmedAt = r.ConfirmedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			csvSafe(r.FirstName),
			csvSafe(r.LastName),
			csvSafe(r.Email),
			csvSafe(r.Phone),
			strconv.FormatInt(r.EventID, 10),
			confirmed,
			r.PaymentVerification,
			r.CreatedAt.UTC().Format(time.RFC3339),
			confirmedAt,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// csvSafe neutralises cells a spreadsheet would evaluate as a formula.
func csvSafe(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
