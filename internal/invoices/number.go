package invoices

import (
	"fmt"
	"time"
)

// Number derives the display number from the creation instant: "INV-"
// followed by the last six digits of the unix millisecond timestamp.
func Number(t time.Time) string {
	return fmt.Sprintf("INV-%06d", t.UnixMilli()%1_000_000)
}
