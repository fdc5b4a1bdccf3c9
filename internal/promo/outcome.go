package promo

// Outcome reports a best-effort side effect. Callers may ignore it; the main
// operation has already succeeded when an Outcome is returned.
type Outcome struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Ok is the successful Outcome.
func Ok() Outcome { return Outcome{OK: true} }

// Failed builds a failed Outcome with a short reason.
func Failed(reason string) Outcome { return Outcome{Reason: reason} }

// Skipped reports that the side effect did not apply.
func Skipped(reason string) Outcome { return Outcome{OK: true, Reason: reason} }
