package withdrawal

// FeePolicy computes the fee withheld from a completed withdrawal. The
// schedule is deliberately pluggable; nothing in the ledger guesses a
// percentage.
type FeePolicy interface {
	Fee(amount int64) int64
}

// ConfiguredFee is a flat-plus-percent schedule loaded from configuration.
// The zero value charges nothing.
type ConfiguredFee struct {
	Flat    int64
	Percent int
}

// Fee implements FeePolicy, capped at the withdrawn amount.
func (f ConfiguredFee) Fee(amount int64) int64 {
	fee := f.Flat + amount*int64(f.Percent)/100
	if fee < 0 {
		return 0
	}
	if fee > amount {
		return amount
	}
	return fee
}
