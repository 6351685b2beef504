package lock

// Mode is a multi-granularity lock mode. Ordinals match
// transaction.Transaction.TableLockSet's mode index.
type Mode int

const (
	IntentionShared Mode = iota
	IntentionExclusive
	Shared
	SharedIntentionExclusive
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case Shared:
		return "S"
	case SharedIntentionExclusive:
		return "SIX"
	case Exclusive:
		return "X"
	default:
		return "?"
	}
}

// compatible[a][b] reports whether a transaction holding a may coexist with
// another transaction requesting b, per the standard multi-granularity
// compatibility matrix (spec §4.5).
var compatible = [5][5]bool{
	IntentionShared:          {true, true, true, true, false},
	IntentionExclusive:       {true, true, false, false, false},
	Shared:                   {true, false, true, false, false},
	SharedIntentionExclusive: {true, false, false, false, false},
	Exclusive:                {false, false, false, false, false},
}

func compatibleWith(held, requested Mode) bool { return compatible[held][requested] }

func compatibleWithAll(requested Mode, held []Mode) bool {
	for _, h := range held {
		if !compatibleWith(h, requested) {
			return false
		}
	}
	return true
}

// upgradeAllowed[from][to] reports whether a held lock of mode from may be
// upgraded directly to mode to. Upgrading to the same mode is not an
// upgrade at all and is handled separately by the caller.
var upgradeAllowed = map[[2]Mode]bool{
	{IntentionShared, Shared}:                   true,
	{IntentionShared, Exclusive}:                true,
	{IntentionShared, IntentionExclusive}:        true,
	{IntentionShared, SharedIntentionExclusive}:  true,
	{Shared, Exclusive}:                          true,
	{Shared, SharedIntentionExclusive}:           true,
	{IntentionExclusive, Exclusive}:              true,
	{IntentionExclusive, SharedIntentionExclusive}: true,
	{SharedIntentionExclusive, Exclusive}:        true,
}

func canUpgrade(from, to Mode) bool { return upgradeAllowed[[2]Mode{from, to}] }
