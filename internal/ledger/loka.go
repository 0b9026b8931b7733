package ledger

// Loka is the realm assigned from net karma when a death event is processed.
type Loka string

const (
	LokaSwarga     Loka = "Swarga"
	LokaMrityuloka Loka = "Mrityuloka"
	LokaAntarloka  Loka = "Antarloka"
	LokaNaraka     Loka = "Naraka"
)

// AssignLoka maps net karma onto a realm.
func AssignLoka(netKarma float64) Loka {
	switch {
	case netKarma >= 500:
		return LokaSwarga
	case netKarma >= 0:
		return LokaMrityuloka
	case netKarma >= -200:
		return LokaAntarloka
	default:
		return LokaNaraka
	}
}
