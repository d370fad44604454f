package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// Unsigned 64-bit amounts do not fit BIGINT, so they travel as NUMERIC(20)
// in text form: written through $n::text::numeric and read back as col::text.

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func choiceArray(totals [domain.ChoiceSlots]uint64) string {
	parts := make([]string, len(totals))
	for i, v := range totals {
		parts[i] = u64(v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// decoder accumulates the first conversion error while a row is mapped onto
// a record.
type decoder struct {
	err error
}

func (d *decoder) addr(b []byte) domain.Address {
	a, err := domain.AddressFromBytes(b)
	if err != nil && d.err == nil {
		d.err = err
	}
	return a
}

func (d *decoder) hash(b []byte) domain.Hash {
	var h domain.Hash
	if len(b) != len(h) {
		if d.err == nil {
			d.err = fmt.Errorf("hash length %d", len(b))
		}
		return h
	}
	copy(h[:], b)
	return h
}

func (d *decoder) u64(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("numeric %q: %w", s, err)
	}
	return v
}

func (d *decoder) choices(s string) [domain.ChoiceSlots]uint64 {
	var out [domain.ChoiceSlots]uint64
	body := strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	parts := strings.Split(body, ",")
	if len(parts) != domain.ChoiceSlots {
		if d.err == nil {
			d.err = fmt.Errorf("total_by_choice has %d slots", len(parts))
		}
		return out
	}
	for i, p := range parts {
		out[i] = d.u64(p)
	}
	return out
}
