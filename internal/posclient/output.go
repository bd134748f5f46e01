package posclient

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

type printer struct {
	format string
	w      io.Writer
}

// emit writes v as indented JSON, or calls text with a tab-aligned writer.
func (p printer) emit(v any, text func(w io.Writer)) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func (p printer) done(v any, format string, args ...any) error {
	return p.emit(v, func(w io.Writer) {
		fmt.Fprintf(w, format+"\n", args...)
	})
}

func rupiah(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	out := make([]byte, 0, len(digits)+len(digits)/3)
	for i := range len(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, digits[i])
	}
	return sign + "Rp" + string(out)
}
