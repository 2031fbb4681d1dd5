package schema

import (
	"sort"

	"github.com/go-faster/jx"
	"github.com/samber/lo"
)

type DiagnosticLevel string

const (
	DiagInfo  DiagnosticLevel = "info"
	DiagWarn  DiagnosticLevel = "warn"
	DiagError DiagnosticLevel = "error"
)

// Diagnostic is one reason a unit has not finalized.
type Diagnostic struct {
	Level   DiagnosticLevel
	Message string
	Subject string
}

func hasErrors(diags []Diagnostic) bool {
	return lo.ContainsBy(diags, func(d Diagnostic) bool { return d.Level == DiagError })
}

// UnitReport describes one pending unit.
type UnitReport struct {
	Key         string
	Package     string
	Members     []string
	Diagnostics []Diagnostic
}

// Report lists every unit that has not finalized.
type Report struct {
	Units []UnitReport
}

func (r Report) Empty() bool { return len(r.Units) == 0 }

// Pending reports every pending unit and what it waits for.
func (c *Context) Pending() Report {
	keys := lo.Keys(c.pending)
	sort.Strings(keys)
	r := Report{Units: make([]UnitReport, 0, len(keys))}
	for _, key := range keys {
		u := c.pending[key]
		r.Units = append(r.Units, UnitReport{
			Key:         u.Key,
			Package:     u.Package,
			Members:     u.paths(),
			Diagnostics: u.diagnostics(),
		})
	}
	return r
}

func (r Report) MarshalJX(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("units")
	e.ArrStart()
	for i := range r.Units {
		r.Units[i].marshalJX(e)
	}
	e.ArrEnd()
	e.ObjEnd()
}

func (u *UnitReport) marshalJX(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("key")
	e.Str(u.Key)
	if u.Package != "" {
		e.FieldStart("package")
		e.Str(u.Package)
	}
	if len(u.Members) > 0 {
		e.FieldStart("members")
		e.ArrStart()
		for _, m := range u.Members {
			e.Str(m)
		}
		e.ArrEnd()
	}
	e.FieldStart("diagnostics")
	e.ArrStart()
	for _, d := range u.Diagnostics {
		e.ObjStart()
		e.FieldStart("level")
		e.Str(string(d.Level))
		e.FieldStart("subject")
		e.Str(d.Subject)
		e.FieldStart("message")
		e.Str(d.Message)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// MarshalJSON encodes the report with jx.
func (r Report) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	r.MarshalJX(&e)
	return e.Bytes(), nil
}

func (r Report) String() string {
	b, _ := r.MarshalJSON()
	return string(b)
}
