package domain

import (
	"strings"
	"time"
)

const notAvailable = "N/A"

// Component is one BOM line. Package and Manufacturer are optional.
type Component struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Value        string `json:"value"`
	Package      string `json:"package,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

// DisplayPackage returns the package or "N/A" when absent.
func (c Component) DisplayPackage() string {
	return orNotAvailable(c.Package)
}

// DisplayManufacturer returns the manufacturer or "N/A" when absent.
func (c Component) DisplayManufacturer() string {
	return orNotAvailable(c.Manufacturer)
}

// Connection ties a component pin to a net. Component should name a BOM entry
// but this is not enforced.
type Connection struct {
	Component string `json:"component"`
	Pin       string `json:"pin"`
}

type Net struct {
	NetName     string       `json:"net_name"`
	Connections []Connection `json:"connections"`
}

type BOM struct {
	Components []Component `json:"components"`
}

type Netlist struct {
	Nets []Net `json:"nets"`
}

// StructuredNetlist is the stage-1 output: BOM, pin-by-pin netlist and DFM notes.
type StructuredNetlist struct {
	BOM      BOM      `json:"bom"`
	Netlist  Netlist  `json:"netlist"`
	DFMNotes []string `json:"dfm_notes"`
}

// Normalize replaces nil sequences with empty ones so the value always
// serializes with all fields present.
func (n *StructuredNetlist) Normalize() {
	if n.BOM.Components == nil {
		n.BOM.Components = []Component{}
	}
	if n.Netlist.Nets == nil {
		n.Netlist.Nets = []Net{}
	}
	for i := range n.Netlist.Nets {
		if n.Netlist.Nets[i].Connections == nil {
			n.Netlist.Nets[i].Connections = []Connection{}
		}
	}
	if n.DFMNotes == nil {
		n.DFMNotes = []string{}
	}
}

// Clone returns a deep copy.
func (n StructuredNetlist) Clone() StructuredNetlist {
	out := StructuredNetlist{
		BOM:      BOM{Components: cloneSlice(n.BOM.Components)},
		DFMNotes: cloneSlice(n.DFMNotes),
	}
	if n.Netlist.Nets != nil {
		out.Netlist.Nets = make([]Net, len(n.Netlist.Nets))
		for i, net := range n.Netlist.Nets {
			out.Netlist.Nets[i] = Net{
				NetName:     net.NetName,
				Connections: cloneSlice(net.Connections),
			}
		}
	}
	return out
}

// DesignDraft is the in-flight output of one pipeline run, before persistence.
type DesignDraft struct {
	Prompt            string            `json:"prompt"`
	StructuredNetlist StructuredNetlist `json:"structuredNetlist"`
	Script            string            `json:"script"`
}

// DesignRecord is a persisted, immutable pipeline result.
type DesignRecord struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	Prompt            string            `json:"prompt"`
	StructuredNetlist StructuredNetlist `json:"structuredNetlist"`
	Script            string            `json:"script"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Draft returns the generated content of the record.
func (r DesignRecord) Draft() DesignDraft {
	return DesignDraft{
		Prompt:            r.Prompt,
		StructuredNetlist: r.StructuredNetlist,
		Script:            r.Script,
	}
}

// Summary returns the prompt shortened for history listings.
func (r DesignRecord) Summary() string {
	return TruncatePrompt(r.Prompt, 60)
}

// TruncatePrompt shortens prompt to maxRunes runes, appending "..." when cut.
func TruncatePrompt(prompt string, maxRunes int) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "No prompt"
	}
	runes := []rune(prompt)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return prompt
	}
	return string(runes[:maxRunes]) + "..."
}

func orNotAvailable(v string) string {
	if strings.TrimSpace(v) == "" {
		return notAvailable
	}
	return v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
