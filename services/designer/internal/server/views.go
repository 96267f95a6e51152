package server

import (
	"time"

	"edaagent/pkg/domain"
	"edaagent/pkg/pipeline"
)

type bomRow struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Value        string `json:"value"`
	Package      string `json:"package"`
	Manufacturer string `json:"manufacturer"`
}

// sessionView is the JSON shape of a caller's current run.
type sessionView struct {
	Status            string                    `json:"status"`
	Step              int                       `json:"step"`
	Loading           bool                      `json:"loading"`
	Stage             string                    `json:"stage,omitempty"`
	Description       string                    `json:"description,omitempty"`
	StructuredNetlist *domain.StructuredNetlist `json:"structuredNetlist,omitempty"`
	BOMRows           []bomRow                  `json:"bomRows,omitempty"`
	Script            string                    `json:"script,omitempty"`
	RecordID          string                    `json:"recordId,omitempty"`
	Saving            bool                      `json:"saving,omitempty"`
	FromHistory       bool                      `json:"fromHistory,omitempty"`
	Error             string                    `json:"error,omitempty"`
	PersistError      string                    `json:"persistError,omitempty"`
	Warnings          []string                  `json:"warnings,omitempty"`
}

type errorWithSession struct {
	Error   string      `json:"error"`
	Session sessionView `json:"session"`
}

func newSessionView(state pipeline.State) sessionView {
	view := sessionView{
		Status:  state.Kind(),
		Step:    int(state.Step()),
		Loading: pipeline.Loading(state),
	}
	switch s := state.(type) {
	case pipeline.Running:
		view.Stage = s.Stage.String()
		view.Description = s.Description
		view.setNetlist(s.Netlist)
		view.Warnings = s.Warnings
	case pipeline.Complete:
		netlist := s.Draft.StructuredNetlist
		view.Description = s.Draft.Prompt
		view.setNetlist(&netlist)
		view.Script = s.Draft.Script
		view.RecordID = s.RecordID
		view.Saving = s.Saving
		view.FromHistory = s.FromHistory
		if s.PersistErr != nil {
			view.PersistError = s.PersistErr.Error()
		}
		view.Warnings = s.Warnings
	case pipeline.Failed:
		view.Stage = s.Stage.String()
		view.Description = s.Description
		view.setNetlist(s.Netlist)
		view.Error = s.Message()
		view.Warnings = s.Warnings
	}
	return view
}

func (v *sessionView) setNetlist(n *domain.StructuredNetlist) {
	if n == nil {
		return
	}
	netlist := n.Clone()
	netlist.Normalize()
	v.StructuredNetlist = &netlist
	v.BOMRows = make([]bomRow, 0, len(netlist.BOM.Components))
	for _, c := range netlist.BOM.Components {
		v.BOMRows = append(v.BOMRows, bomRow{
			Name:         c.Name,
			Type:         c.Type,
			Value:        c.Value,
			Package:      c.DisplayPackage(),
			Manufacturer: c.DisplayManufacturer(),
		})
	}
}

type historyItem struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
}

func newHistoryItems(recs []domain.DesignRecord) []historyItem {
	items := make([]historyItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, historyItem{
			ID:        rec.ID,
			Summary:   rec.Summary(),
			Prompt:    rec.Prompt,
			CreatedAt: rec.CreatedAt,
		})
	}
	return items
}

type designView struct {
	domain.DesignRecord
	Summary string   `json:"summary"`
	BOMRows []bomRow `json:"bomRows"`
}

func newDesignView(rec domain.DesignRecord) designView {
	var tmp sessionView
	tmp.setNetlist(&rec.StructuredNetlist)
	rec.StructuredNetlist = *tmp.StructuredNetlist
	return designView{DesignRecord: rec, Summary: rec.Summary(), BOMRows: tmp.BOMRows}
}
