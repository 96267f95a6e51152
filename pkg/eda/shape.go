package eda

import (
	"encoding/json"
	"fmt"
)

// Pointer fields separate an absent (or null) key from an empty value.
type netlistShape struct {
	BOM *struct {
		Components *[]componentShape `json:"components"`
	} `json:"bom"`
	Netlist *struct {
		Nets *[]netShape `json:"nets"`
	} `json:"netlist"`
	DFMNotes *[]string `json:"dfm_notes"`
}

type componentShape struct {
	Name  *string `json:"name"`
	Type  *string `json:"type"`
	Value *string `json:"value"`
}

type netShape struct {
	NetName     *string            `json:"net_name"`
	Connections *[]connectionShape `json:"connections"`
}

type connectionShape struct {
	Component *string `json:"component"`
	Pin       *string `json:"pin"`
}

// checkNetlistShape rejects a stage 1 document that lacks any field
// NetlistSchema marks required. Empty sequences are accepted.
func checkNetlistShape(doc []byte) error {
	var shape netlistShape
	if err := json.Unmarshal(doc, &shape); err != nil {
		return err
	}
	switch {
	case shape.BOM == nil:
		return missing("bom")
	case shape.BOM.Components == nil:
		return missing("bom.components")
	case shape.Netlist == nil:
		return missing("netlist")
	case shape.Netlist.Nets == nil:
		return missing("netlist.nets")
	case shape.DFMNotes == nil:
		return missing("dfm_notes")
	}
	for i, c := range *shape.BOM.Components {
		path := fmt.Sprintf("bom.components[%d]", i)
		switch {
		case c.Name == nil:
			return missing(path + ".name")
		case c.Type == nil:
			return missing(path + ".type")
		case c.Value == nil:
			return missing(path + ".value")
		}
	}
	for i, n := range *shape.Netlist.Nets {
		path := fmt.Sprintf("netlist.nets[%d]", i)
		switch {
		case n.NetName == nil:
			return missing(path + ".net_name")
		case n.Connections == nil:
			return missing(path + ".connections")
		}
		for j, conn := range *n.Connections {
			connPath := fmt.Sprintf("%s.connections[%d]", path, j)
			switch {
			case conn.Component == nil:
				return missing(connPath + ".component")
			case conn.Pin == nil:
				return missing(connPath + ".pin")
			}
		}
	}
	return nil
}

func missing(path string) error {
	return fmt.Errorf("netlist field %q is missing", path)
}
