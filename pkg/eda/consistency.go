package eda

import (
	"fmt"
	"strings"

	"edaagent/pkg/domain"
)

// CheckConsistency reports data-quality warnings in a generated netlist:
// duplicate component names, nets without connections and connections that
// reference components missing from the BOM. Warnings never fail a run.
func CheckConsistency(netlist domain.StructuredNetlist) []string {
	var warnings []string
	known := make(map[string]int, len(netlist.BOM.Components))
	for _, c := range netlist.BOM.Components {
		name := strings.TrimSpace(c.Name)
		known[name]++
		if known[name] == 2 {
			warnings = append(warnings, fmt.Sprintf("component %q appears more than once in the BOM", name))
		}
	}
	for _, net := range netlist.Netlist.Nets {
		if len(net.Connections) == 0 {
			warnings = append(warnings, fmt.Sprintf("net %q has no connections", net.NetName))
			continue
		}
		for _, conn := range net.Connections {
			if _, ok := known[strings.TrimSpace(conn.Component)]; !ok {
				warnings = append(warnings, fmt.Sprintf("net %q references unknown component %q (pin %s)", net.NetName, conn.Component, conn.Pin))
			}
		}
	}
	return warnings
}
