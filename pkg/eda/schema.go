package eda

// NetlistSchema returns the response-shape constraint sent with stage 1.
// Every call builds a fresh value; callers may mutate the result.
func NetlistSchema() map[string]any {
	return object(
		"",
		map[string]any{
			"bom": object(
				"Bill of Materials - all components needed for the circuit",
				map[string]any{
					"components": array("", object("", map[string]any{
						"name":         str(`Component name (e.g., "R1", "C1", "U1")`),
						"type":         str(`Component type (e.g., "Resistor", "Capacitor", "IC")`),
						"value":        str(`Component value (e.g., "10k", "100uF", "555")`),
						"package":      str(`Package type (e.g., "0805", "DIP-8", "TO-92")`),
						"manufacturer": str("Manufacturer part number or generic identifier"),
					}, "name", "type", "value")),
				},
				"components",
			),
			"netlist": object(
				"Pin-by-pin netlist connections",
				map[string]any{
					"nets": array("", object("", map[string]any{
						"net_name": str(`Net name (e.g., "VCC", "GND", "OUTPUT")`),
						"connections": array("", object("", map[string]any{
							"component": str(`Component name (e.g., "R1")`),
							"pin":       str(`Pin name or number (e.g., "1", "VCC", "OUT")`),
						}, "component", "pin")),
					}, "net_name", "connections")),
				},
				"nets",
			),
			"dfm_notes": array("Design for Manufacturability notes and warnings", map[string]any{"type": "string"}),
		},
		"bom", "netlist", "dfm_notes",
	)
}

func object(description string, properties map[string]any, required ...string) map[string]any {
	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if description != "" {
		out["description"] = description
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func array(description string, items map[string]any) map[string]any {
	out := map[string]any{
		"type":  "array",
		"items": items,
	}
	if description != "" {
		out["description"] = description
	}
	return out
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
