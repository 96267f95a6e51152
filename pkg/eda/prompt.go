package eda

import (
	"encoding/json"
	"fmt"

	"edaagent/pkg/domain"
)

// FusionScriptSystemPrompt describes the Fusion 360 electronics API conventions
// the stage-2 script must follow.
const FusionScriptSystemPrompt = `You are an expert in the Autodesk Fusion 360 Electronics Design Python API. Your task is to generate complete, runnable Python scripts that programmatically create schematics in Fusion 360.

CRITICAL REQUIREMENTS:
1. Import the necessary Fusion 360 API modules at the top
2. Use the correct API calls to add components, create nets, and connect pins
3. The script must be complete and executable when pasted into Fusion 360's script editor
4. Use proper error handling and API patterns

FUSION 360 API PATTERNS:
- Access the active design: adsk.core.Application.get().activeProduct
- Get the root component: design.rootComponent
- Add components: rootComponent.occurrences.addNewComponent()
- Create nets: design.netList.createNet(netName)
- Connect pins: net.connectPin(componentPin)

Generate ONLY the Python script code, no explanations or markdown formatting. The script should be ready to copy-paste and run.`

func buildNetlistPrompt(description string) string {
	return fmt.Sprintf(`You are an expert electrical engineer. Analyze the following circuit description and generate a complete, accurate netlist and bill of materials.

Circuit Description: %q

Generate a structured JSON response with:
1. A complete Bill of Materials (BOM) listing all components with their values, packages, and identifiers
2. A detailed pin-by-pin netlist showing all connections
3. Design for Manufacturability (DFM) notes and warnings

Be thorough and accurate. Include all necessary components, power supplies, and connections.`, description)
}

func buildScriptPrompt(description string, netlist *domain.StructuredNetlist) (string, error) {
	data, err := json.MarshalIndent(netlist, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode netlist context: %w", err)
	}
	return fmt.Sprintf(`Original User Request: %q

Structured Netlist Data:
%s

%s

Generate a complete Fusion 360 Python script that:
1. Creates all components from the BOM
2. Creates all nets from the netlist
3. Connects all pins according to the netlist connections
4. Is ready to run in Fusion 360's script editor

Return ONLY the Python code, no markdown, no explanations.`, description, data, FusionScriptSystemPrompt), nil
}
