package catalog

import (
	"encoding/json"
	"strings"
)

// nodeNamespacePrefix is stripped from node type strings when deriving the
// integrated-service list.
const nodeNamespacePrefix = "n8n-nodes-base."

// structuralNodeTypes are editor plumbing, not integrated services.
var structuralNodeTypes = map[string]bool{
	"stickyNote": true,
	"start":      true,
	"noOp":       true,
	"set":        true,
	"merge":      true,
	"if":         true,
	"switch":     true,
}

// Features are the display fields derived from a workflow document.
type Features struct {
	StepCount int      `json:"stepCount"`
	Services  []string `json:"services"`
}

// ExtractFeatures parses a workflow document and derives the step count and
// the deduplicated integrated-service list from its node type tags. A
// missing or malformed document degrades to zero values; it is never an
// error.
func ExtractFeatures(workflowJSON string) Features {
	f := Features{Services: []string{}}
	if strings.TrimSpace(workflowJSON) == "" {
		return f
	}

	var doc struct {
		Nodes []struct {
			Type string `json:"type"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(workflowJSON), &doc); err != nil {
		return f
	}

	f.StepCount = len(doc.Nodes)

	seen := make(map[string]bool)
	for _, node := range doc.Nodes {
		service := strings.TrimPrefix(node.Type, nodeNamespacePrefix)
		if service == "" || structuralNodeTypes[service] || seen[service] {
			continue
		}
		seen[service] = true
		f.Services = append(f.Services, service)
	}
	return f
}
