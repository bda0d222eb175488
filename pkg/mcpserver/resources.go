package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/finding"
	"github.com/waftester/webfuzzer/pkg/jsonutil"
)

const (
	versionURI   = "webfuzzer://version"
	wordlistsURI = "webfuzzer://wordlists"
)

func (s *Server) registerResources() {
	s.addJSONResource(&mcp.Resource{
		URI:         versionURI,
		Name:        "Web Fuzzer Version",
		Description: "Server version, probe methods and severity tiers.",
		MIMEType:    defaults.ContentTypeJSON,
	}, func() any {
		return map[string]any{
			"name":       defaults.ToolName,
			"version":    defaults.Version,
			"methods":    defaults.Methods,
			"parameter":  defaults.FuzzParam,
			"severities": finding.Severities,
			"tools": []string{
				"start_scan", "stop_scan", "scan_status",
				"get_results", "analyze_dataset", "list_wordlists",
			},
		}
	})

	s.addJSONResource(&mcp.Resource{
		URI:         wordlistsURI,
		Name:        "Built-in Wordlists",
		Description: "Built-in payload wordlists with sizes and a sample payload each.",
		MIMEType:    defaults.ContentTypeJSON,
	}, func() any { return s.wordlists() })
}

func (s *Server) addJSONResource(res *mcp.Resource, content func() any) {
	uri, mime := res.URI, res.MIMEType
	s.mcp.AddResource(res, func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		data, err := jsonutil.MarshalIndent(content(), "  ")
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: uri, MIMEType: mime, Text: string(data)},
			},
		}, nil
	})
}
