package lsp

import (
	"fmt"
	"net/url"
	"path/filepath"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/phobologic/rubydef/internal/discover"
	"github.com/phobologic/rubydef/internal/model"
)

// Methods handled by the server.
const (
	MethodInitialize                = "initialize"
	MethodInitialized               = "initialized"
	MethodShutdown                  = "shutdown"
	MethodExit                      = "exit"
	MethodDefinition                = "textDocument/definition"
	MethodDidOpen                   = "textDocument/didOpen"
	MethodDidChange                 = "textDocument/didChange"
	MethodDidSave                   = "textDocument/didSave"
	MethodDidClose                  = "textDocument/didClose"
	MethodPublishDiagnostics        = "textDocument/publishDiagnostics"
	MethodDidCreateFiles            = "workspace/didCreateFiles"
	MethodDidRenameFiles            = "workspace/didRenameFiles"
	MethodDidDeleteFiles            = "workspace/didDeleteFiles"
	MethodDidChangeWorkspaceFolders = "workspace/didChangeWorkspaceFolders"
)

// diagnosticSource names the server in published diagnostics.
const diagnosticSource = "rubydef"

func capabilities() protocol.ServerCapabilities {
	rubyFiles := &protocol.FileOperationRegistrationOptions{
		Filters: []protocol.FileOperationFilter{{
			Scheme: uri.FileScheme,
			Pattern: protocol.FileOperationPattern{
				Glob:    discover.DefaultInclude,
				Matches: protocol.FileOperationPatternKindFile,
			},
		}},
	}
	return protocol.ServerCapabilities{
		TextDocumentSync:   protocol.TextDocumentSyncKindFull,
		DefinitionProvider: true,
		Workspace: &protocol.ServerCapabilitiesWorkspace{
			WorkspaceFolders: &protocol.ServerCapabilitiesWorkspaceFolders{
				Supported:           true,
				ChangeNotifications: true,
			},
			FileOperations: &protocol.ServerCapabilitiesWorkspaceFileOperations{
				DidCreate: rubyFiles,
				DidRename: rubyFiles,
				DidDelete: rubyFiles,
			},
		},
	}
}

// uriToPath converts a file:// URI to a clean absolute path. Other schemes
// are rejected.
func uriToPath(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("bad uri %q: %w", s, err)
	}
	if u.Scheme != uri.FileScheme {
		return "", fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	if u.Path == "" {
		return "", fmt.Errorf("uri %q has no path", s)
	}
	return filepath.Clean(uri.URI(s).Filename()), nil
}

func toLocation(loc model.Location) protocol.Location {
	return protocol.Location{
		URI: uri.File(loc.File),
		Range: protocol.Range{
			Start: protocol.Position{Line: uint32(loc.Line), Character: uint32(loc.Column)},
			End:   protocol.Position{Line: uint32(loc.Line), Character: uint32(loc.Column + loc.Length)},
		},
	}
}

func toDiagnostics(diags []model.Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		pos := protocol.Position{Line: uint32(d.Line), Character: uint32(d.Column)}
		out = append(out, protocol.Diagnostic{
			Range:    protocol.Range{Start: pos, End: pos},
			Severity: protocol.DiagnosticSeverityError,
			Source:   diagnosticSource,
			Message:  d.Message,
		})
	}
	return out
}
