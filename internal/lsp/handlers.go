package lsp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/phobologic/rubydef/internal/lang"
	"github.com/phobologic/rubydef/internal/model"
	"github.com/phobologic/rubydef/internal/resolve"
	"github.com/phobologic/rubydef/internal/watch"
)

const serverName = "rubydef"

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return jsonrpc2.NewError(jsonrpc2.InvalidParams, "missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return jsonrpc2.Errorf(jsonrpc2.InvalidParams, "invalid params: %v", err)
	}
	return nil
}

func (s *Server) initialize(ctx context.Context, raw json.RawMessage) (any, error) {
	var params protocol.InitializeParams
	if len(raw) > 0 {
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
	}
	s.state = Initializing

	roots, err := s.resolveRoots(params)
	if err != nil {
		s.fatal = &WorkspaceError{Err: err}
		s.log.Error("cannot establish workspace", "err", err)
		return nil, s.fatal
	}
	if err := s.Open(ctx, roots); err != nil {
		return nil, jsonrpc2.Errorf(jsonrpc2.InternalError, "%v", err)
	}
	if s.opts.Watch {
		s.startWatcher()
	}

	return protocol.InitializeResult{
		Capabilities: capabilities(),
		ServerInfo:   &protocol.ServerInfo{Name: serverName, Version: s.opts.Version},
	}, nil
}

// Open sets the workspace roots and indexes them. initialize calls it; the
// one-shot definition command calls it without a client.
func (s *Server) Open(ctx context.Context, roots []string) error {
	s.roots = roots
	stats, err := s.builder.IndexRoots(ctx, roots)
	if err != nil {
		return err
	}
	idx := s.builder.Index().Stats()
	s.log.Info("workspace indexed",
		"roots", roots,
		"files", idx.Files,
		"names", idx.Names,
		"unchanged", stats.Unchanged,
		"skipped", stats.Skipped,
	)
	return nil
}

// resolveRoots picks the workspace roots: the file:// workspace folders,
// else rootUri, else the working directory.
func (s *Server) resolveRoots(params protocol.InitializeParams) ([]string, error) {
	var roots []string
	for _, f := range params.WorkspaceFolders {
		if root, ok := s.folderRoot(f.URI); ok && !slices.Contains(roots, root) {
			roots = append(roots, root)
		}
	}
	if len(roots) > 0 {
		return roots, nil
	}

	if params.RootURI != "" {
		if root, ok := s.folderRoot(string(params.RootURI)); ok {
			return []string{root}, nil
		}
	}

	wd, err := s.opts.Getwd()
	if err != nil {
		return nil, fmt.Errorf("no workspace folder and no working directory: %w", err)
	}
	return []string{wd}, nil
}

func (s *Server) folderRoot(folderURI string) (string, bool) {
	path, err := uriToPath(folderURI)
	if err != nil {
		s.log.Warn("skipping workspace folder", "uri", folderURI, "err", err)
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		s.log.Warn("skipping workspace folder", "path", path, "err", err)
		return "", false
	}
	return path, true
}

func (s *Server) startWatcher() {
	w, err := watch.New(s.opts.QueueSize, s.log)
	if err != nil {
		s.log.Warn("file watching disabled", "err", err)
		return
	}
	for _, root := range s.roots {
		if err := w.Add(root); err != nil {
			s.log.Warn("cannot watch root", "root", root, "err", err)
		}
	}
	s.watcher = w
}

func (s *Server) definition(raw json.RawMessage) (any, error) {
	var params protocol.DefinitionParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	path, err := uriToPath(string(params.TextDocument.URI))
	if err != nil {
		return nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error())
	}

	locs := s.Definition(path, int(params.Position.Line), int(params.Position.Character))
	out := make([]protocol.Location, 0, len(locs))
	for _, loc := range locs {
		out = append(out, toLocation(loc))
	}
	return out, nil
}

// Definition resolves the constant at the 0-based position in path. A
// declaration resolves to every declaration of the same qualified name.
func (s *Server) Definition(path string, line, column int) []model.Location {
	occ, ok := s.builder.Index().OccurrenceAt(path, line, column)
	if !ok {
		return []model.Location{}
	}
	q := resolve.Query{Name: occ.Path, Scope: occ.Scope}
	if occ.Role == model.Declaration {
		q = resolve.Query{Name: "::" + occ.Path}
	}
	return s.resolver.Resolve(q)
}

func (s *Server) didCreateFiles(raw json.RawMessage) error {
	var params protocol.CreateFilesParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}
	for _, f := range params.Files {
		s.refresh(f.URI)
	}
	return nil
}

func (s *Server) didDeleteFiles(raw json.RawMessage) error {
	var params protocol.DeleteFilesParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}
	for _, f := range params.Files {
		path, err := uriToPath(f.URI)
		if err != nil {
			s.log.Warn("skipping deleted file", "uri", f.URI, "err", err)
			continue
		}
		n := s.builder.Remove(path)
		s.log.Debug("removed", "path", path, "files", n)
	}
	return nil
}

func (s *Server) didRenameFiles(raw json.RawMessage) error {
	var params protocol.RenameFilesParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}
	for _, f := range params.Files {
		if oldPath, err := uriToPath(f.OldURI); err == nil {
			s.builder.Remove(oldPath)
		} else {
			s.log.Warn("skipping renamed file", "uri", f.OldURI, "err", err)
		}
		s.refresh(f.NewURI)
	}
	return nil
}

// refresh re-reads the file or directory behind fileURI from disk.
func (s *Server) refresh(fileURI string) {
	path, err := uriToPath(fileURI)
	if err != nil {
		s.log.Warn("skipping file", "uri", fileURI, "err", err)
		return
	}
	root := s.rootFor(path)
	if root == "" {
		s.log.Debug("outside workspace", "path", path)
		return
	}
	n := s.builder.IndexPath(root, path)
	s.log.Debug("reindexed", "path", path, "files", n)
}

func (s *Server) didChangeWorkspaceFolders(ctx context.Context, raw json.RawMessage) error {
	var params protocol.DidChangeWorkspaceFoldersParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}

	for _, f := range params.Event.Removed {
		path, err := uriToPath(f.URI)
		if err != nil {
			s.log.Warn("skipping workspace folder", "uri", f.URI, "err", err)
			continue
		}
		i := slices.Index(s.roots, path)
		if i < 0 {
			continue
		}
		s.roots = slices.Delete(s.roots, i, i+1)
		if s.watcher != nil {
			s.watcher.Remove(path)
		}
		// Files still covered by another root stay indexed.
		for _, p := range s.builder.Index().PathsUnder(path) {
			if s.rootFor(p) == "" {
				s.builder.Remove(p)
			}
		}
		s.log.Info("workspace folder removed", "root", path)
	}

	var added []string
	for _, f := range params.Event.Added {
		root, ok := s.folderRoot(f.URI)
		if !ok || slices.Contains(s.roots, root) {
			continue
		}
		s.roots = append(s.roots, root)
		added = append(added, root)
		if s.watcher != nil {
			if err := s.watcher.Add(root); err != nil {
				s.log.Warn("cannot watch root", "root", root, "err", err)
			}
		}
	}
	if len(added) == 0 {
		return nil
	}
	stats, err := s.builder.IndexRoots(ctx, added)
	if err != nil {
		return err
	}
	s.log.Info("workspace folders added", "roots", added, "files", stats.Files)
	return nil
}

// document returns the path of an editor document the server tracks.
func (s *Server) document(docURI protocol.DocumentURI) (string, bool) {
	path, err := uriToPath(string(docURI))
	if err != nil {
		s.log.Debug("ignoring document", "uri", docURI, "err", err)
		return "", false
	}
	if s.rootFor(path) == "" || lang.ForExtension(filepath.Ext(path)) == "" {
		return "", false
	}
	return path, true
}

func (s *Server) didOpen(raw json.RawMessage) error {
	var params protocol.DidOpenTextDocumentParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}
	path, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil
	}
	s.open[path] = struct{}{}
	s.indexBuffer(params.TextDocument.URI, path, params.TextDocument.Text)
	return nil
}

func (s *Server) didChange(raw json.RawMessage) error {
	var params protocol.DidChangeTextDocumentParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}
	path, ok := s.document(params.TextDocument.URI)
	if !ok || len(params.ContentChanges) == 0 {
		return nil
	}
	// Full sync: the last change carries the whole document.
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	s.indexBuffer(params.TextDocument.URI, path, text)
	return nil
}

func (s *Server) didSave(raw json.RawMessage) error {
	var params protocol.DidSaveTextDocumentParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}
	path, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil
	}
	if params.Text != "" {
		s.indexBuffer(params.TextDocument.URI, path, params.Text)
		return nil
	}
	s.builder.IndexPath(s.rootFor(path), path)
	return nil
}

func (s *Server) didClose(raw json.RawMessage) error {
	var params protocol.DidCloseTextDocumentParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}
	path, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil
	}
	delete(s.open, path)
	// Unsaved edits are discarded: the file on disk is authoritative again.
	s.builder.IndexPath(s.rootFor(path), path)
	s.publishDiagnostics(params.TextDocument.URI, nil)
	return nil
}

func (s *Server) indexBuffer(docURI protocol.DocumentURI, path, text string) {
	diags := s.builder.IndexSource(path, []byte(text))
	s.publishDiagnostics(docURI, diags)
}

func (s *Server) publishDiagnostics(docURI protocol.DocumentURI, diags []model.Diagnostic) {
	s.notify(MethodPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         docURI,
		Diagnostics: toDiagnostics(diags),
	})
}

// externalChange handles a path reported by the file watcher.
func (s *Server) externalChange(path string) {
	if _, open := s.open[path]; open {
		return
	}
	root := s.rootFor(path)
	if root == "" {
		return
	}
	n := s.builder.IndexPath(root, path)
	s.log.Debug("external change", "path", path, "files", n)
}
