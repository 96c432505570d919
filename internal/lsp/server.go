// Package lsp is the language server: a single-goroutine dispatch loop
// that owns the workspace index and answers go-to-definition requests.
//
// Transport I/O runs on two background goroutines connected to the loop by
// bounded channels. Nothing else touches the index.
package lsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.lsp.dev/jsonrpc2"

	"github.com/phobologic/rubydef/internal/index"
	"github.com/phobologic/rubydef/internal/parse"
	"github.com/phobologic/rubydef/internal/resolve"
	"github.com/phobologic/rubydef/internal/watch"
	"github.com/phobologic/rubydef/internal/workspace"
)

// State is the lifecycle state of a Server.
type State int

const (
	Uninitialized State = iota
	Initializing
	Running
	ShuttingDown
	Exited
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DefaultQueueSize bounds the inbound and outbound message channels.
const DefaultQueueSize = 64

// Options configures a Server.
type Options struct {
	Workspace workspace.Options
	Watch     bool // follow changes made outside the editor
	Version   string
	QueueSize int
	Logger    *slog.Logger

	// Getwd supplies the fallback workspace root; nil means os.Getwd.
	Getwd func() (string, error)
}

// WorkspaceError reports that no workspace root could be established.
// It is fatal: the server stops without replying to initialize.
type WorkspaceError struct {
	Err error
}

func (e *WorkspaceError) Error() string {
	return "workspace: " + e.Err.Error()
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// Server is a language server for one client connection.
type Server struct {
	opts Options
	log  *slog.Logger

	state    State
	shutdown bool
	roots    []string
	open     map[string]struct{} // documents whose editor buffer is authoritative

	builder  *workspace.Builder
	resolver *resolve.Resolver
	watcher  *watch.Watcher

	out   chan jsonrpc2.Message
	fatal error
}

// New returns a Server that parses with p.
func New(p parse.Parser, opts Options) *Server {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Getwd == nil {
		opts.Getwd = os.Getwd
	}
	opts.Workspace.Logger = opts.Logger

	ix := index.New()
	return &Server{
		opts:     opts,
		log:      opts.Logger,
		open:     make(map[string]struct{}),
		builder:  workspace.New(p, ix, opts.Workspace),
		resolver: resolve.New(ix),
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return s.state
}

// Roots returns the current workspace roots.
func (s *Server) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Serve runs the server on conn until the client sends exit, the
// connection closes or ctx is done. The exit code is 0 only when exit
// followed shutdown. A *WorkspaceError is returned when initialize could
// not establish any workspace root.
func (s *Server) Serve(ctx context.Context, conn io.ReadWriteCloser) (int, error) {
	stream := jsonrpc2.NewStream(conn)
	ctx, cancel := context.WithCancel(ctx)

	in := make(chan jsonrpc2.Message, s.opts.QueueSize)
	readErr := make(chan error, 1)
	go s.read(ctx, stream, in, readErr)

	s.out = make(chan jsonrpc2.Message, s.opts.QueueSize)
	written := make(chan struct{})
	go s.write(context.WithoutCancel(ctx), stream, written)

	code, err := s.loop(ctx, in, readErr)

	close(s.out)
	<-written
	cancel()
	if cerr := stream.Close(); cerr != nil && !isClosed(cerr) {
		s.log.Debug("closing connection", "err", cerr)
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	return code, err
}

func (s *Server) loop(ctx context.Context, in <-chan jsonrpc2.Message, readErr <-chan error) (int, error) {
	for {
		select {
		case <-ctx.Done():
			return 1, ctx.Err()

		case msg, ok := <-in:
			if !ok {
				if err := <-readErr; err != nil && !isClosed(err) {
					return 1, fmt.Errorf("reading message: %w", err)
				}
				s.log.Warn("connection closed before exit")
				return 1, nil
			}
			s.dispatch(ctx, msg)
			if s.fatal != nil {
				return 1, s.fatal
			}
			if s.state == Exited {
				return s.exitCode(), nil
			}

		case path := <-s.watchEvents():
			s.externalChange(path)
		}
	}
}

// read decodes messages until the stream fails. A frame whose body is not
// valid JSON-RPC is logged and skipped.
func (s *Server) read(ctx context.Context, stream jsonrpc2.Stream, in chan<- jsonrpc2.Message, readErr chan<- error) {
	defer close(in)
	for {
		msg, _, err := stream.Read(ctx)
		if err != nil {
			if isDecodeError(err) {
				s.log.Warn("dropping malformed message", "err", err)
				continue
			}
			readErr <- err
			return
		}
		select {
		case in <- msg:
		case <-ctx.Done():
			readErr <- ctx.Err()
			return
		}
	}
}

// write sends queued messages in order until the queue is closed.
func (s *Server) write(ctx context.Context, stream jsonrpc2.Stream, done chan<- struct{}) {
	defer close(done)
	failed := false
	for msg := range s.out {
		if failed {
			continue
		}
		if _, err := stream.Write(ctx, msg); err != nil {
			s.log.Warn("writing message", "err", err)
			failed = true
		}
	}
}

func (s *Server) send(msg jsonrpc2.Message) {
	s.out <- msg
}

func (s *Server) notify(method string, params any) {
	n, err := jsonrpc2.NewNotification(method, params)
	if err != nil {
		s.log.Error("encoding notification", "method", method, "err", err)
		return
	}
	s.send(n)
}

func (s *Server) reply(id jsonrpc2.ID, result any, err error) {
	resp, merr := jsonrpc2.NewResponse(id, result, err)
	if merr != nil {
		s.log.Error("encoding response", "id", id, "err", merr)
		resp, _ = jsonrpc2.NewResponse(id, nil, jsonrpc2.NewError(jsonrpc2.InternalError, merr.Error()))
	}
	s.send(resp)
}

func (s *Server) dispatch(ctx context.Context, msg jsonrpc2.Message) {
	switch m := msg.(type) {
	case *jsonrpc2.Call:
		result, err := s.handleCall(ctx, m)
		if s.fatal != nil {
			return
		}
		s.reply(m.ID(), result, err)
	case *jsonrpc2.Notification:
		s.handleNotification(ctx, m)
	case *jsonrpc2.Response:
		s.log.Debug("ignoring response", "id", m.ID())
	}
}

func (s *Server) handleCall(ctx context.Context, call *jsonrpc2.Call) (any, error) {
	method := call.Method()
	s.log.Debug("request", "method", method, "id", call.ID())

	switch s.state {
	case Uninitialized:
		if method != MethodInitialize {
			return nil, jsonrpc2.NewError(jsonrpc2.ServerNotInitialized, "server not initialized")
		}
	case ShuttingDown, Exited:
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidRequest, "server is %s", s.state)
	default:
		if method == MethodInitialize {
			return nil, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "server already initialized")
		}
	}

	switch method {
	case MethodInitialize:
		return s.initialize(ctx, call.Params())
	case MethodShutdown:
		s.state = ShuttingDown
		s.shutdown = true
		return nil, nil
	case MethodDefinition:
		return s.definition(call.Params())
	}
	return nil, jsonrpc2.Errorf(jsonrpc2.MethodNotFound, "method not found: %s", method)
}

func (s *Server) handleNotification(ctx context.Context, n *jsonrpc2.Notification) {
	method := n.Method()
	if method == MethodExit {
		if !s.shutdown {
			s.log.Warn("exit without shutdown", "state", s.state)
		}
		s.state = Exited
		return
	}

	switch s.state {
	case Uninitialized:
		s.log.Debug("dropping notification before initialize", "method", method)
		return
	case ShuttingDown:
		s.log.Debug("dropping notification after shutdown", "method", method)
		return
	}

	var err error
	switch method {
	case MethodInitialized:
		if s.state == Initializing {
			s.state = Running
		}
	case MethodDidCreateFiles:
		err = s.didCreateFiles(n.Params())
	case MethodDidRenameFiles:
		err = s.didRenameFiles(n.Params())
	case MethodDidDeleteFiles:
		err = s.didDeleteFiles(n.Params())
	case MethodDidChangeWorkspaceFolders:
		err = s.didChangeWorkspaceFolders(ctx, n.Params())
	case MethodDidOpen:
		err = s.didOpen(n.Params())
	case MethodDidChange:
		err = s.didChange(n.Params())
	case MethodDidSave:
		err = s.didSave(n.Params())
	case MethodDidClose:
		err = s.didClose(n.Params())
	default:
		if strings.HasPrefix(method, "$/") {
			s.log.Debug("ignoring notification", "method", method)
		} else {
			s.log.Info("ignoring unknown notification", "method", method)
		}
	}
	if err != nil {
		s.log.Warn("bad notification", "method", method, "err", err)
	}
}

func (s *Server) exitCode() int {
	if s.shutdown {
		return 0
	}
	return 1
}

func (s *Server) watchEvents() <-chan string {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Events()
}

// rootFor returns the innermost workspace root containing path.
func (s *Server) rootFor(path string) string {
	best := ""
	for _, root := range s.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) ||
		errors.Is(err, context.Canceled)
}

func isDecodeError(err error) bool {
	return errors.Is(err, jsonrpc2.ErrInvalidRequest) ||
		strings.Contains(err.Error(), "unmarshaling jsonrpc message")
}
