package mcpserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/venvbox/config"
	"github.com/isdmx/venvbox/runner"
)

// minExecTimeout is the floor applied to caller-supplied timeouts.
const minExecTimeout = 100 * time.Millisecond

const (
	dirPermission  = 0o755
	filePermission = 0o644
)

// CodeRunner is the slice of the runner this server needs. Satisfied by
// *runner.EphemeralRunner; mocked in tests.
type CodeRunner interface {
	EnsureVenv(userRoot string) error
	PipInstall(userRoot string, specs []string) error
	ExecPython(userRoot, convDir string, timeout time.Duration) (runner.ExecResult, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	codeRunner CodeRunner
	mcpServer  *server.MCPServer
}

// execReply is the JSON payload returned to the caller. Non-zero exit codes,
// including the 124 timeout sentinel, are data here, not protocol errors.
type execReply struct {
	ExitCode   int               `json:"exit_code"`
	Stdout     string            `json:"stdout"`
	Stderr     string            `json:"stderr"`
	DurationMS int64             `json:"duration_ms"`
	Files      map[string]string `json:"files,omitempty"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, codeRunner CodeRunner) (*MCPServer, error) {
	s := &MCPServer{
		config:     cfg,
		logger:     logger,
		codeRunner: codeRunner,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("runner.image", s.config.Runner.Image),
		zap.String("runner.workspace_root", s.config.Runner.WorkspaceRoot),
		zap.String("runner.user", s.config.Runner.User),
		zap.Bool("runner.read_only_root", s.config.Runner.ReadOnlyRoot),
		zap.String("runner.cpus", s.config.Runner.CPUs),
		zap.String("runner.memory", s.config.Runner.Memory),
		zap.Bool("runner.deny_network_at_exec", s.config.Runner.DenyNetworkAtExec),
		zap.String("runner.host_gateway_alias", s.config.Runner.HostGatewayAlias),
		zap.Int("timeouts.exec_default_ms", s.config.Timeouts.ExecDefaultMS),
		zap.Int("timeouts.exec_max_ms", s.config.Timeouts.ExecMaxMS),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("venvbox", "Ephemeral-container Python runner with persistent per-user venvs")

	// Register the python_exec tool
	s.registerPythonExecTool()

	return s, nil
}

// registerPythonExecTool registers the python_exec tool
func (s *MCPServer) registerPythonExecTool() {
	tool := mcp.Tool{
		Name: "python_exec",
		Description: "Run Python 3 code in an isolated container and return stdout/stderr. " +
			"Installed pip packages persist per user across calls. " +
			"Calls for the same user must not run concurrently.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python 3 code to run. Print results to stdout.",
				},
				"pip": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "pip requirement specifiers to ensure before running, e.g. numpy==1.26",
				},
				"files": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"path":    map[string]any{"type": "string", "description": "Relative path like data/in.txt"},
							"content": map[string]any{"type": "string", "description": "Text content"},
						},
						"required": []string{"path"},
					},
					"description": "Auxiliary text files to create in the working directory before running.",
				},
				"return_files": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Relative file paths to read back as text after execution.",
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"minimum":     100,
					"description": "Execution timeout in milliseconds (server-side ceiling applies).",
				},
				"user_id": map[string]any{
					"type":        "string",
					"description": "Stable caller identity; selects the persistent workspace and venv.",
				},
				"conversation_id": map[string]any{
					"type":        "string",
					"description": "Conversation scope; selects the working directory inside the workspace.",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handlePythonExec)
}

// handlePythonExec handles the python_exec tool
func (s *MCPServer) handlePythonExec(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	if strings.TrimSpace(code) == "" {
		return errorResult("code must not be empty"), nil
	}

	userID := request.GetString("user_id", "anonymous")
	conversationID := request.GetString("conversation_id", "default")
	pip := request.GetStringSlice("pip", nil)
	returnFiles := request.GetStringSlice("return_files", nil)
	files := parseFileSpecs(request.GetArguments()["files"])
	timeout := s.clampTimeout(request.GetInt("timeout_ms", s.config.Timeouts.ExecDefaultMS))

	s.logger.Info("python_exec requested",
		zap.Int("code_len", len(code)),
		zap.String("code_hash", hashPreview(code)),
		zap.Int("pip", len(pip)),
		zap.Int("files", len(files)),
		zap.Int("return_files", len(returnFiles)),
		zap.Duration("timeout", timeout),
	)

	userRoot := runner.UserRoot(s.config.Runner.WorkspaceRoot, userID)
	convDir := runner.ConvDir(userRoot, conversationID)

	if err := s.stageWorkdir(convDir, code, files); err != nil {
		s.logger.Error("failed to stage working directory", zap.Error(err))
		return errorResult(err.Error()), nil
	}

	// Setup failures halt the call; execution failures below are data.
	if err := s.codeRunner.EnsureVenv(userRoot); err != nil {
		s.logger.Error("venv bootstrap failed", zap.Error(err))
		return errorResult("venv bootstrap failed: " + err.Error()), nil
	}
	if len(pip) > 0 {
		if err := s.codeRunner.PipInstall(userRoot, pip); err != nil {
			s.logger.Error("pip install failed", zap.Error(err))
			return errorResult("pip install failed: " + err.Error()), nil
		}
	}

	start := time.Now()
	result, err := s.codeRunner.ExecPython(userRoot, convDir, timeout)
	if err != nil {
		s.logger.Error("execution rejected", zap.Error(err))
		return errorResult(err.Error()), nil
	}
	duration := time.Since(start)

	s.logger.Info("python_exec completed",
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)),
		zap.Duration("duration", duration),
	)

	reply := execReply{
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		DurationMS: duration.Milliseconds(),
		Files:      s.readReturnFiles(convDir, returnFiles),
	}
	payload, marshalErr := json.Marshal(reply)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to encode result: %w", marshalErr)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(payload),
			},
		},
	}, nil
}

// stageWorkdir creates the conversation directory and writes main.py plus
// the auxiliary files into it. Every path is validated before anything is
// written, so a bad path never leaves a partially staged directory behind.
func (s *MCPServer) stageWorkdir(convDir, code string, files []fileSpec) error {
	rels := make([]string, len(files))
	for i, f := range files {
		rel, err := safeRelPath(f.Path)
		if err != nil {
			return err
		}
		rels[i] = rel
	}

	if err := os.MkdirAll(convDir, dirPermission); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(convDir, "main.py"), []byte(code), filePermission); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	for i, f := range files {
		dst := filepath.Join(convDir, rels[i])
		if err := os.MkdirAll(filepath.Dir(dst), dirPermission); err != nil {
			return fmt.Errorf("failed to create parent directories for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dst, []byte(f.Content), filePermission); err != nil {
			return fmt.Errorf("failed to write file %s: %w", f.Path, err)
		}
	}
	return nil
}

// readReturnFiles reads back the requested relative paths as text. Missing
// or unreadable files are skipped, not errors.
func (s *MCPServer) readReturnFiles(convDir string, paths []string) map[string]string {
	if len(paths) == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, p := range paths {
		rel, err := safeRelPath(p)
		if err != nil {
			s.logger.Debug("return file path rejected", zap.String("path", p), zap.Error(err))
			continue
		}
		data, err := os.ReadFile(filepath.Join(convDir, rel))
		if err != nil {
			s.logger.Debug("return file not readable", zap.String("path", p), zap.Error(err))
			continue
		}
		out[p] = string(data)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *MCPServer) clampTimeout(requestedMS int) time.Duration {
	t := time.Duration(requestedMS) * time.Millisecond
	if t <= 0 {
		t = s.config.ExecDefault()
	}
	if t < minExecTimeout {
		t = minExecTimeout
	}
	if ceiling := s.config.ExecMax(); t > ceiling {
		t = ceiling
	}
	return t
}

// fileSpec is one auxiliary file to stage before execution.
type fileSpec struct {
	Path    string
	Content string
}

// parseFileSpecs decodes the loosely-typed files argument.
func parseFileSpecs(raw any) []fileSpec {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	specs := make([]fileSpec, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		path, _ := m["path"].(string)
		if path == "" {
			continue
		}
		content, _ := m["content"].(string)
		specs = append(specs, fileSpec{Path: path, Content: content})
	}
	return specs
}

// safeRelPath validates a caller-supplied relative path: no absolute paths,
// no traversal out of the working directory.
func safeRelPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(p) || strings.HasPrefix(filepath.ToSlash(p), "/") {
		return "", fmt.Errorf("absolute file path not allowed: %s", p)
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file path escapes working directory: %s", p)
	}
	return clean, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: true,
	}
}

func hashPreview(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}
