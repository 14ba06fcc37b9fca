// Package graphsource reads and writes a project's dependency graph snapshot.
//
// Snapshots live at <project>/.sightline/dag/graph.json, or graph.yaml when
// that is the file present. Fetch is the read side the client refreshes
// from. Mutate is the write side: it applies one status change or node
// addition through the dag engine, so the stored snapshot is always acyclic
// with consistent readiness, and writes the result atomically under a
// directory lock.
package graphsource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/sightline/internal/dag"
	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/fsutil"
	"github.com/Iron-Ham/sightline/internal/logging"
	"github.com/Iron-Ham/sightline/internal/registry"
)

const storeName = "graph"

// Snapshot file names, in lookup order.
const (
	JSONFile = "graph.json"
	YAMLFile = "graph.yaml"
	YMLFile  = "graph.yml"
)

// Dir returns the snapshot directory of a project.
func Dir(project string) string {
	return filepath.Join(project, ".sightline", "dag")
}

// FileSource serves graph snapshots from the project directory.
type FileSource struct {
	logger *logging.Logger
}

// NewFileSource creates a file-backed source. A nil logger discards output.
func NewFileSource(logger *logging.Logger) *FileSource {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &FileSource{logger: logger.WithComponent("graphsource")}
}

// Path returns the snapshot file of project: the first existing candidate,
// or graph.json when none exists yet.
func (s *FileSource) Path(project string) string {
	dir := Dir(project)
	for _, name := range []string{JSONFile, YAMLFile, YMLFile} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, JSONFile)
}

// Fetch reads the snapshot of project.
func (s *FileSource) Fetch(ctx context.Context, project string) (dag.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return dag.Snapshot{}, err
	}
	return s.read(project)
}

func (s *FileSource) read(project string) (dag.Snapshot, error) {
	path := s.Path(project)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return dag.Snapshot{}, errors.NewStoreError(storeName, "fetch", errors.ErrSnapshotNotFound).WithKey(project)
	}
	if err != nil {
		return dag.Snapshot{}, errors.NewStoreError(storeName, "fetch", err).WithKey(project)
	}

	snap, err := decode(path, data)
	if err != nil {
		return dag.Snapshot{}, errors.NewStoreError(storeName, "decode "+filepath.Base(path), err).WithKey(project)
	}
	s.logger.Debug("graph snapshot fetched", "path", path, "nodes", len(snap.Nodes))
	return snap, nil
}

// Save validates snap and writes it atomically, keeping the format of the
// existing file.
func (s *FileSource) Save(ctx context.Context, project string, snap dag.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := dag.FromSnapshot(snap); err != nil {
		return err
	}
	return fsutil.WithLock(Dir(project), func() error {
		return s.write(project, snap)
	})
}

func (s *FileSource) write(project string, snap dag.Snapshot) error {
	path := s.Path(project)
	data, err := encode(path, snap)
	if err != nil {
		return errors.NewStoreError(storeName, "encode", err).WithKey(project)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return errors.NewStoreError(storeName, "write", err).WithKey(project)
	}
	s.logger.Debug("graph snapshot written", "path", path, "nodes", len(snap.Nodes))
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte) (dag.Snapshot, error) {
	var snap dag.Snapshot
	var err error
	if isYAML(path) {
		err = yaml.Unmarshal(data, &snap)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	return snap, err
}

func encode(path string, snap dag.Snapshot) ([]byte, error) {
	if snap.Nodes == nil {
		snap.Nodes = []dag.Node{}
	}
	if snap.Edges == nil {
		snap.Edges = []dag.Edge{}
	}
	if isYAML(path) {
		return yaml.Marshal(snap)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Op is a snapshot mutation kind.
type Op string

const (
	OpStart    Op = "start"
	OpComplete Op = "complete"
	OpFail     Op = "fail"
	OpProgress Op = "progress"
	OpAddNode  Op = "add-node"
)

// Mutation is one change posted against the stored snapshot.
type Mutation struct {
	Op       Op
	NodeID   string
	Progress int
	// Node is the node to add for OpAddNode.
	Node *dag.Node
}

// Result is the outcome of a mutation.
type Result struct {
	Snapshot dag.Snapshot
	// Ready lists nodes that became ready because of a completion.
	Ready []string
}

// Mutate applies m to the stored snapshot of project and writes the result.
// Adding a node that closes a cycle, or reuses an existing id, is refused and
// leaves the file untouched.
func (s *FileSource) Mutate(ctx context.Context, project string, m Mutation) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	err := fsutil.WithLock(Dir(project), func() error {
		snap, err := s.read(project)
		if err != nil {
			return err
		}
		g, err := dag.FromSnapshot(snap)
		if err != nil {
			return err
		}

		if res.Ready, err = apply(g, m); err != nil {
			return err
		}
		res.Snapshot = g.Snapshot()
		return s.write(project, res.Snapshot)
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("graph mutated", "op", m.Op, "node_id", mutationTarget(m), "ready", len(res.Ready))
	return res, nil
}

func mutationTarget(m Mutation) string {
	if m.Op == OpAddNode && m.Node != nil {
		return m.Node.ID
	}
	return m.NodeID
}

func apply(g *dag.Graph, m Mutation) ([]string, error) {
	switch m.Op {
	case OpStart:
		return nil, g.StartNode(m.NodeID)
	case OpComplete:
		return g.CompleteNode(m.NodeID)
	case OpFail:
		return nil, g.FailNode(m.NodeID)
	case OpProgress:
		return nil, g.SetProgress(m.NodeID, m.Progress)
	case OpAddNode:
		return nil, addNode(g, m.Node)
	default:
		return nil, fmt.Errorf("unknown graph mutation %q", m.Op)
	}
}

func addNode(g *dag.Graph, n *dag.Node) error {
	if n == nil || registry.Normalize(n.ID) == "" {
		return errors.NewGraphError("add-node requires a node id", nil)
	}
	id := registry.Normalize(n.ID)
	if _, exists := g.Node(id); exists {
		return errors.NewGraphError("node already exists", nil).WithNode(id)
	}

	snap := g.Snapshot()
	snap.Nodes = append(snap.Nodes, *n)
	// Replace rejects a cycle and keeps the previous graph.
	return g.Replace(snap)
}
