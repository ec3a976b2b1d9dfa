package mission

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownScript reports a mission request naming a script that was
// never loaded.
var ErrUnknownScript = errors.New("mission: unknown script")

// ScriptNode is one node of a mission script. Composites carry Children,
// decorators carry Child, leaves carry their own parameters.
type ScriptNode struct {
	Type     string       `yaml:"type"`
	Children []ScriptNode `yaml:"children,omitempty"`
	Child    *ScriptNode  `yaml:"child,omitempty"`
	Period   string       `yaml:"period,omitempty"`
	Duration string       `yaml:"duration,omitempty"`
	Arc      float64      `yaml:"arc,omitempty"`
}

// Script is a parsed mission script: a named behavior tree shape. The
// shape is validated at load time; collaborator binding happens per
// mission request.
type Script struct {
	Name string     `yaml:"name"`
	Root ScriptNode `yaml:"root"`
}

// ParseScript decodes and validates one YAML mission script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("mission: parse script: %w", err)
	}
	if s.Name == "" {
		return nil, errors.New("mission: script has no name")
	}
	if err := validateNode(&s.Root); err != nil {
		return nil, fmt.Errorf("mission: script %q: %w", s.Name, err)
	}
	return &s, nil
}

func validateNode(n *ScriptNode) error {
	switch n.Type {
	case "sequence", "fallback", "round_robin":
		if len(n.Children) == 0 {
			return fmt.Errorf("%s node has no children", n.Type)
		}
		for i := range n.Children {
			if err := validateNode(&n.Children[i]); err != nil {
				return err
			}
		}
	case "rate_controller":
		if n.Child == nil {
			return errors.New("rate_controller node has no child")
		}
		if _, err := parsePeriod(n.Period); err != nil {
			return err
		}
		return validateNode(n.Child)
	case "compute_path", "follow_path":
		if len(n.Children) > 0 || n.Child != nil {
			return fmt.Errorf("%s node takes no children", n.Type)
		}
	case "wait":
		d, err := time.ParseDuration(n.Duration)
		if err != nil {
			return fmt.Errorf("wait node duration: %v", err)
		}
		if d <= 0 {
			return errors.New("wait node duration must be positive")
		}
	case "spin":
		if n.Arc == 0 {
			return errors.New("spin node arc must be nonzero")
		}
	case "":
		return errors.New("node has no type")
	default:
		return fmt.Errorf("unknown node type %q", n.Type)
	}
	return nil
}

func parsePeriod(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("rate_controller node has no period")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("rate_controller period: %v", err)
	}
	if d <= 0 {
		return 0, errors.New("rate_controller period must be positive")
	}
	return d, nil
}

// build instantiates the tree for one mission execution, binding every
// leaf to its collaborator and the shared blackboard.
func (s *Script) build(collab Collaborators, bb *blackboard) (Node, error) {
	return buildNode(&s.Root, collab, bb)
}

func buildNode(n *ScriptNode, collab Collaborators, bb *blackboard) (Node, error) {
	switch n.Type {
	case "sequence", "fallback", "round_robin":
		children := make([]Node, len(n.Children))
		for i := range n.Children {
			c, err := buildNode(&n.Children[i], collab, bb)
			if err != nil {
				return nil, err
			}
			children[i] = c
		}
		switch n.Type {
		case "sequence":
			return NewSequence(children...), nil
		case "fallback":
			return NewFallback(children...), nil
		default:
			return NewRoundRobin(children...), nil
		}
	case "rate_controller":
		period, err := parsePeriod(n.Period)
		if err != nil {
			return nil, err
		}
		child, err := buildNode(n.Child, collab, bb)
		if err != nil {
			return nil, err
		}
		return NewRateController(child, period), nil
	case "compute_path":
		return &computePathLeaf{planner: collab.Planner, bb: bb}, nil
	case "follow_path":
		return &followPathLeaf{controller: collab.Controller, bb: bb}, nil
	case "wait":
		d, err := time.ParseDuration(n.Duration)
		if err != nil {
			return nil, err
		}
		return &waitLeaf{recovery: collab.Recovery, bb: bb, duration: d}, nil
	case "spin":
		return &spinLeaf{recovery: collab.Recovery, bb: bb, arc: n.Arc}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", n.Type)
	}
}

// Registry holds the loaded mission scripts by name.
type Registry struct {
	scripts map[string]*Script
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{scripts: make(map[string]*Script)}
}

// Add registers a script under its name, replacing any previous version.
func (r *Registry) Add(s *Script) {
	r.scripts[s.Name] = s
}

// Get looks up a script. The error wraps ErrUnknownScript.
func (r *Registry) Get(name string) (*Script, error) {
	s, ok := r.scripts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScript, name)
	}
	return s, nil
}

// Names lists the registered scripts.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.scripts))
	for name := range r.scripts {
		out = append(out, name)
	}
	return out
}

// LoadDir parses every .yaml/.yml file in dir into the registry. A file
// that fails to parse is skipped with a log line; one bad script must not
// take down the rest of the library.
func (r *Registry) LoadDir(dir string, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("mission: read script dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Printf("[mission] skipping script %s: %v", e.Name(), err)
			continue
		}
		s, err := ParseScript(data)
		if err != nil {
			logger.Printf("[mission] skipping script %s: %v", e.Name(), err)
			continue
		}
		r.Add(s)
		logger.Printf("[mission] loaded script %q from %s", s.Name, e.Name())
	}
	return nil
}
