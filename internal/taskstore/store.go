// Package taskstore reads and writes the YAML task file the engine works from.
//
// The file holds either a bare list of tasks or a mapping with a "tasks" key.
// Writes keep whichever shape was read, including any sibling keys of the
// mapping form, and replace the file atomically.
package taskstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/tandem/internal/errors"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// ErrInvalidTransition is returned when a status change is not part of the task lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// noteTimeFormat prefixes notes appended to ai_notes.
const noteTimeFormat = "2006-01-02 15:04"

// Reader loads the current task list.
type Reader interface {
	Load() ([]*models.Task, error)
}

// Writer records status changes and notes on individual tasks.
type Writer interface {
	// Transition moves a task to a new status and appends note to its ai_notes.
	// It returns the status the task had before.
	Transition(id string, to models.TaskStatus, note string) (models.TaskStatus, error)
	// AddNote appends a note without changing status.
	AddNote(id, note string) error
}

// Store composes Reader and Writer.
type Store interface {
	Reader
	Writer
}

// FileStore is a Store backed by a single YAML file.
// All writes from one process are serialized; concurrent writers in other
// processes are not coordinated.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store for the task file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the task file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and validates the task file.
func (s *FileStore) Load() ([]*models.Task, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.tasks, nil
}

// Transition implements Writer.
func (s *FileStore) Transition(id string, to models.TaskStatus, note string) (models.TaskStatus, error) {
	var from models.TaskStatus
	err := s.update(id, func(t *models.Task) error {
		from = t.Status
		if !models.CanTransition(from, to) {
			return fmt.Errorf("task %s %s -> %s: %w", id, from, to, ErrInvalidTransition)
		}
		t.Status = to
		if to == models.TaskStatusBlocked {
			t.BlockedReason = note
		} else {
			t.BlockedReason = ""
		}
		s.appendNote(t, note)
		return nil
	})
	return from, err
}

// AddNote implements Writer.
func (s *FileStore) AddNote(id, note string) error {
	return s.update(id, func(t *models.Task) error {
		s.appendNote(t, note)
		return nil
	})
}

func (s *FileStore) appendNote(t *models.Task, note string) {
	if note == "" {
		return
	}
	t.AINotes = append(t.AINotes, s.now().Format(noteTimeFormat)+": "+note)
}

// update applies fn to one task and rewrites the file.
func (s *FileStore) update(id string, fn func(*models.Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	task := models.Find(doc.tasks, id)
	if task == nil {
		return errors.NewNotFoundError("task", id)
	}
	if err := fn(task); err != nil {
		return err
	}
	data, err := doc.encode()
	if err != nil {
		return fmt.Errorf("encode task file: %w", err)
	}
	return writeAtomic(s.path, data)
}

// document keeps the parsed YAML tree so writes preserve the file's shape.
type document struct {
	root  *yaml.Node
	list  *yaml.Node
	tasks []*models.Task
}

func (s *FileStore) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("task file", s.path).WithCause(err)
		}
		return nil, fmt.Errorf("%w: read %s: %v", errors.ErrTaskStore, s.path, err)
	}
	doc, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrTaskStore, s.path, err)
	}
	return doc, nil
}

func parse(data []byte) (*document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	doc := &document{root: &root}
	if root.Kind == 0 || len(root.Content) == 0 {
		doc.list = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		doc.root = &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{doc.list}}
		return doc, nil
	}

	body := root.Content[0]
	switch body.Kind {
	case yaml.SequenceNode:
		doc.list = body
	case yaml.MappingNode:
		for i := 0; i+1 < len(body.Content); i += 2 {
			if body.Content[i].Value == "tasks" {
				doc.list = body.Content[i+1]
				break
			}
		}
		if doc.list == nil {
			return nil, fmt.Errorf("no tasks key in mapping")
		}
	default:
		return nil, fmt.Errorf("expected a list of tasks or a mapping with a tasks key")
	}

	if err := doc.list.Decode(&doc.tasks); err != nil {
		return nil, err
	}
	for _, root := range doc.tasks {
		if root == nil {
			continue
		}
		root.Walk(func(t, _ *models.Task, _ int) bool {
			normalize(t)
			return true
		})
	}
	if err := models.Validate(doc.tasks); err != nil {
		return nil, err
	}
	return doc, nil
}

// normalize fills the defaults a hand-written file may leave out.
func normalize(t *models.Task) {
	if t.Status == "" {
		t.Status = models.TaskStatusTodo
	}
	for i := range t.Steps {
		if t.Steps[i].Status == "" {
			t.Steps[i].Status = models.StepStatusPending
		}
	}
}

func (d *document) encode() ([]byte, error) {
	var list yaml.Node
	if err := list.Encode(d.tasks); err != nil {
		return nil, err
	}
	*d.list = list
	return yaml.Marshal(d.root)
}

// writeAtomic replaces path with data via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", errors.ErrTaskStore, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", errors.ErrTaskStore, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp file: %v", errors.ErrTaskStore, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", errors.ErrTaskStore, err)
	}
	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmpName, info.Mode().Perm())
	} else {
		_ = os.Chmod(tmpName, 0644)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", errors.ErrTaskStore, path, err)
	}
	return nil
}
