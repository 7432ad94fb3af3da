// Package file stores every event as a JSON document on the local file
// system.
//
// Layout under the base directory:
//
//	streams/<aggregate>/<version>.json   one file per event
//	all/<position>.json                  symlink to the event file
//
// Several stores, in one process or many, may share a directory. Version
// files and position links are created exclusively, so a version taken by
// another writer surfaces as a *eventfold.StreamRevisionConflictError and a
// position taken by another writer is skipped.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/terraskye/eventfold"
)

var _ eventfold.EventStore = (*FilesStore)(nil)

type FilesStore struct {
	baseDir  string
	registry *eventfold.Registry
	now      func() time.Time

	mu      sync.Mutex
	streams map[string]*sync.Mutex

	globalMu  sync.Mutex
	globalSeq uint64

	closed bool
}

type storedEvent struct {
	EventID     uuid.UUID       `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	Metadata    map[string]any  `json:"metadata"`
	EventType   string          `json:"event_type"`
	Data        json.RawMessage `json:"data"`
	Version     uint64          `json:"version"`
	Position    uint64          `json:"position"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewFileStore opens (or creates) a store under dir. The global position
// counter resumes after the highest position already on disk.
func NewFileStore(dir string, registry *eventfold.Registry) (*FilesStore, error) {
	if registry == nil {
		return nil, fmt.Errorf("event registry is required")
	}
	for _, sub := range []string{"all", "streams"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	f := &FilesStore{
		baseDir:  dir,
		registry: registry,
		now:      time.Now,
		streams:  make(map[string]*sync.Mutex),
	}

	seq, err := f.lastPosition()
	if err != nil {
		return nil, err
	}
	f.globalSeq = seq
	return f, nil
}

// lastPosition is the highest position linked under all/.
func (f *FilesStore) lastPosition() (uint64, error) {
	entries, err := os.ReadDir(f.allDir())
	if err != nil {
		return 0, fmt.Errorf("read global index: %w", err)
	}
	var last uint64
	for _, entry := range entries {
		if pos, ok := parsePosition(entry.Name()); ok && pos > last {
			last = pos
		}
	}
	return last, nil
}

func (f *FilesStore) allDir() string {
	return filepath.Join(f.baseDir, "all")
}

func (f *FilesStore) streamDir(id string) string {
	name := url.PathEscape(id)
	if strings.Trim(name, ".") == "" {
		name = strings.Repeat("%2E", len(name)) + "_"
	}
	return filepath.Join(f.baseDir, "streams", name)
}

func (f *FilesStore) streamLock(id string) (*sync.Mutex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, eventfold.ErrStoreClosed
	}
	l, ok := f.streams[id]
	if !ok {
		l = &sync.Mutex{}
		f.streams[id] = l
	}
	return l, nil
}

func (f *FilesStore) Append(ctx context.Context, aggregateID string, expected eventfold.Revision, events []eventfold.Event) (eventfold.AppendResult, error) {
	if err := eventfold.ValidateAppend(aggregateID, events); err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, err
	}

	lock, err := f.streamLock(aggregateID)
	if err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, err
	}
	lock.Lock()
	defer lock.Unlock()

	sdir := f.streamDir(aggregateID)
	if err := os.MkdirAll(sdir, 0o755); err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(err)
	}

	files, err := eventFiles(sdir)
	if err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(err)
	}
	current := eventfold.Revision(len(files))
	if current != expected {
		return eventfold.AppendResult{AggregateID: aggregateID, NextExpectedVersion: uint64(current)},
			&eventfold.StreamRevisionConflictError{
				AggregateID:      aggregateID,
				ExpectedRevision: expected,
				ActualRevision:   current,
			}
	}

	envelopes := eventfold.StampEnvelopes(ctx, aggregateID, expected, events, f.now())

	f.globalMu.Lock()
	defer f.globalMu.Unlock()

	// Other stores on the same directory may have moved the log on.
	seq, err := f.lastPosition()
	if err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(err)
	}
	seq = max(seq, f.globalSeq)

	var written []string
	rollback := func() {
		for i := len(written) - 1; i >= 0; i-- {
			_ = os.Remove(written[i])
		}
	}

	for _, env := range envelopes {
		if err := ctx.Err(); err != nil {
			rollback()
			return eventfold.AppendResult{AggregateID: aggregateID}, err
		}

		seq++
		env.Position = seq

		doc, err := encode(env)
		if err != nil {
			rollback()
			return eventfold.AppendResult{AggregateID: aggregateID}, err
		}

		path := filepath.Join(sdir, fmt.Sprintf("%010d.json", env.Version))
		if err := createExclusive(path, doc); err != nil {
			rollback()
			if errors.Is(err, fs.ErrExist) {
				actual, _ := eventFiles(sdir)
				return eventfold.AppendResult{AggregateID: aggregateID}, &eventfold.StreamRevisionConflictError{
					AggregateID:      aggregateID,
					ExpectedRevision: expected,
					ActualRevision:   eventfold.Revision(len(actual)),
				}
			}
			return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(err)
		}
		written = append(written, path)

		link, err := f.linkPosition(env, path, doc)
		if err != nil {
			rollback()
			return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(err)
		}
		written = append(written, link)
		seq = env.Position
	}
	f.globalSeq = seq

	return eventfold.AppendResult{
		Successful:          true,
		AggregateID:         aggregateID,
		NextExpectedVersion: envelopes[len(envelopes)-1].Version,
		Envelopes:           envelopes,
	}, nil
}

// maxLinkAttempts bounds how often a position lost to another writer is
// retried within one append.
const maxLinkAttempts = 16

// linkPosition links the event file under all/ at env.Position. When another
// writer already holds that position the event moves past the highest one
// on disk and its document is rewritten to match.
func (f *FilesStore) linkPosition(env *eventfold.Envelope, path string, doc []byte) (string, error) {
	rel, err := filepath.Rel(f.allDir(), path)
	if err != nil {
		return "", err
	}

	for attempt := 0; ; attempt++ {
		link := filepath.Join(f.allDir(), fmt.Sprintf("%020d.json", env.Position))
		err := os.Symlink(rel, link)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt == maxLinkAttempts {
			return "", err
		}

		last, err := f.lastPosition()
		if err != nil {
			return "", err
		}
		env.Position = max(last, env.Position) + 1
		if doc, err = encode(env); err != nil {
			return "", err
		}
		if err := replaceFile(path, doc); err != nil {
			return "", err
		}
	}
}

func encode(env *eventfold.Envelope) ([]byte, error) {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", env.TypeName, err)
	}
	doc, err := json.Marshal(storedEvent{
		EventID:     env.EventID,
		AggregateID: env.AggregateID,
		Metadata:    env.Metadata,
		EventType:   env.TypeName,
		Data:        data,
		Version:     env.Version,
		Position:    env.Position,
		OccurredAt:  env.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope %d: %w", env.Version, err)
	}
	return doc, nil
}

// writeTemp writes data to a fresh temporary file next to path. The name
// does not end in .json, so stream listings never see it.
func writeTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pending-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// createExclusive publishes data at path unless path already exists, in
// which case the error matches fs.ErrExist.
func createExclusive(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	return os.Link(tmp, path)
}

func replaceFile(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// eventFiles lists the event documents of a stream directory in version order.
func eventFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func parsePosition(name string) (uint64, bool) {
	pos, err := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 64)
	return pos, err == nil && strings.HasSuffix(name, ".json")
}

func (f *FilesStore) Load(ctx context.Context, aggregateID string) (*eventfold.Iterator[*eventfold.Envelope], error) {
	if err := f.checkOpen(); err != nil {
		return nil, fmt.Errorf("load stream %q: %w", aggregateID, err)
	}
	dir := f.streamDir(aggregateID)
	names, err := eventFiles(dir)
	if err != nil {
		return nil, eventfold.WrapEventStoreError(fmt.Errorf("load stream %q: %w", aggregateID, err))
	}
	return f.iterate(dir, names), nil
}

func (f *FilesStore) LoadFromAll(ctx context.Context, from uint64) (*eventfold.Iterator[*eventfold.Envelope], error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.allDir())
	if err != nil {
		return nil, eventfold.WrapEventStoreError(fmt.Errorf("read global index: %w", err))
	}

	var names []string
	for _, entry := range entries {
		pos, ok := parsePosition(entry.Name())
		if !ok || pos < from {
			continue
		}
		names = append(names, entry.Name())
	}
	return f.iterate(f.allDir(), names), nil
}

func (f *FilesStore) iterate(dir string, names []string) *eventfold.Iterator[*eventfold.Envelope] {
	idx := 0
	return eventfold.NewIteratorFunc(func(ctx context.Context) (*eventfold.Envelope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idx >= len(names) {
			return nil, io.EOF
		}
		name := names[idx]
		idx++
		return f.readEnvelope(filepath.Join(dir, name))
	})
}

func (f *FilesStore) readEnvelope(path string) (*eventfold.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eventfold.WrapEventStoreError(fmt.Errorf("read %s: %w", path, err))
	}

	var stored storedEvent
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, &eventfold.CorruptLogError{Reason: fmt.Sprintf("unreadable event document %s", filepath.Base(path)), Err: err}
	}

	ev, err := f.registry.DecodeEnvelopeEvent(stored.AggregateID, stored.Version, stored.EventType, stored.Data)
	if err != nil {
		return nil, err
	}

	metadata := stored.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &eventfold.Envelope{
		EventID:     stored.EventID,
		Position:    stored.Position,
		Version:     stored.Version,
		AggregateID: stored.AggregateID,
		TypeName:    stored.EventType,
		Event:       ev,
		Metadata:    metadata,
		OccurredAt:  stored.OccurredAt,
	}, nil
}

func (f *FilesStore) checkOpen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return eventfold.ErrStoreClosed
	}
	return nil
}

func (f *FilesStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
