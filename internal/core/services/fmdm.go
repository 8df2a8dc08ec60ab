package services

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driving"
	"github.com/custodia-labs/folderd/internal/logger"
)

// Ensure FMDMService implements the interface.
var _ driving.FMDMService = (*FMDMService)(nil)

// subscriberBuffer bounds each subscriber's pending snapshots. Every
// message is a full snapshot, so when a slow consumer falls behind the
// oldest pending snapshot is dropped in favour of the newest.
const subscriberBuffer = 16

// fmdmSubscriber is one connection's snapshot stream.
type fmdmSubscriber struct {
	ch     chan *domain.FMDM
	closed bool
}

// FMDMService maintains the single authoritative daemon state snapshot.
//
// All mutation happens under one writer mutex and produces a brand new
// snapshot object; the previous reference is swapped atomically, never
// edited in place. Readers load the current pointer lock-free and always
// observe a fully consistent snapshot.
type FMDMService struct {
	current atomic.Pointer[domain.FMDM]

	mu       sync.Mutex
	revision uint64
	daemon   domain.DaemonInfo
	models   []domain.ModelInfo
	folders  map[string]domain.FolderInfo // keyed by normalised path
	conns    map[string]domain.ConnectionInfo
	subs     map[string]*fmdmSubscriber
	nextSub  int
}

// NewFMDMService creates the snapshot service with daemon metadata and
// the available model list.
func NewFMDMService(daemon domain.DaemonInfo, models []domain.ModelInfo) *FMDMService {
	s := &FMDMService{
		daemon:  daemon,
		models:  models,
		folders: make(map[string]domain.FolderInfo),
		conns:   make(map[string]domain.ConnectionInfo),
		subs:    make(map[string]*fmdmSubscriber),
	}
	s.current.Store(s.build())
	return s
}

// Snapshot returns the current immutable snapshot.
func (s *FMDMService) Snapshot() *domain.FMDM {
	return s.current.Load()
}

// Subscribe registers a consumer. The current snapshot is queued before
// any incremental broadcast, so a newly-connected client always starts
// from the latest state.
func (s *FMDMService) Subscribe(connID string) driving.FMDMSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &fmdmSubscriber{ch: make(chan *domain.FMDM, subscriberBuffer)}
	sub.ch <- s.current.Load()
	s.subs[connID] = sub

	return driving.FMDMSubscription{
		Updates: sub.ch,
		Cancel:  func() { s.unsubscribe(connID) },
	}
}

func (s *FMDMService) unsubscribe(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[connID]; ok {
		sub.closed = true
		close(sub.ch)
		delete(s.subs, connID)
	}
}

// AddConnection records a client connection and broadcasts.
func (s *FMDMService) AddConnection(info domain.ConnectionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[info.ID] = info
	s.publish()
}

// RemoveConnection drops a client connection and broadcasts.
func (s *FMDMService) RemoveConnection(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
	s.publish()
}

// SetFolders replaces the folder list and broadcasts.
func (s *FMDMService) SetFolders(folders []domain.FolderInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = make(map[string]domain.FolderInfo, len(folders))
	for _, f := range folders {
		s.folders[domain.NormalizePath(f.Path)] = f
	}
	s.publish()
}

// UpdateFolder upserts one folder's broadcast view and broadcasts.
func (s *FMDMService) UpdateFolder(info domain.FolderInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[domain.NormalizePath(info.Path)] = info
	s.publish()
}

// RemoveFolder drops a folder from the snapshot and broadcasts.
func (s *FMDMService) RemoveFolder(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.folders, domain.NormalizePath(path))
	s.publish()
}

// build assembles a new snapshot from current state. Caller holds mu.
func (s *FMDMService) build() *domain.FMDM {
	s.revision++

	folders := make([]domain.FolderInfo, 0, len(s.folders))
	for _, f := range s.folders {
		folders = append(folders, f)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Path < folders[j].Path })

	conns := make([]domain.ConnectionInfo, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })

	models := make([]domain.ModelInfo, len(s.models))
	copy(models, s.models)

	return &domain.FMDM{
		Schema:      domain.SchemaVersion,
		Revision:    s.revision,
		Folders:     folders,
		Daemon:      s.daemon,
		Connections: conns,
		Models:      models,
	}
}

// publish swaps in a new snapshot and pushes it to every subscriber.
// Caller holds mu. Delivery is FIFO per subscriber; a full buffer drops
// the oldest pending snapshot so the newest always lands.
func (s *FMDMService) publish() {
	snap := s.build()
	s.current.Store(snap)

	for id, sub := range s.subs {
		if sub.closed {
			continue
		}
		for {
			select {
			case sub.ch <- snap:
			default:
				select {
				case <-sub.ch:
					logger.Debug("fmdm: subscriber %s behind, dropping stale snapshot", id)
				default:
				}
				continue
			}
			break
		}
	}
}
