// Package raft implements the replicated log each replica group (and the
// shard controller) sits on: leader election, log replication with
// accelerated conflict backtracking, snapshotting, and an apply stream
// that delivers committed commands to whatever state machine is layered
// on top (see pkg/service). The engine itself never interprets command
// bytes -- that is the state machine's job.
package raft

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomasreyes/shardraft/pkg/wal"
)

// Engine is one replica's replication engine.
type Engine struct {
	mu     sync.RWMutex
	config *Config
	state  *NodeState
	wal    *wal.WAL

	applyCh   chan<- ApplyMsg
	shutdownC chan struct{}
	stopOnce  sync.Once

	transport Transport

	// pendingReads tracks in-flight ReadIndex barriers by the log index
	// of their no-op entry. Ordinary commands are not tracked here --
	// the consumer of applyCh is responsible for matching commits to
	// waiting callers by index (see pkg/service).
	pendingMu sync.Mutex
	pendingReads map[uint64]chan error

	rand   *rand.Rand
	logger *log.Logger

	running int32 // atomic, set once Start has launched the run loop
}

// New creates a replication engine rooted at config.DataDir, recovering
// any persisted term/vote/log and snapshot. Commits are delivered on
// applyCh in index order for as long as the engine runs; the caller must
// keep draining it.
func New(config *Config, transport Transport, applyCh chan<- ApplyMsg, logger *log.Logger) (*Engine, error) {
	w, err := wal.New(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("raft: open wal: %w", err)
	}

	e := &Engine{
		config:       config,
		state:        NewNodeState(),
		wal:          w,
		applyCh:      applyCh,
		shutdownC:    make(chan struct{}),
		transport:    transport,
		pendingReads: make(map[uint64]chan error),
		rand:         rand.New(rand.NewSource(config.RandomSeed)),
		logger:       logger,
	}

	e.state.SetCurrentTerm(w.GetCurrentTerm())
	e.state.SetVotedFor(w.GetVotedFor())

	lastIncludedIndex, _ := w.LastIncluded()
	e.state.SetLastApplied(lastIncludedIndex)
	e.state.SetCommitIndex(lastIncludedIndex)

	return e, nil
}

// Start launches the election/replication loop and, if a snapshot was
// recovered from disk, delivers it as the first ApplyMsg so the state
// machine above can restore before any command arrives.
func (e *Engine) Start() {
	if snap, err := e.wal.LoadSnapshot(); err == nil && snap != nil {
		e.applyCh <- ApplyMsg{
			SnapshotValid: true,
			SnapshotIndex: snap.Metadata.LastIncludedIndex,
			SnapshotTerm:  snap.Metadata.LastIncludedTerm,
			Snapshot:      snap.Data,
		}
	}
	atomic.StoreInt32(&e.running, 1)
	go e.run()
}

// Stop halts the run loop. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.shutdownC) })
}

func (e *Engine) run() {
	for {
		select {
		case <-e.shutdownC:
			return
		default:
		}

		switch e.state.GetState() {
		case Follower:
			e.runFollower()
		case Candidate:
			e.runCandidate()
		case Leader:
			e.runLeader()
		}
	}
}

func (e *Engine) peerIDs() []string {
	peers := make([]string, 0, len(e.config.Peers))
	for id := range e.config.Peers {
		peers = append(peers, id)
	}
	return peers
}

func (e *Engine) quorum() int {
	return (len(e.config.Peers)+1)/2 + 1
}

func (e *Engine) runFollower() {
	e.logger.Printf("[%s] follower (term %d)", e.config.NodeID, e.state.GetCurrentTerm())

	timeout := e.randomElectionTimeout()
	e.state.SetElectionTimeout(timeout)
	e.state.SetLastHeartbeat(time.Now())

	for e.state.GetState() == Follower {
		select {
		case <-e.shutdownC:
			return
		case <-time.After(10 * time.Millisecond):
			if time.Since(e.state.GetLastHeartbeat()) > e.state.GetElectionTimeout() {
				e.logger.Printf("[%s] election timeout, becoming candidate", e.config.NodeID)
				e.state.SetState(Candidate)
				return
			}
		}
	}
}

func (e *Engine) runCandidate() {
	e.logger.Printf("[%s] candidate (term %d)", e.config.NodeID, e.state.GetCurrentTerm()+1)

	newTerm := e.state.GetCurrentTerm() + 1
	e.state.SetCurrentTerm(newTerm)
	e.state.SetVotedFor(e.config.NodeID)
	e.persistState()

	electionDone := make(chan bool, 1)
	go e.startElection(electionDone)

	timeout := e.randomElectionTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.shutdownC:
		return
	case won := <-electionDone:
		if won {
			e.becomeLeader()
		} else if e.state.GetState() == Candidate {
			e.state.SetState(Follower)
		}
	case <-timer.C:
		e.logger.Printf("[%s] election timed out, retrying", e.config.NodeID)
	}
}

func (e *Engine) startElection(done chan<- bool) {
	peers := e.peerIDs()
	quorum := e.quorum()

	lastLogIndex := e.lastLogIndex()
	lastLogTerm := e.lastLogTerm()
	currentTerm := e.state.GetCurrentTerm()

	req := &RequestVoteRequest{
		Term:         currentTerm,
		CandidateID:  e.config.NodeID,
		LastLogIndex: lastLogIndex,
		LastLogTerm:  lastLogTerm,
	}

	voteCh := make(chan bool, len(peers))
	votes := 1 // vote for self

	for _, peer := range peers {
		go func(peerID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			resp, err := e.transport.RequestVote(ctx, e.getPeerAddress(peerID), req)
			if err != nil {
				voteCh <- false
				return
			}
			if resp.Term > e.state.GetCurrentTerm() {
				e.stepDown(resp.Term)
				voteCh <- false
				return
			}
			voteCh <- resp.VoteGranted
		}(peer)
	}

	for i := 0; i < len(peers); i++ {
		if e.state.GetState() != Candidate {
			done <- false
			return
		}
		if <-voteCh {
			votes++
		}
		if votes >= quorum {
			done <- true
			return
		}
	}
	done <- false
}

func (e *Engine) becomeLeader() {
	e.logger.Printf("[%s] became leader (term %d)", e.config.NodeID, e.state.GetCurrentTerm())
	e.state.SetState(Leader)
	e.state.SetLeaderId(e.config.NodeID)
	e.state.ResetLeaderState(e.peerIDs(), e.lastLogIndex())

	// A no-op barrier confirms leadership and lets entries from earlier
	// terms become committable under the current-term safety rule.
	e.appendEntry(nil, EntryNoop)
}

func (e *Engine) appendEntry(command []byte, typ EntryType) uint64 {
	index := e.lastLogIndex() + 1
	entry := wal.Entry{
		Term:    e.state.GetCurrentTerm(),
		Index:   index,
		Command: command,
		Type:    wal.EntryType(typ),
	}
	if err := e.wal.AppendEntries([]wal.Entry{entry}); err != nil {
		e.logger.Printf("[%s] failed to append entry: %v", e.config.NodeID, err)
		return 0
	}
	return index
}

func (e *Engine) runLeader() {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	e.sendHeartbeats()

	for e.state.GetState() == Leader {
		select {
		case <-e.shutdownC:
			return
		case <-ticker.C:
			e.sendHeartbeats()
		}
	}
}

func (e *Engine) sendHeartbeats() {
	for _, peer := range e.peerIDs() {
		go e.replicateToFollower(peer)
	}
}

func (e *Engine) replicateToFollower(peerID string) {
	if e.state.GetState() != Leader {
		return
	}

	nextIndex := e.state.GetNextIndex(peerID)
	if nextIndex == 0 {
		nextIndex = 1
	}

	prevLogIndex := nextIndex - 1
	var prevLogTerm uint64
	if prevLogIndex > 0 {
		entry := e.wal.GetEntry(prevLogIndex)
		if entry == nil {
			if snap, err := e.wal.LoadSnapshot(); err == nil && snap != nil && snap.Metadata.LastIncludedIndex >= prevLogIndex {
				e.sendSnapshot(peerID, snap)
				return
			}
			lastIncludedIndex, lastIncludedTerm := e.wal.LastIncluded()
			if prevLogIndex == lastIncludedIndex {
				prevLogTerm = lastIncludedTerm
			}
		} else {
			prevLogTerm = entry.Term
		}
	}

	entries := e.getEntriesForReplication(nextIndex)

	req := &AppendEntriesRequest{
		Term:         e.state.GetCurrentTerm(),
		LeaderID:     e.config.NodeID,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: e.state.GetCommitIndex(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	resp, err := e.transport.AppendEntries(ctx, e.getPeerAddress(peerID), req)
	if err != nil {
		return
	}

	if resp.Term > e.state.GetCurrentTerm() {
		e.stepDown(resp.Term)
		return
	}
	if e.state.GetState() != Leader || resp.Term < e.state.GetCurrentTerm() {
		return
	}

	if resp.Success {
		if len(entries) > 0 {
			newMatchIndex := entries[len(entries)-1].Index
			e.state.SetMatchIndex(peerID, newMatchIndex)
			e.state.SetNextIndex(peerID, newMatchIndex+1)
			e.updateCommitIndex()
		}
		return
	}

	if resp.ConflictIndex > 0 {
		e.state.SetNextIndex(peerID, resp.ConflictIndex)
	} else if nextIndex > 1 {
		e.state.SetNextIndex(peerID, nextIndex-1)
	}
}

func (e *Engine) getEntriesForReplication(startIndex uint64) []LogEntry {
	lastIndex := e.lastLogIndex()
	if startIndex > lastIndex {
		return nil
	}
	walEntries := e.wal.GetEntries(startIndex, lastIndex)
	entries := make([]LogEntry, len(walEntries))
	for i, ent := range walEntries {
		entries[i] = LogEntry{Term: ent.Term, Index: ent.Index, Command: ent.Command, Type: EntryType(ent.Type)}
	}
	return entries
}

func (e *Engine) sendSnapshot(peerID string, snap *wal.Snapshot) {
	req := &InstallSnapshotRequest{
		Term:              e.state.GetCurrentTerm(),
		LeaderID:          e.config.NodeID,
		LastIncludedIndex: snap.Metadata.LastIncludedIndex,
		LastIncludedTerm:  snap.Metadata.LastIncludedTerm,
		Data:              snap.Data,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := e.transport.InstallSnapshot(ctx, e.getPeerAddress(peerID), req)
	if err != nil {
		return
	}
	if resp.Term > e.state.GetCurrentTerm() {
		e.stepDown(resp.Term)
		return
	}
	e.state.SetNextIndex(peerID, snap.Metadata.LastIncludedIndex+1)
	e.state.SetMatchIndex(peerID, snap.Metadata.LastIncludedIndex)
}

func (e *Engine) updateCommitIndex() {
	peers := e.peerIDs()
	matchIndices := make([]uint64, 0, len(peers)+1)
	matchIndices = append(matchIndices, e.lastLogIndex())
	for _, peerID := range peers {
		matchIndices = append(matchIndices, e.state.GetMatchIndex(peerID))
	}

	sort.Slice(matchIndices, func(i, j int) bool { return matchIndices[i] > matchIndices[j] })
	newCommitIndex := matchIndices[len(matchIndices)/2]

	// Safety (Raft §5.4.2): a leader may only commit entries from its
	// own current term via the majority rule; older-term entries are
	// committed as a side effect once a current-term entry covers them.
	if newCommitIndex > e.state.GetCommitIndex() {
		entry := e.wal.GetEntry(newCommitIndex)
		if entry != nil && entry.Term == e.state.GetCurrentTerm() {
			e.state.SetCommitIndex(newCommitIndex)
			e.applyCommittedEntries()
		}
	}
}

// applyCommittedEntries advances lastApplied to commitIndex, delivering
// each entry on applyCh. The send happens after the lock is released --
// the engine mutex is never held across a channel send.
func (e *Engine) applyCommittedEntries() {
	commitIndex := e.state.GetCommitIndex()
	lastApplied := e.state.GetLastApplied()

	var toDeliver []ApplyMsg
	var readyReads []uint64

	for lastApplied < commitIndex {
		lastApplied++
		entry := e.wal.GetEntry(lastApplied)
		if entry == nil {
			continue
		}
		toDeliver = append(toDeliver, ApplyMsg{
			CommandValid: true,
			CommandIndex: entry.Index,
			CommandTerm:  entry.Term,
			Command:      entry.Command,
		})
		if wal.EntryType(entry.Type) == wal.EntryNoop {
			readyReads = append(readyReads, entry.Index)
		}
		e.state.SetLastApplied(lastApplied)
	}

	for _, idx := range readyReads {
		e.pendingMu.Lock()
		if ch, ok := e.pendingReads[idx]; ok {
			ch <- nil
			delete(e.pendingReads, idx)
		}
		e.pendingMu.Unlock()
	}

	for _, msg := range toDeliver {
		e.applyCh <- msg
	}
}

func (e *Engine) stepDown(term uint64) {
	e.state.SetCurrentTerm(term)
	e.state.SetState(Follower)
	e.state.SetVotedFor("")
	e.persistState()
}

func (e *Engine) persistState() {
	if err := e.wal.Save(e.state.GetCurrentTerm(), e.state.GetVotedFor(), e.wal.GetAllEntries()); err != nil {
		e.logger.Printf("[%s] failed to persist state: %v", e.config.NodeID, err)
	}
}

func (e *Engine) randomElectionTimeout() time.Duration {
	return e.config.ElectionTimeout + time.Duration(e.rand.Int63n(int64(e.config.ElectionTimeout)))
}

func (e *Engine) getPeerAddress(peerID string) string {
	if addr, ok := e.config.Peers[peerID]; ok {
		return addr
	}
	return peerID
}

func (e *Engine) lastLogIndex() uint64 {
	if idx := e.wal.GetLastIndex(); idx > 0 {
		return idx
	}
	lastIncludedIndex, _ := e.wal.LastIncluded()
	return lastIncludedIndex
}

func (e *Engine) lastLogTerm() uint64 {
	if idx := e.wal.GetLastIndex(); idx > 0 {
		return e.wal.GetLastTerm()
	}
	_, lastIncludedTerm := e.wal.LastIncluded()
	return lastIncludedTerm
}

// HandleRequestVote handles a RequestVote RPC.
func (e *Engine) HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp := &RequestVoteResponse{Term: e.state.GetCurrentTerm()}

	if req.Term < e.state.GetCurrentTerm() {
		return resp
	}
	if req.Term > e.state.GetCurrentTerm() {
		e.stepDown(req.Term)
		resp.Term = req.Term
	}

	votedFor := e.state.GetVotedFor()
	canVote := votedFor == "" || votedFor == req.CandidateID
	logUpToDate := req.LastLogTerm > e.lastLogTerm() ||
		(req.LastLogTerm == e.lastLogTerm() && req.LastLogIndex >= e.lastLogIndex())

	if canVote && logUpToDate {
		e.state.SetVotedFor(req.CandidateID)
		e.state.SetLastHeartbeat(time.Now())
		resp.VoteGranted = true
		e.persistState()
	}
	return resp
}

// HandleAppendEntries handles an AppendEntries RPC (Raft §5.3). The lock
// is released before delivering newly committed entries on applyCh --
// never held across that send, same as the leader's updateCommitIndex.
func (e *Engine) HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	e.mu.Lock()

	resp := &AppendEntriesResponse{Term: e.state.GetCurrentTerm()}

	if req.Term < e.state.GetCurrentTerm() {
		e.mu.Unlock()
		return resp
	}

	e.state.SetLastHeartbeat(time.Now())
	e.state.SetLeaderId(req.LeaderID)

	if req.Term > e.state.GetCurrentTerm() {
		e.stepDown(req.Term)
		resp.Term = req.Term
	}
	if e.state.GetState() != Follower {
		e.state.SetState(Follower)
	}

	lastIncludedIndex, lastIncludedTerm := e.wal.LastIncluded()

	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex == lastIncludedIndex {
			if lastIncludedTerm != req.PrevLogTerm {
				resp.ConflictIndex = 1
				e.mu.Unlock()
				return resp
			}
		} else {
			prevEntry := e.wal.GetEntry(req.PrevLogIndex)
			if prevEntry == nil {
				resp.ConflictIndex = e.lastLogIndex() + 1
				e.mu.Unlock()
				return resp
			}
			if prevEntry.Term != req.PrevLogTerm {
				resp.ConflictTerm = prevEntry.Term
				resp.ConflictIndex = req.PrevLogIndex
				for idx := req.PrevLogIndex - 1; idx > lastIncludedIndex; idx-- {
					ent := e.wal.GetEntry(idx)
					if ent == nil || ent.Term != resp.ConflictTerm {
						resp.ConflictIndex = idx + 1
						break
					}
				}
				e.wal.TruncateAfter(req.PrevLogIndex - 1)
				e.mu.Unlock()
				return resp
			}
		}
	}

	if len(req.Entries) > 0 {
		newEntries := make([]wal.Entry, 0, len(req.Entries))
		for _, reqEntry := range req.Entries {
			existing := e.wal.GetEntry(reqEntry.Index)
			if existing != nil {
				if existing.Term == reqEntry.Term {
					continue
				}
				e.wal.TruncateAfter(reqEntry.Index - 1)
			}
			newEntries = append(newEntries, wal.Entry{
				Term:    reqEntry.Term,
				Index:   reqEntry.Index,
				Command: reqEntry.Command,
				Type:    wal.EntryType(reqEntry.Type),
			})
		}
		if len(newEntries) > 0 {
			if err := e.wal.AppendEntries(newEntries); err != nil {
				e.logger.Printf("[%s] failed to append entries: %v", e.config.NodeID, err)
				e.mu.Unlock()
				return resp
			}
		}
	}

	resp.Success = true
	resp.MatchIndex = e.lastLogIndex()

	shouldApply := false
	if req.LeaderCommit > e.state.GetCommitIndex() {
		newCommitIndex := req.LeaderCommit
		if last := e.lastLogIndex(); last < newCommitIndex {
			newCommitIndex = last
		}
		e.state.SetCommitIndex(newCommitIndex)
		shouldApply = true
	}

	e.mu.Unlock()

	if shouldApply {
		e.applyCommittedEntries()
	}

	return resp
}

// HandleInstallSnapshot handles an InstallSnapshot RPC. Apart from
// adopting a newer term, it does not itself mutate persisted state: it
// only hands the snapshot to the
// consumer of the apply stream, which must call CondInstallSnapshot to
// actually install it (the same split the Raft paper's §7 discussion and
// 6.824-lineage implementations use, so a slow-to-apply state machine
// never loses a snapshot race with further committed entries).
func (e *Engine) HandleInstallSnapshot(req *InstallSnapshotRequest) *InstallSnapshotResponse {
	e.mu.Lock()

	resp := &InstallSnapshotResponse{Term: e.state.GetCurrentTerm()}
	if req.Term < e.state.GetCurrentTerm() {
		e.mu.Unlock()
		return resp
	}

	e.state.SetLastHeartbeat(time.Now())
	e.state.SetLeaderId(req.LeaderID)

	if req.Term > e.state.GetCurrentTerm() {
		e.stepDown(req.Term)
		resp.Term = req.Term
	}
	e.mu.Unlock()

	e.applyCh <- ApplyMsg{
		SnapshotValid: true,
		SnapshotIndex: req.LastIncludedIndex,
		SnapshotTerm:  req.LastIncludedTerm,
		Snapshot:      req.Data,
	}

	return resp
}

// Submit appends command to the log if this replica is the leader and
// returns immediately with the index and term it will occupy if
// committed -- it does not wait for commit. Callers (pkg/service) learn
// of commit by watching the apply stream.
func (e *Engine) Submit(command []byte) (index uint64, term uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.GetState() != Leader {
		return 0, 0, &NotLeaderError{Hint: e.state.GetLeaderId()}
	}

	term = e.state.GetCurrentTerm()
	index = e.appendEntry(command, EntryNormal)
	if index == 0 {
		return 0, 0, fmt.Errorf("raft: append failed")
	}
	go e.sendHeartbeats()
	return index, term, nil
}

// ReadIndex commits a no-op barrier and blocks until it is applied,
// confirming this replica is still the leader as of the call -- the
// mechanism pkg/service uses to serve linearizable reads without
// writing a client command through the log.
func (e *Engine) ReadIndex(ctx context.Context) error {
	e.mu.Lock()
	if e.state.GetState() != Leader {
		e.mu.Unlock()
		return &NotLeaderError{Hint: e.state.GetLeaderId()}
	}

	index := e.appendEntry(nil, EntryNoop)
	if index == 0 {
		e.mu.Unlock()
		return fmt.Errorf("raft: append failed")
	}

	ch := make(chan error, 1)
	e.pendingMu.Lock()
	e.pendingReads[index] = ch
	e.pendingMu.Unlock()
	e.mu.Unlock()

	go e.sendHeartbeats()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		e.pendingMu.Lock()
		delete(e.pendingReads, index)
		e.pendingMu.Unlock()
		return ctx.Err()
	case <-e.shutdownC:
		return ErrNodeStopped
	}
}

// Snapshot installs a new snapshot prefix once the state machine layered
// on this engine has itself produced a snapshot covering everything up
// to and including index. The corresponding log entry must exist (or
// already be covered by the current snapshot) and the caller must not
// have skipped ahead of commitIndex.
func (e *Engine) Snapshot(index uint64, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lastIncludedIndex, _ := e.wal.LastIncluded()
	if index <= lastIncludedIndex {
		return ErrStaleRequest
	}
	entry := e.wal.GetEntry(index)
	if entry == nil {
		return fmt.Errorf("raft: no log entry at index %d to snapshot", index)
	}

	return e.wal.SaveSnapshot(wal.Snapshot{
		Metadata: wal.SnapshotMetadata{LastIncludedIndex: index, LastIncludedTerm: entry.Term},
		Data:     data,
	})
}

// CondInstallSnapshot is called by the state machine after it decides to
// actually adopt a snapshot it received via the apply stream. It returns
// false if the snapshot is stale -- the engine has already applied past
// lastIncludedIndex -- in which case the caller must discard it and keep
// its current state.
func (e *Engine) CondInstallSnapshot(lastIncludedTerm, lastIncludedIndex uint64, data []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lastIncludedIndex < e.state.GetLastApplied() {
		return false
	}

	if err := e.wal.SaveSnapshot(wal.Snapshot{
		Metadata: wal.SnapshotMetadata{LastIncludedIndex: lastIncludedIndex, LastIncludedTerm: lastIncludedTerm},
		Data:     data,
	}); err != nil {
		e.logger.Printf("[%s] failed to install snapshot: %v", e.config.NodeID, err)
		return false
	}

	e.state.SetLastApplied(lastIncludedIndex)
	if lastIncludedIndex > e.state.GetCommitIndex() {
		e.state.SetCommitIndex(lastIncludedIndex)
	}
	return true
}

// Status reports the replica's current view of the cluster.
func (e *Engine) Status() (leaderID string, term uint64, isLeader bool) {
	return e.state.GetLeaderId(), e.state.GetCurrentTerm(), e.state.IsLeader()
}

// GetState returns the current role.
func (e *Engine) GetState() State { return e.state.GetState() }

// NodeID returns this replica's id.
func (e *Engine) NodeID() string { return e.config.NodeID }

// IsLeader reports whether this replica currently believes it is leader.
func (e *Engine) IsLeader() bool { return e.state.IsLeader() }

// LogSize reports the number of log entries currently held beyond the
// snapshot prefix -- the signal pkg/service uses to decide when to
// trigger a snapshot against its configured threshold.
func (e *Engine) LogSize() int { return e.wal.Size() }

// LastHeartbeat reports when this replica last heard from (or, as
// leader, last confirmed leadership to) the rest of the cluster -- the
// admin HTTP status surface reports it as a protobuf well-known
// Timestamp.
func (e *Engine) LastHeartbeat() time.Time { return e.state.GetLastHeartbeat() }
