package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mixelka/replybot/pkg/models"
)

type sentReply struct {
	ThreadID string
	Reply    models.OutgoingReply
}

// fakeMail is an in-memory mailbox. Label IDs are "id:" + name.
type fakeMail struct {
	mu sync.Mutex

	messages []*models.InboundMessage
	threads  map[string][]string // thread ID -> message IDs
	labels   map[string]map[string]bool
	froms    map[string]string

	ignoreExclude bool          // list processed messages again
	listEntered   chan struct{} // closed when List is first called
	listRelease   chan struct{} // List blocks until closed
	sendErrs      []error       // consumed one per SendReply call
	modifyErr     error

	sent        []sentReply
	ensured     []string
	modifyCalls int
}

func newFakeMail() *fakeMail {
	return &fakeMail{
		threads: make(map[string][]string),
		labels:  make(map[string]map[string]bool),
		froms:   make(map[string]string),
	}
}

func (f *fakeMail) add(msg *models.InboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	f.threads[msg.ThreadID] = append(f.threads[msg.ThreadID], msg.ID)
	f.labels[msg.ID] = map[string]bool{"UNREAD": true}
	f.froms[msg.ID] = msg.From
}

// addThreadMessage adds a message that is only visible through GetThread
func (f *fakeMail) addThreadMessage(threadID, id, from string, labels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[threadID] = append(f.threads[threadID], id)
	f.labels[id] = make(map[string]bool)
	for _, l := range labels {
		f.labels[id][l] = true
	}
	f.froms[id] = from
}

func (f *fakeMail) hasLabel(messageID, labelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labels[messageID][labelID]
}

func (f *fakeMail) sentReplies() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.sent...)
}

func (f *fakeMail) ListCandidateMessages(ctx context.Context, excludeLabel string, limit int) ([]*models.InboundMessage, error) {
	if f.listEntered != nil {
		close(f.listEntered)
		f.listEntered = nil
	}
	if f.listRelease != nil {
		<-f.listRelease
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.InboundMessage
	for _, m := range f.messages {
		if !f.ignoreExclude && f.labels[m.ID]["id:"+excludeLabel] {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMail) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, ok := f.threads[threadID]
	if !ok {
		return nil, errors.New("thread not found")
	}
	thread := &models.Thread{ID: threadID}
	for _, id := range ids {
		tm := models.ThreadMessage{ID: id, From: f.froms[id]}
		for l := range f.labels[id] {
			tm.Labels = append(tm.Labels, l)
		}
		thread.Messages = append(thread.Messages, tm)
	}
	return thread, nil
}

func (f *fakeMail) ModifyLabels(ctx context.Context, messageID string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.modifyCalls++
	if f.modifyErr != nil {
		return f.modifyErr
	}
	if f.labels[messageID] == nil {
		f.labels[messageID] = make(map[string]bool)
	}
	for _, l := range add {
		f.labels[messageID][l] = true
	}
	for _, l := range remove {
		delete(f.labels[messageID], l)
	}
	return nil
}

func (f *fakeMail) SendReply(ctx context.Context, threadID string, reply models.OutgoingReply) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, sentReply{ThreadID: threadID, Reply: reply})
	return fmt.Sprintf("sent-%d", len(f.sent)), nil
}

func (f *fakeMail) EnsureLabel(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, name)
	return "id:" + name, nil
}

func (f *fakeMail) ThreadHasLabel(ctx context.Context, threadID, labelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.threads[threadID] {
		if f.labels[id][labelID] {
			return true, nil
		}
	}
	return false, nil
}

// fakeReplies returns queued results in order, then the fallback reply
type fakeReplies struct {
	mu       sync.Mutex
	results  []replyResult
	fallback string
	requests []models.ReplyRequest
	onCall   func()
}

type replyResult struct {
	text string
	err  error
}

func (f *fakeReplies) SmartReply(ctx context.Context, req models.ReplyRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var res replyResult
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	} else {
		res = replyResult{text: f.fallback}
	}
	onCall := f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	return res.text, res.err
}

func (f *fakeReplies) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeOrders struct {
	order *models.Order
	err   error
}

func (f *fakeOrders) GetOrderByName(ctx context.Context, name string) (*models.Order, error) {
	return f.order, f.err
}

// failingStore wraps a store and starts failing writes after n records
type failingStore struct {
	ActionStore
	mu       sync.Mutex
	allowed  int
	recorded int
}

func (s *failingStore) Record(ctx context.Context, id string, action models.Action, meta models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recorded >= s.allowed {
		return errors.New("disk I/O error")
	}
	s.recorded++
	return s.ActionStore.Record(ctx, id, action, meta)
}
