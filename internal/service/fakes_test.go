package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/teamtalk/internal/cache"
	"github.com/teamtalk/internal/model"
	"github.com/teamtalk/internal/notify"
	"github.com/teamtalk/internal/repository"
	"github.com/teamtalk/internal/ws"
	"testing"
)

// memConvStore is an in-memory ConversationStore mirroring the repository's
// semantics, including the departure transition.
type memConvStore struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
	parts map[string]map[string]*model.Participant
}

func newMemConvStore() *memConvStore {
	return &memConvStore{
		convs: make(map[string]*model.Conversation),
		parts: make(map[string]map[string]*model.Participant),
	}
}

func (s *memConvStore) CreateWithParticipants(_ context.Context, c *model.Conversation, parts []model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := *c
	s.convs[c.ID] = &cc
	s.parts[c.ID] = make(map[string]*model.Participant)
	for _, p := range parts {
		pp := p
		s.parts[c.ID][p.UserID] = &pp
	}
	return nil
}

func (s *memConvStore) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok || c.Deleted() {
		return nil, repository.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (s *memConvStore) FindDirect(_ context.Context, orgID, userA, userB string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *model.Conversation
	for _, c := range s.convs {
		if c.OrgID != orgID || c.Type != model.ConversationDirect || c.Deleted() {
			continue
		}
		pa, okA := s.parts[c.ID][userA]
		pb, okB := s.parts[c.ID][userB]
		if okA && okB && pa.Active() && pb.Active() {
			if found == nil || c.CreatedAt.Before(found.CreatedAt) {
				found = c
			}
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	cc := *found
	return &cc, nil
}

func (s *memConvStore) ListForUser(_ context.Context, userID string, f repository.ListFilter) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Conversation
	for _, c := range s.convs {
		if c.Deleted() {
			continue
		}
		p, ok := s.parts[c.ID][userID]
		if !ok || !p.Active() {
			continue
		}
		if !f.IncludeArchived && p.ArchivedAt != nil {
			continue
		}
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memConvStore) Update(_ context.Context, id, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		c.Name, c.Description = name, description
	}
	return nil
}

func (s *memConvStore) TouchActivity(_ context.Context, id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		c.LastActivityAt = t
	}
	return nil
}

func (s *memConvStore) SoftDelete(_ context.Context, id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok && c.DeletedAt == nil {
		c.DeletedAt = &t
	}
	return nil
}

func (s *memConvStore) GetParticipant(_ context.Context, conversationID, userID string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[conversationID][userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	pp := *p
	return &pp, nil
}

func (s *memConvStore) ActiveParticipants(_ context.Context, conversationID string) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(conversationID), nil
}

func (s *memConvStore) activeLocked(conversationID string) []model.Participant {
	var out []model.Participant
	for _, p := range s.parts[conversationID] {
		if p.Active() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (s *memConvStore) AddParticipants(_ context.Context, parts []model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range parts {
		if existing, ok := s.parts[p.ConversationID][p.UserID]; ok {
			if existing.LeftAt != nil {
				existing.Role = p.Role
				existing.JoinedAt = p.JoinedAt
				existing.LeftAt = nil
				existing.UnreadCount = 0
			}
			continue
		}
		pp := p
		s.parts[p.ConversationID][p.UserID] = &pp
	}
	return nil
}

func (s *memConvStore) SetArchived(_ context.Context, conversationID, userID string, archived bool, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[conversationID][userID]
	if !ok || !p.Active() {
		return repository.ErrNotFound
	}
	if archived {
		p.ArchivedAt = &t
	} else {
		p.ArchivedAt = nil
	}
	return nil
}

func (s *memConvStore) SetMuted(_ context.Context, conversationID, userID string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[conversationID][userID]
	if !ok || !p.Active() {
		return repository.ErrNotFound
	}
	p.Muted = muted
	return nil
}

func (s *memConvStore) Leave(_ context.Context, conversationID, userID string, now time.Time) (repository.LeaveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out repository.LeaveOutcome

	active := s.activeLocked(conversationID)
	leavingIdx := -1
	admins := 0
	for i, p := range active {
		if p.Role == model.RoleAdmin {
			admins++
		}
		if p.UserID == userID {
			leavingIdx = i
		}
	}
	if leavingIdx == -1 {
		return out, repository.ErrNotFound
	}
	s.parts[conversationID][userID].LeftAt = &now

	wasSoleAdmin := active[leavingIdx].Role == model.RoleAdmin && admins == 1
	switch model.DepartureTransition(wasSoleAdmin, len(active)-1) {
	case model.DeparturePromoteOldest:
		for _, p := range active {
			if p.UserID == userID {
				continue
			}
			s.parts[conversationID][p.UserID].Role = model.RoleAdmin
			out.PromotedUserID = p.UserID
			break
		}
	case model.DepartureDeleteConversation:
		if c, ok := s.convs[conversationID]; ok && c.DeletedAt == nil {
			c.DeletedAt = &now
		}
		out.ConversationDeleted = true
	}
	return out, nil
}

func (s *memConvStore) IncrementUnread(_ context.Context, conversationID, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parts[conversationID] {
		if p.UserID != senderID && p.Active() {
			p.UnreadCount++
		}
	}
	return nil
}

func (s *memConvStore) RecomputeUnread(_ context.Context, conversationID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[conversationID][userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	p.UnreadCount = 0
	return 0, nil
}

func (s *memConvStore) TotalUnread(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for convID, parts := range s.parts {
		c, ok := s.convs[convID]
		if !ok || c.Deleted() {
			continue
		}
		if p, ok := parts[userID]; ok && p.Active() {
			total += p.UnreadCount
		}
	}
	return total, nil
}

// memMsgStore is an in-memory MessageStore with the repository's ordering
// semantics: newest first, ties broken by id.
type memMsgStore struct {
	mu    sync.Mutex
	msgs  map[string]*model.Message
	convs *memConvStore
}

func newMemMsgStore(convs *memConvStore) *memMsgStore {
	return &memMsgStore{msgs: make(map[string]*model.Message), convs: convs}
}

func (s *memMsgStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mm := *m
	s.msgs[m.ID] = &mm
	return nil
}

func (s *memMsgStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	mm := *m
	return &mm, nil
}

func less(a, b *model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// tombstone mirrors the list-path rule: soft-deleted rows keep their place in
// history but carry no content.
func tombstone(m model.Message) model.Message {
	if m.DeletedAt != nil {
		m.Content = ""
		m.Attachments = nil
	}
	return m
}

func (s *memMsgStore) sorted(conversationID string) []*model.Message {
	var out []*model.Message
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[j], out[i]) })
	return out
}

func (s *memMsgStore) ListPage(_ context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted(conversationID)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]model.Message, len(all))
	for i, m := range all {
		out[i] = tombstone(*m)
	}
	return out, nil
}

func (s *memMsgStore) ListBefore(_ context.Context, conversationID string, createdAt time.Time, id string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	anchor := &model.Message{CreatedAt: createdAt, ID: id}
	var out []model.Message
	for _, m := range s.sorted(conversationID) {
		if less(m, anchor) {
			out = append(out, tombstone(*m))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memMsgStore) ListAfter(_ context.Context, conversationID string, createdAt time.Time, id string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	anchor := &model.Message{CreatedAt: createdAt, ID: id}
	sorted := s.sorted(conversationID)
	var out []model.Message
	for i := len(sorted) - 1; i >= 0; i-- {
		if less(anchor, sorted[i]) {
			out = append(out, tombstone(*sorted[i]))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memMsgStore) Count(_ context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (s *memMsgStore) UpdateContent(_ context.Context, id, content string, editedAt time.Time, editedBy string, md model.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.msgs[id]; ok {
		m.Content = content
		m.EditedAt = &editedAt
		m.EditedBy = &editedBy
		m.Metadata = md
	}
	return nil
}

func (s *memMsgStore) SoftDelete(_ context.Context, id string, t time.Time, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.msgs[id]; ok && m.DeletedAt == nil {
		m.DeletedAt = &t
		m.DeletedBy = &by
	}
	return nil
}

func (s *memMsgStore) Search(ctx context.Context, userID string, q repository.SearchQuery) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.msgs {
		if m.Deleted() {
			continue
		}
		if _, err := s.convs.GetByID(ctx, m.ConversationID); err != nil {
			continue
		}
		if _, err := s.convs.GetParticipant(ctx, m.ConversationID, userID); err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(m.Content), strings.ToLower(q.Query)) {
			continue
		}
		if q.ConversationID != "" && m.ConversationID != q.ConversationID {
			continue
		}
		if q.Type != "" && m.Type != q.Type {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[j], &out[i]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type memReactionStore struct {
	mu    sync.Mutex
	byMsg map[string][]model.Reaction
}

func newMemReactionStore() *memReactionStore {
	return &memReactionStore{byMsg: make(map[string][]model.Reaction)}
}

func (s *memReactionStore) Add(_ context.Context, messageID, userID, emoji string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byMsg[messageID] {
		if r.UserID == userID && r.Emoji == emoji {
			return repository.ErrDuplicate
		}
	}
	s.byMsg[messageID] = append(s.byMsg[messageID], model.Reaction{
		MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: at,
	})
	return nil
}

func (s *memReactionStore) Remove(_ context.Context, messageID, userID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byMsg[messageID]
	for i, r := range list {
		if r.UserID == userID && r.Emoji == emoji {
			s.byMsg[messageID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *memReactionStore) ListForMessages(_ context.Context, messageIDs []string) (map[string][]model.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]model.Reaction)
	for _, id := range messageIDs {
		if rs := s.byMsg[id]; len(rs) > 0 {
			out[id] = append([]model.Reaction(nil), rs...)
		}
	}
	return out, nil
}

type memReceiptStore struct {
	mu    sync.Mutex
	byMsg map[string]map[string]time.Time
	msgs  *memMsgStore
	convs *memConvStore
}

func newMemReceiptStore(msgs *memMsgStore, convs *memConvStore) *memReceiptStore {
	return &memReceiptStore{byMsg: make(map[string]map[string]time.Time), msgs: msgs, convs: convs}
}

func (s *memReceiptStore) MarkRead(ctx context.Context, userID string, messageIDs []string, at time.Time) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, id := range messageIDs {
		m, err := s.msgs.GetByID(ctx, id)
		if err != nil {
			continue
		}
		p, err := s.convs.GetParticipant(ctx, m.ConversationID, userID)
		if err != nil || !p.Active() {
			continue
		}
		s.mu.Lock()
		if s.byMsg[id] == nil {
			s.byMsg[id] = make(map[string]time.Time)
		}
		if _, already := s.byMsg[id][userID]; !already {
			s.byMsg[id][userID] = at
			out[m.ConversationID] = append(out[m.ConversationID], id)
		}
		s.mu.Unlock()
	}
	return out, nil
}

func (s *memReceiptStore) ReadersFor(_ context.Context, messageIDs []string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string)
	for _, id := range messageIDs {
		for uid := range s.byMsg[id] {
			out[id] = append(out[id], uid)
		}
		sort.Strings(out[id])
	}
	return out, nil
}

// fakeBroadcaster records fan-out calls.
type fakeBroadcaster struct {
	mu         sync.Mutex
	convEvents map[string][]ws.Event
	userEvents map[string][]ws.Event
	online     map[string]bool
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		convEvents: make(map[string][]ws.Event),
		userEvents: make(map[string][]ws.Event),
		online:     make(map[string]bool),
	}
}

func (b *fakeBroadcaster) ToConversation(conversationID string, e ws.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convEvents[conversationID] = append(b.convEvents[conversationID], e)
}

func (b *fakeBroadcaster) ToUser(userID string, e ws.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userEvents[userID] = append(b.userEvents[userID], e)
}

func (b *fakeBroadcaster) Online(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online[userID]
}

func (b *fakeBroadcaster) eventsFor(conversationID string) []ws.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ws.Event(nil), b.convEvents[conversationID]...)
}

type fakePublisher struct {
	mu      sync.Mutex
	intents []notify.Intent
}

func (p *fakePublisher) Publish(_ context.Context, in notify.Intent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents = append(p.intents, in)
	return nil
}

func (p *fakePublisher) all() []notify.Intent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Intent(nil), p.intents...)
}

// fixture bundles both services over shared in-memory stores and a miniredis
// cache.
type fixture struct {
	convs    *memConvStore
	msgs     *memMsgStore
	react    *memReactionStore
	receipts *memReceiptStore
	bc       *fakeBroadcaster
	pub      *fakePublisher
	cache    *cache.Client

	convSvc *Conversations
	msgSvc  *Messages

	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cli.Close() })

	f := &fixture{
		convs: newMemConvStore(),
		bc:    newFakeBroadcaster(),
		pub:   &fakePublisher{},
		cache: cache.NewFromClient(cli),
		now:   time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}
	f.msgs = newMemMsgStore(f.convs)
	f.react = newMemReactionStore()
	f.receipts = newMemReceiptStore(f.msgs, f.convs)

	f.convSvc = NewConversations(f.convs, f.msgs, f.cache, f.bc, f.pub)
	f.msgSvc = NewMessages(f.convs, f.msgs, f.react, f.receipts, f.cache, f.bc, f.pub, 30*time.Second, 10*time.Minute)

	clock := func() time.Time { return f.now }
	f.convSvc.now = clock
	f.msgSvc.now = clock
	return f
}

// advance moves the fixture clock so consecutive messages get distinct
// timestamps.
func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}
