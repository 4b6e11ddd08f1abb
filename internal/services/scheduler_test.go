package services

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"quanzi/internal/models"
	"quanzi/internal/utils"
)

// fakeStore 内存版 ConversationStore，认领语义与生产实现一致（互斥 CAS）
type fakeStore struct {
	mu            sync.Mutex
	users         map[uint]*models.User
	posts         map[uint]*models.Post
	followers     map[uint]*models.AiFollower
	muted         map[[2]uint]bool
	interactions  []*models.Interaction
	pending       map[uint]*models.PendingResponse
	notifications []*models.Notification
	nextID        uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[uint]*models.User{},
		posts:     map[uint]*models.Post{},
		followers: map[uint]*models.AiFollower{},
		muted:     map[[2]uint]bool{},
		pending:   map[uint]*models.PendingResponse{},
	}
}

func (s *fakeStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) GetUser(id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], nil
}

func (s *fakeStore) GetPost(id uint) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts[id], nil
}

func (s *fakeStore) GetAiFollower(id uint) (*models.AiFollower, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.followers[id], nil
}

func (s *fakeStore) IsFollowerMuted(circleID, followerID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted[[2]uint{circleID, followerID}], nil
}

func (s *fakeStore) GetInteraction(id uint) (*models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.interactions {
		if in.ID == id {
			return in, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetPostInteractions(postID uint) ([]models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Interaction
	for _, in := range s.interactions {
		if in.PostID == postID {
			result = append(result, *in)
		}
	}
	return result, nil
}

func (s *fakeStore) CreateInteraction(in *models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ID == 0 {
		in.ID = s.id()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	s.interactions = append(s.interactions, in)
	return nil
}

func (s *fakeStore) CreateNotification(n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *fakeStore) CreatePendingResponse(pr *models.PendingResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pr.ID == 0 {
		pr.ID = s.id()
	}
	s.pending[pr.ID] = pr
	return nil
}

func (s *fakeStore) GetPostPendingResponses(postID uint) ([]models.PendingResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.PendingResponse
	for _, pr := range s.pending {
		if pr.PostID == postID {
			result = append(result, *pr)
		}
	}
	return result, nil
}

func (s *fakeStore) DuePendingResponses(now time.Time) ([]models.PendingResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.PendingResponse
	for _, pr := range s.pending {
		if !pr.ScheduledFor.After(now) && !pr.Processing {
			result = append(result, *pr)
		}
	}
	return result, nil
}

func (s *fakeStore) ClaimPendingResponse(id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.pending[id]
	if !ok || pr.Processing {
		return false, nil
	}
	pr.Processing = true
	return true, nil
}

func (s *fakeStore) ReleasePendingResponse(id uint, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pr, ok := s.pending[id]; ok {
		pr.Processing = false
		pr.Attempts = attempts
	}
	return nil
}

func (s *fakeStore) DeletePendingResponse(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	return nil
}

func (s *fakeStore) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *fakeStore) interactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.interactions)
}

// stubGenerator 可编程的生成器桩
type stubGenerator struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
	delay time.Duration
}

func (g *stubGenerator) GenerateReply(follower *models.AiFollower, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return "", g.err
	}
	if g.reply != "" {
		return g.reply, nil
	}
	return "好的，收到", nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testFollower(id uint, chance, delayMin, delayMax int) *models.AiFollower {
	return &models.AiFollower{
		ID:               id,
		Name:             "小竹",
		Responsiveness:   models.ResponsivenessActive,
		ResponseDelayMin: delayMin,
		ResponseDelayMax: delayMax,
		ResponseChance:   chance,
		Active:           true,
	}
}

func setupScheduler(t *testing.T) (*ResponseScheduler, *fakeStore, *stubGenerator) {
	t.Helper()
	store := newFakeStore()
	gen := &stubGenerator{}
	store.posts[1] = &models.Post{ID: 1, UserID: 1, CircleID: 1, Content: "今天天气不错"}
	return NewResponseScheduler(store, gen), store, gen
}

func TestScheduleResponseChanceZeroNeverSchedules(t *testing.T) {
	s, store, _ := setupScheduler(t)
	follower := testFollower(1, 0, 1, 5)
	store.followers[1] = follower

	for i := 0; i < 100; i++ {
		if err := s.ScheduleResponse(1, follower); err != nil {
			t.Fatalf("ScheduleResponse failed: %v", err)
		}
	}
	if n := store.pendingCount(); n != 0 {
		t.Errorf("Expected 0 pending responses for chance=0, got %d", n)
	}
}

func TestScheduleResponseChanceFullAlwaysSchedules(t *testing.T) {
	s, store, _ := setupScheduler(t)
	follower := testFollower(1, 100, 5, 10)
	store.followers[1] = follower

	before := time.Now()
	if err := s.ScheduleResponse(1, follower); err != nil {
		t.Fatalf("ScheduleResponse failed: %v", err)
	}
	if n := store.pendingCount(); n != 1 {
		t.Fatalf("Expected 1 pending response for chance=100, got %d", n)
	}

	pending, _ := store.GetPostPendingResponses(1)
	got := pending[0].ScheduledFor
	lo := before.Add(5 * time.Minute).Add(-time.Second)
	hi := time.Now().Add(10 * time.Minute).Add(time.Second)
	if got.Before(lo) || got.After(hi) {
		t.Errorf("ScheduledFor %v outside delay range [%v, %v]", got, lo, hi)
	}
}

func TestScheduleResponseIdempotent(t *testing.T) {
	s, store, _ := setupScheduler(t)
	follower := testFollower(1, 100, 1, 5)
	store.followers[1] = follower

	for i := 0; i < 3; i++ {
		if err := s.ScheduleResponse(1, follower); err != nil {
			t.Fatalf("ScheduleResponse failed: %v", err)
		}
	}
	if n := store.pendingCount(); n != 1 {
		t.Errorf("Expected 1 pending root response after repeated scheduling, got %d", n)
	}

	// 已有的线程级待回应不挡新的根级排期
	other := testFollower(2, 100, 1, 5)
	store.followers[2] = other
	metadata, _ := EncodeResponseMetadata(nil, 42)
	store.CreatePendingResponse(&models.PendingResponse{
		PostID: 1, AiFollowerID: 2, ScheduledFor: time.Now().Add(time.Hour), Metadata: metadata,
	})
	if err := s.ScheduleResponse(1, other); err != nil {
		t.Fatalf("ScheduleResponse failed: %v", err)
	}
	if n := store.pendingCount(); n != 3 {
		t.Errorf("Expected thread pending plus new root pending (3 total), got %d", n)
	}
}

func TestSchedulerIntervalFromEnv(t *testing.T) {
	store := newFakeStore()
	gen := &stubGenerator{}

	os.Setenv("SCHEDULER_INTERVAL", "30")
	s := NewResponseScheduler(store, gen)
	if s.interval != 30*time.Second {
		t.Errorf("Expected 30s interval from env, got %s", s.interval)
	}

	// 非法值回落到默认间隔
	os.Setenv("SCHEDULER_INTERVAL", "30s")
	s = NewResponseScheduler(store, gen)
	if s.interval != defaultSchedulerInterval {
		t.Errorf("Expected default interval for malformed value, got %s", s.interval)
	}

	os.Unsetenv("SCHEDULER_INTERVAL")
}

func TestScheduleResponseSkipsInactiveAndMuted(t *testing.T) {
	s, store, _ := setupScheduler(t)

	inactive := testFollower(1, 100, 1, 5)
	inactive.Active = false
	store.followers[1] = inactive
	if err := s.ScheduleResponse(1, inactive); err != nil {
		t.Fatalf("ScheduleResponse failed: %v", err)
	}

	mutedFollower := testFollower(2, 100, 1, 5)
	store.followers[2] = mutedFollower
	store.muted[[2]uint{1, 2}] = true
	if err := s.ScheduleResponse(1, mutedFollower); err != nil {
		t.Fatalf("ScheduleResponse failed: %v", err)
	}

	if n := store.pendingCount(); n != 0 {
		t.Errorf("Expected inactive/muted followers to be skipped, got %d pending", n)
	}
}

func TestScheduleThreadResponsePrimaryBypassesChance(t *testing.T) {
	s, store, _ := setupScheduler(t)
	follower := testFollower(1, 0, 1, 5)
	store.followers[1] = follower

	metadata, err := EncodeResponseMetadata(nil, 42)
	if err != nil {
		t.Fatalf("EncodeResponseMetadata failed: %v", err)
	}
	if err := s.ScheduleThreadResponse(1, follower, 42, metadata, true); err != nil {
		t.Fatalf("ScheduleThreadResponse failed: %v", err)
	}
	if n := store.pendingCount(); n != 1 {
		t.Errorf("Expected primary target to schedule despite chance=0, got %d pending", n)
	}
}

func TestScheduleThreadResponseIdempotent(t *testing.T) {
	s, store, _ := setupScheduler(t)
	follower := testFollower(1, 100, 1, 5)
	store.followers[1] = follower

	metadata, _ := EncodeResponseMetadata(nil, 42)
	for i := 0; i < 3; i++ {
		if err := s.ScheduleThreadResponse(1, follower, 42, metadata, true); err != nil {
			t.Fatalf("ScheduleThreadResponse failed: %v", err)
		}
	}
	if n := store.pendingCount(); n != 1 {
		t.Errorf("Expected 1 pending response after repeated scheduling, got %d", n)
	}

	// 不同的父回应不受幂等护栏影响
	other, _ := EncodeResponseMetadata(nil, 43)
	if err := s.ScheduleThreadResponse(1, follower, 43, other, true); err != nil {
		t.Fatalf("ScheduleThreadResponse failed: %v", err)
	}
	if n := store.pendingCount(); n != 2 {
		t.Errorf("Expected 2 pending responses for two distinct parents, got %d", n)
	}
}

func TestScheduleThreadResponseSecondaryDelayedLater(t *testing.T) {
	s, store, _ := setupScheduler(t)
	follower := testFollower(1, 100, 5, 10)
	store.followers[1] = follower

	metadata, _ := EncodeResponseMetadata(nil, 42)
	before := time.Now()
	if err := s.ScheduleThreadResponse(1, follower, 42, metadata, false); err != nil {
		t.Fatalf("ScheduleThreadResponse failed: %v", err)
	}

	pending, _ := store.GetPostPendingResponses(1)
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending response, got %d", len(pending))
	}
	got := pending[0].ScheduledFor
	lo := before.Add(10 * time.Minute).Add(-time.Second)
	hi := time.Now().Add(time.Duration(secondaryDelayFactor*10) * time.Minute).Add(time.Second)
	if got.Before(lo) || got.After(hi) {
		t.Errorf("Secondary ScheduledFor %v outside [%v, %v]", got, lo, hi)
	}
}

func TestMaturationCreatesInteraction(t *testing.T) {
	s, store, gen := setupScheduler(t)
	gen.reply = "我觉得挺好"
	follower := testFollower(1, 100, 0, 0)
	store.followers[1] = follower

	store.CreatePendingResponse(&models.PendingResponse{
		PostID:       1,
		AiFollowerID: 1,
		ScheduledFor: time.Now().Add(-time.Minute),
	})

	s.processDue(time.Now())

	if n := store.interactionCount(); n != 1 {
		t.Fatalf("Expected 1 interaction after maturation, got %d", n)
	}
	in := store.interactions[0]
	if in.Type != models.InteractionTypeComment {
		t.Errorf("Expected root response type %q, got %q", models.InteractionTypeComment, in.Type)
	}
	if in.ParentID != nil {
		t.Errorf("Expected root response without parent, got %v", *in.ParentID)
	}
	if in.Content != "我觉得挺好" {
		t.Errorf("Unexpected content: %q", in.Content)
	}
	if n := store.pendingCount(); n != 0 {
		t.Errorf("Expected pending response consumed, got %d left", n)
	}
	if len(store.notifications) != 1 {
		t.Errorf("Expected 1 notification for post owner, got %d", len(store.notifications))
	}
}

func TestMaturationInvalidatesFeedCache(t *testing.T) {
	s, store, _ := setupScheduler(t)
	follower := testFollower(1, 100, 0, 0)
	store.followers[1] = follower

	key := utils.CirclePostsCacheKey(1)
	utils.GetCache().Set(key, "stale feed", time.Minute)

	store.CreatePendingResponse(&models.PendingResponse{
		PostID:       1,
		AiFollowerID: 1,
		ScheduledFor: time.Now().Add(-time.Minute),
	})
	s.processDue(time.Now())

	if cached := utils.GetCache().Get(key); cached != nil {
		t.Errorf("Expected feed cache invalidated after maturation, got %v", cached)
	}
}

// 序列化的 parentId 经过完整的排期/成熟周期后保持不变
func TestMetadataParentSurvivesMaturation(t *testing.T) {
	s, store, _ := setupScheduler(t)
	follower := testFollower(1, 100, 0, 0)
	store.followers[1] = follower

	userID := uint(1)
	parent := &models.Interaction{PostID: 1, UserID: &userID, Type: models.InteractionTypeComment, Content: "问个问题"}
	store.CreateInteraction(parent)

	builder := NewThreadContextBuilder(store)
	reply := &models.Interaction{PostID: 1, UserID: &userID, Content: "追问一下"}
	ctx, err := builder.BuildThreadContext(reply, parent, follower)
	if err != nil {
		t.Fatalf("BuildThreadContext failed: %v", err)
	}
	metadata, err := EncodeResponseMetadata(ctx, parent.ID)
	if err != nil {
		t.Fatalf("EncodeResponseMetadata failed: %v", err)
	}

	md, err := DecodeResponseMetadata(metadata)
	if err != nil {
		t.Fatalf("DecodeResponseMetadata failed: %v", err)
	}
	if md.Parent() != parent.ID {
		t.Fatalf("Expected parent %d after round trip, got %d", parent.ID, md.Parent())
	}

	store.CreatePendingResponse(&models.PendingResponse{
		PostID:       1,
		AiFollowerID: 1,
		ScheduledFor: time.Now().Add(-time.Minute),
		Metadata:     metadata,
	})
	s.processDue(time.Now())

	var found *models.Interaction
	for _, in := range store.interactions {
		if in.AiFollowerID != nil {
			found = in
		}
	}
	if found == nil {
		t.Fatal("Expected AI interaction after maturation")
	}
	if found.Type != models.InteractionTypeReply {
		t.Errorf("Expected type %q, got %q", models.InteractionTypeReply, found.Type)
	}
	if found.ParentID == nil || *found.ParentID != parent.ID {
		t.Errorf("Expected ParentID %d, got %v", parent.ID, found.ParentID)
	}
}

// 两次 tick 并发处理同一条到期记录时只物化一条 Interaction
func TestConcurrentTicksMaterializeOnce(t *testing.T) {
	s, store, gen := setupScheduler(t)
	gen.delay = 50 * time.Millisecond
	follower := testFollower(1, 100, 0, 0)
	store.followers[1] = follower

	store.CreatePendingResponse(&models.PendingResponse{
		PostID:       1,
		AiFollowerID: 1,
		ScheduledFor: time.Now().Add(-time.Minute),
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.processDue(time.Now())
		}()
	}
	wg.Wait()

	if n := store.interactionCount(); n != 1 {
		t.Errorf("Expected exactly 1 interaction from concurrent ticks, got %d", n)
	}
	if n := gen.callCount(); n != 1 {
		t.Errorf("Expected exactly 1 generation call, got %d", n)
	}
}

func TestMaturationRetriesThenGivesUp(t *testing.T) {
	s, store, gen := setupScheduler(t)
	gen.err = errors.New("上游超时")
	follower := testFollower(1, 100, 0, 0)
	store.followers[1] = follower

	store.CreatePendingResponse(&models.PendingResponse{
		PostID:       1,
		AiFollowerID: 1,
		ScheduledFor: time.Now().Add(-time.Minute),
	})

	for i := 0; i < maxGenerationAttempts; i++ {
		s.processDue(time.Now())
	}

	if n := store.interactionCount(); n != 0 {
		t.Errorf("Expected no interaction after persistent failure, got %d", n)
	}
	if n := store.pendingCount(); n != 0 {
		t.Errorf("Expected pending response discarded after %d attempts, got %d left", maxGenerationAttempts, n)
	}
	if n := gen.callCount(); n != maxGenerationAttempts {
		t.Errorf("Expected %d generation attempts, got %d", maxGenerationAttempts, n)
	}
}

func TestMaturationDropsStaleRows(t *testing.T) {
	s, store, gen := setupScheduler(t)

	// 关注者已被停用
	gone := testFollower(1, 100, 0, 0)
	gone.Active = false
	store.followers[1] = gone
	store.CreatePendingResponse(&models.PendingResponse{
		PostID: 1, AiFollowerID: 1, ScheduledFor: time.Now().Add(-time.Minute),
	})

	// 帖子已被删除
	store.followers[2] = testFollower(2, 100, 0, 0)
	store.CreatePendingResponse(&models.PendingResponse{
		PostID: 999, AiFollowerID: 2, ScheduledFor: time.Now().Add(-time.Minute),
	})

	// 父楼层已被删除
	store.followers[3] = testFollower(3, 100, 0, 0)
	metadata, _ := EncodeResponseMetadata(nil, 777)
	store.CreatePendingResponse(&models.PendingResponse{
		PostID: 1, AiFollowerID: 3, ScheduledFor: time.Now().Add(-time.Minute), Metadata: metadata,
	})

	s.processDue(time.Now())

	if n := store.interactionCount(); n != 0 {
		t.Errorf("Expected stale rows dropped without interactions, got %d", n)
	}
	if n := store.pendingCount(); n != 0 {
		t.Errorf("Expected stale rows deleted, got %d left", n)
	}
	if n := gen.callCount(); n != 0 {
		t.Errorf("Expected no generation calls for stale rows, got %d", n)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	s, _, _ := setupScheduler(t)
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
