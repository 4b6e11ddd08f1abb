package services

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"quanzi/internal/models"
	"quanzi/internal/utils"
)

const (
	// 后台成熟循环默认间隔
	defaultSchedulerInterval = 15 * time.Second
	// 生成失败的重试上限，超过后丢弃记录
	maxGenerationAttempts = 3
	// 非点名回复者的延迟抽取区间为 [max, secondaryDelayFactor*max]，
	// 保证被直接回复的关注者在期望上先回答
	secondaryDelayFactor = 3
)

// ResponseScheduler 决定每个 AI 关注者是否/何时回应新帖子或回复，
// 落库待回应占位记录，并通过后台 ticker 在到期后调用 AI 生成、
// 物化为真实的 Interaction。
//
// 持久化与生成协作方通过构造函数注入；进程启动时实例化一次，
// Start/Stop 管理唯一的后台定时器。
type ResponseScheduler struct {
	store     ConversationStore
	generator ResponseGenerator
	interval  time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

func NewResponseScheduler(store ConversationStore, generator ResponseGenerator) *ResponseScheduler {
	interval := defaultSchedulerInterval
	if v := os.Getenv("SCHEDULER_INTERVAL"); v != "" {
		// 配置单位为秒
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}
	return &ResponseScheduler{
		store:     store,
		generator: generator,
		interval:  interval,
	}
}

// Start 启动后台成熟循环。重复调用不会产生第二个定时器。
func (s *ResponseScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	go s.loop(s.stop)
	log.Printf("[Scheduler] started, maturation interval %s", s.interval)
}

// Stop 停止后台循环；进程关闭时调用
func (s *ResponseScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	log.Println("[Scheduler] stopped")
}

func (s *ResponseScheduler) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processDue(time.Now())
		case <-stop:
			return
		}
	}
}

// ScheduleResponse 对一条新的根级帖子，决定某个关注者是否回应、何时回应。
// 不合格的关注者静默跳过；概率门未通过也不是错误。
// 调度失败只记录日志，绝不回滚帖子创建。
func (s *ResponseScheduler) ScheduleResponse(postID uint, follower *models.AiFollower) error {
	if follower == nil || !follower.Active {
		return nil
	}

	post, err := s.store.GetPost(postID)
	if err != nil {
		return fmt.Errorf("调度查询帖子失败: %w", err)
	}
	if post == nil {
		return nil
	}

	muted, err := s.store.IsFollowerMuted(post.CircleID, follower.ID)
	if err != nil {
		return fmt.Errorf("调度查询静音状态失败: %w", err)
	}
	if muted {
		return nil
	}

	// 幂等护栏：同一关注者对同一帖子最多一条根级待回应
	exists, err := s.hasPendingRootResponse(postID, follower.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	// 概率门：严格小于，chance=0 永不回应，chance=100 必然回应
	if rand.Intn(100) >= follower.ResponseChance {
		return nil
	}

	min, max := follower.DelayRange()
	delay := time.Duration(randBetween(min, max)) * time.Minute

	pr := &models.PendingResponse{
		PostID:       postID,
		AiFollowerID: follower.ID,
		ScheduledFor: time.Now().Add(delay),
	}
	if err := s.store.CreatePendingResponse(pr); err != nil {
		return fmt.Errorf("落库待回应记录失败: %w", err)
	}

	log.Printf("[Scheduler] follower %d will respond to post %d in %s", follower.ID, postID, delay)
	return nil
}

// ScheduleThreadResponse 回复场景的调度变体。
// 被直接点名回复的关注者（isPrimary）跳过概率门，保证对话必有回音；
// 圈内其他关注者走正常概率门，且延迟整体后移，降低优先级。
// 对同一 (follower, parentID) 重复调用是幂等的。
func (s *ResponseScheduler) ScheduleThreadResponse(postID uint, follower *models.AiFollower, parentID uint, contextMetadata string, isPrimary bool) error {
	if follower == nil || !follower.Active {
		return nil
	}

	post, err := s.store.GetPost(postID)
	if err != nil {
		return fmt.Errorf("调度查询帖子失败: %w", err)
	}
	if post == nil {
		return nil
	}

	muted, err := s.store.IsFollowerMuted(post.CircleID, follower.ID)
	if err != nil {
		return fmt.Errorf("调度查询静音状态失败: %w", err)
	}
	if muted {
		return nil
	}

	// 幂等护栏：同一关注者对同一条父回应最多只能有一条待回应
	exists, err := s.hasPendingThreadResponse(postID, follower.ID, parentID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if !isPrimary && rand.Intn(100) >= follower.ResponseChance {
		return nil
	}

	min, max := follower.DelayRange()
	var delay time.Duration
	if isPrimary {
		delay = time.Duration(randBetween(min, max)) * time.Minute
	} else {
		// 从 [max, secondaryDelayFactor*max] 抽取，严格不早于主目标的最大延迟
		delay = time.Duration(randBetween(max, secondaryDelayFactor*max)) * time.Minute
	}

	pr := &models.PendingResponse{
		PostID:       postID,
		AiFollowerID: follower.ID,
		ScheduledFor: time.Now().Add(delay),
		Metadata:     contextMetadata,
	}
	if err := s.store.CreatePendingResponse(pr); err != nil {
		return fmt.Errorf("落库待回应记录失败: %w", err)
	}

	log.Printf("[Scheduler] follower %d will reply to interaction %d on post %d in %s (primary=%v)",
		follower.ID, parentID, postID, delay, isPrimary)
	return nil
}

// hasPendingRootResponse 检查该关注者是否已有针对帖子本身（无父楼层）的待回应
func (s *ResponseScheduler) hasPendingRootResponse(postID, followerID uint) (bool, error) {
	pending, err := s.store.GetPostPendingResponses(postID)
	if err != nil {
		return false, fmt.Errorf("查询待回应记录失败: %w", err)
	}
	for i := range pending {
		if pending[i].AiFollowerID != followerID {
			continue
		}
		md, err := DecodeResponseMetadata(pending[i].Metadata)
		if err != nil {
			continue
		}
		if md == nil || md.Parent() == 0 {
			return true, nil
		}
	}
	return false, nil
}

// hasPendingThreadResponse 检查 (follower, parentID) 是否已有未完成的待回应
func (s *ResponseScheduler) hasPendingThreadResponse(postID, followerID, parentID uint) (bool, error) {
	pending, err := s.store.GetPostPendingResponses(postID)
	if err != nil {
		return false, fmt.Errorf("查询待回应记录失败: %w", err)
	}
	for i := range pending {
		if pending[i].AiFollowerID != followerID {
			continue
		}
		md, err := DecodeResponseMetadata(pending[i].Metadata)
		if err != nil || md == nil {
			continue
		}
		if md.Parent() == parentID {
			return true, nil
		}
	}
	return false, nil
}

// processDue 处理所有到期的待回应：逐条认领、生成、物化。
// 单条失败绝不中断整个循环。
func (s *ResponseScheduler) processDue(now time.Time) {
	due, err := s.store.DuePendingResponses(now)
	if err != nil {
		log.Printf("[Scheduler] failed to load due pending responses: %v", err)
		return
	}

	for i := range due {
		s.maturePendingResponse(&due[i])
	}
}

// maturePendingResponse 把一条到期的待回应物化为 Interaction。
// 先通过 CAS 认领，慢速的生成调用与下一次 tick 重叠时也不会重复物化。
func (s *ResponseScheduler) maturePendingResponse(pr *models.PendingResponse) {
	claimed, err := s.store.ClaimPendingResponse(pr.ID)
	if err != nil {
		log.Printf("[Scheduler] failed to claim pending response %d: %v", pr.ID, err)
		return
	}
	if !claimed {
		// 另一次 tick 正在处理
		return
	}

	// 调度之后关注者可能已被停用或删除，直接丢弃
	follower, err := s.store.GetAiFollower(pr.AiFollowerID)
	if err != nil || follower == nil || !follower.Active {
		log.Printf("[Scheduler] dropping pending response %d: follower %d gone or inactive", pr.ID, pr.AiFollowerID)
		s.discard(pr.ID)
		return
	}

	// 帖子或圈子被删除后留下的孤儿记录同样丢弃
	post, err := s.store.GetPost(pr.PostID)
	if err != nil || post == nil {
		log.Printf("[Scheduler] dropping pending response %d: post %d gone", pr.ID, pr.PostID)
		s.discard(pr.ID)
		return
	}

	md, err := DecodeResponseMetadata(pr.Metadata)
	if err != nil {
		log.Printf("[Scheduler] dropping pending response %d: bad metadata: %v", pr.ID, err)
		s.discard(pr.ID)
		return
	}

	var parent *models.Interaction
	interactionType := models.InteractionTypeComment
	var parentID *uint
	if md != nil && md.Parent() != 0 {
		pid := md.Parent()
		parent, err = s.store.GetInteraction(pid)
		if err != nil || parent == nil {
			log.Printf("[Scheduler] dropping pending response %d: parent interaction %d gone", pr.ID, pid)
			s.discard(pr.ID)
			return
		}
		interactionType = models.InteractionTypeReply
		parentID = &pid
	}

	content, err := s.generator.GenerateReply(follower, buildPrompt(post, parent, md))
	if err != nil {
		attempts := pr.Attempts + 1
		if attempts >= maxGenerationAttempts {
			log.Printf("[Scheduler] giving up on pending response %d after %d attempts: %v", pr.ID, attempts, err)
			s.discard(pr.ID)
			return
		}
		log.Printf("[Scheduler] generation failed for pending response %d (attempt %d): %v", pr.ID, attempts, err)
		if err := s.store.ReleasePendingResponse(pr.ID, attempts); err != nil {
			log.Printf("[Scheduler] failed to release pending response %d: %v", pr.ID, err)
		}
		return
	}

	followerID := follower.ID
	interaction := &models.Interaction{
		PostID:       pr.PostID,
		AiFollowerID: &followerID,
		Type:         interactionType,
		Content:      content,
		ParentID:     parentID,
	}
	if err := s.store.CreateInteraction(interaction); err != nil {
		log.Printf("[Scheduler] failed to persist interaction for pending response %d: %v", pr.ID, err)
		if err := s.store.ReleasePendingResponse(pr.ID, pr.Attempts+1); err != nil {
			log.Printf("[Scheduler] failed to release pending response %d: %v", pr.ID, err)
		}
		return
	}

	s.discard(pr.ID)
	s.notifyPostOwner(post, follower, interactionType)
	// 新回应落地，圈子帖子流的缓存立即失效而不是等 TTL
	utils.GetCache().Delete(utils.CirclePostsCacheKey(post.CircleID))
	log.Printf("[Scheduler] follower %d responded to post %d (interaction %d)", follower.ID, pr.PostID, interaction.ID)
}

// notifyPostOwner 回应落地后给帖子作者发通知，失败只记日志
func (s *ResponseScheduler) notifyPostOwner(post *models.Post, follower *models.AiFollower, interactionType string) {
	notifType := models.NotificationTypeCommentPost
	reason := follower.Name + " 回应了你的帖子"
	if interactionType == models.InteractionTypeReply {
		notifType = models.NotificationTypeReplyComment
		reason = follower.Name + " 回复了你"
	}
	n := &models.Notification{
		UserID: post.UserID,
		Type:   notifType,
		Reason: reason,
	}
	if err := s.store.CreateNotification(n); err != nil {
		log.Printf("[Scheduler] failed to create notification for post %d: %v", post.ID, err)
	}
}

func (s *ResponseScheduler) discard(id uint) {
	if err := s.store.DeletePendingResponse(id); err != nil {
		log.Printf("[Scheduler] failed to delete pending response %d: %v", id, err)
	}
}

// buildPrompt 拼装交给 AI 生成的提示词：帖子内容 + 线程回溯 + 直接父内容
func buildPrompt(post *models.Post, parent *models.Interaction, md *ResponseMetadata) string {
	var sb strings.Builder
	sb.WriteString("帖子内容：\n")
	sb.WriteString(post.Content)
	sb.WriteString("\n")

	if md != nil && md.ThreadContext != nil {
		ctx := md.ThreadContext
		if len(ctx.Ancestors) > 0 {
			sb.WriteString("\n这条帖子下的对话（由早到晚）：\n")
			for _, a := range ctx.Ancestors {
				sb.WriteString(fmt.Sprintf("%s: %s\n", a.Author, a.Content))
			}
		}
		sb.WriteString(fmt.Sprintf("\n用户刚刚回复了你（%s）：\n%s\n", ctx.TargetFollowerName, ctx.ReplyContent))
		sb.WriteString("\n请以你的人设直接回应这条回复，不要重复对方的话。")
	} else if parent != nil {
		sb.WriteString("\n你正在回复这条回应：\n")
		sb.WriteString(parent.Content)
		sb.WriteString("\n")
	} else {
		sb.WriteString("\n请以你的人设对这条帖子发表一条自然的回应。")
	}

	return sb.String()
}

// randBetween 返回 [min, max] 内的均匀随机整数
func randBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min+1)
}
