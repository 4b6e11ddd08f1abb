package services

import (
	"log"
	"sort"
	"time"

	"quanzi/internal/models"
)

// DisplayPendingResponse 供前端展示的待回应摘要
type DisplayPendingResponse struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	AvatarURL    string    `json:"avatar_url"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// ThreadedInteraction 视图投影：Interaction 加上嵌套回复与待回应列表。
// 每次读取时构建，序列化后即丢弃，不落库。
type ThreadedInteraction struct {
	models.Interaction
	AiFollower       *models.AiFollower       `json:"ai_follower,omitempty"`
	Replies          []*ThreadedInteraction   `json:"replies"`
	PendingResponses []DisplayPendingResponse `json:"pending_responses,omitempty"`
}

// ThreadManager 把帖子下扁平的、父引用式的 Interaction 记录
// 重建为嵌套回复树，并把尚未生成的待回应合并到对应节点上
type ThreadManager struct {
	store ConversationStore
}

func NewThreadManager(store ConversationStore) *ThreadManager {
	return &ThreadManager{store: store}
}

// GetThreadedInteractions 返回帖子的根级回应森林（含嵌套回复），
// 根节点与各层子节点都按创建时间升序排列（同时刻按 ID 保证稳定）。
func (m *ThreadManager) GetThreadedInteractions(postID uint) ([]*ThreadedInteraction, error) {
	interactions, err := m.store.GetPostInteractions(postID)
	if err != nil {
		return nil, err
	}

	pending, err := m.store.GetPostPendingResponses(postID)
	if err != nil {
		return nil, err
	}

	// 第一遍：建立 id -> 节点 的索引，并挂上作者与待回应信息
	nodes := make(map[uint]*ThreadedInteraction, len(interactions))
	for i := range interactions {
		in := interactions[i]
		node := &ThreadedInteraction{
			Interaction: in,
			Replies:     []*ThreadedInteraction{},
		}

		if in.AiFollowerID != nil {
			follower, err := m.store.GetAiFollower(*in.AiFollowerID)
			if err == nil && follower != nil {
				node.AiFollower = follower
			}
		}

		node.PendingResponses = m.pendingForInteraction(pending, in.ID)
		nodes[in.ID] = node
	}

	// 第二遍：按父引用组装森林。父节点缺失的孤儿提升为伪根节点，
	// 绝不因为数据漂移丢掉节点或报错。
	var roots []*ThreadedInteraction
	for i := range interactions {
		node := nodes[interactions[i].ID]
		if node.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*node.ParentID]
		if !ok {
			log.Printf("[ThreadManager] interaction %d references missing parent %d, promoting to root", node.ID, *node.ParentID)
			roots = append(roots, node)
			continue
		}
		parent.Replies = append(parent.Replies, node)
	}

	for _, node := range nodes {
		sortThreads(node.Replies)
	}
	sortThreads(roots)

	return roots, nil
}

// pendingForInteraction 找出元数据指向该 Interaction 的待回应记录。
// 关注者已不存在时静默排除。
func (m *ThreadManager) pendingForInteraction(pending []models.PendingResponse, interactionID uint) []DisplayPendingResponse {
	var result []DisplayPendingResponse
	for i := range pending {
		md, err := DecodeResponseMetadata(pending[i].Metadata)
		if err != nil || md == nil || md.Parent() != interactionID {
			continue
		}

		follower, err := m.store.GetAiFollower(pending[i].AiFollowerID)
		if err != nil || follower == nil {
			continue
		}

		result = append(result, DisplayPendingResponse{
			ID:           pending[i].ID,
			Name:         follower.Name,
			AvatarURL:    follower.AvatarURL,
			ScheduledFor: pending[i].ScheduledFor,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledFor.Before(result[j].ScheduledFor)
	})
	return result
}

// sortThreads 按创建时间升序排序，同时刻按 ID 保持插入顺序稳定
func sortThreads(threads []*ThreadedInteraction) {
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].CreatedAt.Equal(threads[j].CreatedAt) {
			return threads[i].ID < threads[j].ID
		}
		return threads[i].CreatedAt.Before(threads[j].CreatedAt)
	})
}

// FindThreadByID 在森林中深度优先查找指定 ID 的节点（连同其整棵子树），
// 未找到返回 nil。纯函数，无副作用。
func FindThreadByID(threads []*ThreadedInteraction, targetID uint) *ThreadedInteraction {
	for _, thread := range threads {
		if thread.ID == targetID {
			return thread
		}
		if found := FindThreadByID(thread.Replies, targetID); found != nil {
			return found
		}
	}
	return nil
}

// CountTotalReplies 递归统计一个线程的全部后代数量
func CountTotalReplies(thread *ThreadedInteraction) int {
	count := len(thread.Replies)
	for _, reply := range thread.Replies {
		count += CountTotalReplies(reply)
	}
	return count
}
