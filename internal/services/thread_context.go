package services

import (
	"encoding/json"
	"fmt"

	"quanzi/internal/models"
)

// 组装上下文时最多向上回溯的祖先数量，避免提示词无限增长
const maxContextAncestors = 10

// ThreadAncestor 线程中一条先前回应的摘要，按时间顺序排列
type ThreadAncestor struct {
	InteractionID uint   `json:"interactionId"`
	Author        string `json:"author"`
	IsAI          bool   `json:"isAi"`
	Content       string `json:"content"`
}

// ThreadContext 交给 AI 生成的会话上下文，同时作为溯源数据
// 随 PendingResponse.Metadata 一起落库
type ThreadContext struct {
	Ancestors          []ThreadAncestor `json:"ancestors"`
	TargetFollowerID   uint             `json:"targetFollowerId"`
	TargetFollowerName string           `json:"targetFollowerName"`
	ParentContent      string           `json:"parentContent"`
	ReplyContent       string           `json:"replyContent"`
}

// ResponseMetadata PendingResponse.Metadata 的序列化结构。
// parentId 与 parentInteractionId 是同一个值：旧版读取方用的是后者，
// 写入时两个键都要填，读取时任取其一。
type ResponseMetadata struct {
	ThreadContext       *ThreadContext `json:"threadContext,omitempty"`
	ParentID            uint           `json:"parentId"`
	ParentInteractionID uint           `json:"parentInteractionId"`
}

// Parent 返回元数据绑定的父 Interaction ID，兼容两种键名
func (m *ResponseMetadata) Parent() uint {
	if m.ParentID != 0 {
		return m.ParentID
	}
	return m.ParentInteractionID
}

// EncodeResponseMetadata 序列化元数据，parentId 双键写入
func EncodeResponseMetadata(ctx *ThreadContext, parentID uint) (string, error) {
	data, err := json.Marshal(ResponseMetadata{
		ThreadContext:       ctx,
		ParentID:            parentID,
		ParentInteractionID: parentID,
	})
	if err != nil {
		return "", fmt.Errorf("序列化回应元数据失败: %w", err)
	}
	return string(data), nil
}

// DecodeResponseMetadata 解析元数据；空串返回 (nil, nil)
func DecodeResponseMetadata(raw string) (*ResponseMetadata, error) {
	if raw == "" {
		return nil, nil
	}
	var md ResponseMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("解析回应元数据失败: %w", err)
	}
	return &md, nil
}

// ThreadContextBuilder 组装回复线程的会话上下文。只读，不产生任何写入。
type ThreadContextBuilder struct {
	store ConversationStore
}

func NewThreadContextBuilder(store ConversationStore) *ThreadContextBuilder {
	return &ThreadContextBuilder{store: store}
}

// BuildThreadContext 从 parent 向上回溯到线程根，收集按时间顺序
// （最早在前）的祖先序列，并记录被点名回复的 AI 关注者和直接父内容。
func (b *ThreadContextBuilder) BuildThreadContext(userReply, parent *models.Interaction, target *models.AiFollower) (*ThreadContext, error) {
	var chain []ThreadAncestor

	cur := parent
	for cur != nil && len(chain) < maxContextAncestors {
		author, isAI := b.resolveAuthor(cur)
		chain = append(chain, ThreadAncestor{
			InteractionID: cur.ID,
			Author:        author,
			IsAI:          isAI,
			Content:       cur.Content,
		})

		if cur.ParentID == nil {
			break
		}
		next, err := b.store.GetInteraction(*cur.ParentID)
		if err != nil {
			return nil, err
		}
		// 父引用缺失时截断链条而不是报错
		cur = next
	}

	// 回溯得到的是由近及远，翻转为最早在前
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return &ThreadContext{
		Ancestors:          chain,
		TargetFollowerID:   target.ID,
		TargetFollowerName: target.Name,
		ParentContent:      parent.Content,
		ReplyContent:       userReply.Content,
	}, nil
}

// resolveAuthor 解析一条 Interaction 的作者显示名
func (b *ThreadContextBuilder) resolveAuthor(in *models.Interaction) (name string, isAI bool) {
	if in.AiFollowerID != nil {
		follower, err := b.store.GetAiFollower(*in.AiFollowerID)
		if err == nil && follower != nil {
			return follower.Name, true
		}
		return "AI", true
	}
	if in.UserID != nil {
		user, err := b.store.GetUser(*in.UserID)
		if err == nil && user != nil {
			return user.Username, false
		}
	}
	return "用户", false
}
