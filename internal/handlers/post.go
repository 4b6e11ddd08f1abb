package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"quanzi/internal/db"
	"quanzi/internal/models"
	"quanzi/internal/services"
	"quanzi/internal/utils"

	"github.com/gin-gonic/gin"
)

type PostHandler struct {
	scheduler *services.ResponseScheduler
	threads   *services.ThreadManager
	contexts  *services.ThreadContextBuilder
}

func NewPostHandler(scheduler *services.ResponseScheduler, store services.ConversationStore) *PostHandler {
	return &PostHandler{
		scheduler: scheduler,
		threads:   services.NewThreadManager(store),
		contexts:  services.NewThreadContextBuilder(store),
	}
}

type createPostRequest struct {
	CircleID uint   `json:"circle_id" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

// Create 发帖并为圈子里的关注者排期回应
func (h *PostHandler) Create(c *gin.Context) {
	user := CurrentUser(c)

	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "圈子和内容不能为空")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		JSONError(c, http.StatusBadRequest, "内容不能为空")
		return
	}

	var circle models.Circle
	if err := db.DB.Where("id = ? AND user_id = ?", req.CircleID, user.ID).First(&circle).Error; err != nil {
		JSONError(c, http.StatusNotFound, "圈子不存在")
		return
	}

	post := models.Post{
		UserID:   user.ID,
		CircleID: circle.ID,
		Content:  req.Content,
	}
	if err := db.DB.Create(&post).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "发布失败")
		return
	}

	// 逐个排期。静音、停用和概率判定都在调度器里处理
	for _, follower := range circleFollowers(circle.ID) {
		f := follower
		if err := h.scheduler.ScheduleResponse(post.ID, &f); err != nil {
			log.Printf("[Post] 排期失败 (postID=%d, followerID=%d): %v", post.ID, f.ID, err)
		}
	}

	utils.GetCache().Delete(utils.CirclePostsCacheKey(circle.ID))
	c.JSON(http.StatusCreated, post)
}

// circleFollowers 返回圈子中所有关注者记录
func circleFollowers(circleID uint) []models.AiFollower {
	var followers []models.AiFollower
	db.DB.Joins("JOIN circle_followers ON circle_followers.ai_follower_id = ai_followers.id").
		Where("circle_followers.circle_id = ?", circleID).
		Find(&followers)
	return followers
}

// postView 帖子列表项，带完整的回应树和帖子级排队回应
type postView struct {
	models.Post
	ContentHTML      string                            `json:"content_html"`
	Interactions     []*services.ThreadedInteraction   `json:"interactions"`
	PendingResponses []services.DisplayPendingResponse `json:"pending_responses"`
	ReplyCount       int                               `json:"reply_count"`
}

// CirclePosts 返回圈子的帖子流，结果短暂缓存
func (h *PostHandler) CirclePosts(c *gin.Context) {
	circle := ownedCircle(c)
	if circle == nil {
		return
	}

	cacheKey := utils.CirclePostsCacheKey(circle.ID)
	if cached := utils.GetCache().Get(cacheKey); cached != nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	var posts []models.Post
	db.DB.Preload("User").Where("circle_id = ?", circle.ID).
		Order("created_at DESC, id DESC").Find(&posts)

	views := make([]postView, 0, len(posts))
	for _, post := range posts {
		threads, err := h.threads.GetThreadedInteractions(post.ID)
		if err != nil {
			JSONError(c, http.StatusInternalServerError, "加载回应失败")
			return
		}
		count := 0
		for _, t := range threads {
			count += 1 + services.CountTotalReplies(t)
		}
		views = append(views, postView{
			Post:             post,
			ContentHTML:      string(utils.RenderMarkdown(post.Content)),
			Interactions:     threads,
			PendingResponses: h.postLevelPending(post.ID),
			ReplyCount:       count,
		})
	}

	utils.GetCache().Set(cacheKey, views, 30*time.Second)
	c.JSON(http.StatusOK, views)
}

// postLevelPending 收集尚未挂到任何楼层的排队回应（顶层回应排期）
func (h *PostHandler) postLevelPending(postID uint) []services.DisplayPendingResponse {
	var rows []models.PendingResponse
	db.DB.Where("post_id = ?", postID).Find(&rows)

	result := []services.DisplayPendingResponse{}
	for _, row := range rows {
		md, err := services.DecodeResponseMetadata(row.Metadata)
		if err != nil || (md != nil && md.Parent() != 0) {
			continue
		}
		var follower models.AiFollower
		if err := db.DB.First(&follower, row.AiFollowerID).Error; err != nil {
			continue
		}
		result = append(result, services.DisplayPendingResponse{
			ID:           row.ID,
			Name:         follower.Name,
			AvatarURL:    follower.AvatarURL,
			ScheduledFor: row.ScheduledFor,
		})
	}
	return result
}

type movePostRequest struct {
	CircleID uint `json:"circle_id" binding:"required"`
}

// Move 把帖子移到当前用户的另一个圈子
func (h *PostHandler) Move(c *gin.Context) {
	user := CurrentUser(c)

	postID := utils.StringToUint(c.Param("id"))
	var post models.Post
	if err := db.DB.Where("id = ? AND user_id = ?", postID, user.ID).First(&post).Error; err != nil {
		JSONError(c, http.StatusNotFound, "帖子不存在")
		return
	}

	var req movePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "缺少目标圈子")
		return
	}

	var target models.Circle
	if err := db.DB.Where("id = ? AND user_id = ?", req.CircleID, user.ID).First(&target).Error; err != nil {
		JSONError(c, http.StatusNotFound, "目标圈子不存在")
		return
	}

	oldCircleID := post.CircleID
	post.CircleID = target.ID
	if err := db.DB.Save(&post).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "移动失败")
		return
	}

	utils.GetCache().Delete(utils.CirclePostsCacheKey(oldCircleID))
	utils.GetCache().Delete(utils.CirclePostsCacheKey(target.ID))
	c.JSON(http.StatusOK, post)
}

type replyRequest struct {
	Content  string `json:"content" binding:"required"`
	ParentID uint   `json:"parent_id"`
}

// Reply 用户在帖子里发言。回复 AI 楼层时构建线程上下文并排期后续回应：
// 被回复的关注者必回（主回应），圈子里其他关注者按概率跟帖。
func (h *PostHandler) Reply(c *gin.Context) {
	user := CurrentUser(c)

	postID := utils.StringToUint(c.Param("id"))
	var post models.Post
	if err := db.DB.First(&post, postID).Error; err != nil {
		JSONError(c, http.StatusNotFound, "帖子不存在")
		return
	}
	var circle models.Circle
	if err := db.DB.Where("id = ? AND user_id = ?", post.CircleID, user.ID).First(&circle).Error; err != nil {
		JSONError(c, http.StatusForbidden, "无权回复该帖子")
		return
	}

	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		JSONError(c, http.StatusBadRequest, "内容不能为空")
		return
	}

	var parent *models.Interaction
	if req.ParentID != 0 {
		var p models.Interaction
		if err := db.DB.Where("id = ? AND post_id = ?", req.ParentID, post.ID).First(&p).Error; err != nil {
			JSONError(c, http.StatusNotFound, "被回复的楼层不存在")
			return
		}
		parent = &p
	}

	userID := user.ID
	reply := models.Interaction{
		PostID:  post.ID,
		UserID:  &userID,
		Type:    models.InteractionTypeComment,
		Content: req.Content,
	}
	if parent != nil {
		reply.Type = models.InteractionTypeReply
		reply.ParentID = &parent.ID
	}
	if err := db.DB.Create(&reply).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "发布失败")
		return
	}

	h.scheduleThreadFollowups(&post, &reply, parent)

	utils.GetCache().Delete(utils.CirclePostsCacheKey(post.CircleID))

	threads, err := h.threads.GetThreadedInteractions(post.ID)
	if err != nil {
		JSONError(c, http.StatusInternalServerError, "加载回应失败")
		return
	}
	rootID := reply.ID
	if parent != nil {
		rootID = parent.ID
		// 返回以顶层楼层为根的整棵子树
		for p := parent; p.ParentID != nil; {
			var up models.Interaction
			if err := db.DB.First(&up, *p.ParentID).Error; err != nil {
				break
			}
			p = &up
			rootID = p.ID
		}
	}
	thread := services.FindThreadByID(threads, rootID)
	if thread == nil {
		c.JSON(http.StatusCreated, gin.H{"reply": reply})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reply": reply, "thread": thread})
}

// scheduleThreadFollowups 为用户发言排期 AI 后续回应
func (h *PostHandler) scheduleThreadFollowups(post *models.Post, reply, parent *models.Interaction) {
	var primary *models.AiFollower
	if parent != nil && parent.AiFollowerID != nil {
		var f models.AiFollower
		if err := db.DB.First(&f, *parent.AiFollowerID).Error; err == nil {
			primary = &f
		}
	}

	var threadCtx *services.ThreadContext
	if parent != nil && primary != nil {
		var err error
		threadCtx, err = h.contexts.BuildThreadContext(reply, parent, primary)
		if err != nil {
			log.Printf("[Post] 构建线程上下文失败 (replyID=%d): %v", reply.ID, err)
			threadCtx = nil
		}
	}
	metadata, err := services.EncodeResponseMetadata(threadCtx, reply.ID)
	if err != nil {
		log.Printf("[Post] 编码回应元数据失败 (replyID=%d): %v", reply.ID, err)
		return
	}

	if primary != nil {
		if err := h.scheduler.ScheduleThreadResponse(post.ID, primary, reply.ID, metadata, true); err != nil {
			log.Printf("[Post] 主回应排期失败 (followerID=%d): %v", primary.ID, err)
		}
	}
	for _, follower := range circleFollowers(post.CircleID) {
		if primary != nil && follower.ID == primary.ID {
			continue
		}
		f := follower
		if err := h.scheduler.ScheduleThreadResponse(post.ID, &f, reply.ID, metadata, false); err != nil {
			log.Printf("[Post] 跟帖排期失败 (followerID=%d): %v", f.ID, err)
		}
	}
}
