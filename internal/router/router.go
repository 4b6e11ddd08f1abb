package router

import (
	"quanzi/internal/handlers"
	"quanzi/internal/middleware"
	"quanzi/internal/services"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, scheduler *services.ResponseScheduler, store services.ConversationStore) {
	// Handlers
	authHandler := handlers.NewAuthHandler()
	circleHandler := handlers.NewCircleHandler()
	followerHandler := handlers.NewFollowerHandler()
	postHandler := handlers.NewPostHandler(scheduler, store)
	notificationHandler := handlers.NewNotificationHandler()

	api := r.Group("/api")

	// 公共路由 (Public Routes)
	api.POST("/signup", authHandler.Register) // 注册
	api.POST("/login", authHandler.Login)     // 登录
	api.POST("/logout", authHandler.Logout)   // 退出登录

	// 受保护路由 (Protected Routes)
	authorized := api.Group("/")
	authorized.Use(middleware.AuthRequired())
	{
		// 圈子
		authorized.POST("/circles", circleHandler.Create)       // 创建圈子
		authorized.GET("/circles", circleHandler.List)          // 圈子列表
		authorized.GET("/circles/:id", circleHandler.Get)       // 圈子详情
		authorized.PATCH("/circles/:id", circleHandler.Update)  // 更新圈子
		authorized.DELETE("/circles/:id", circleHandler.Delete) // 删除圈子

		authorized.GET("/circles/:id/followers", circleHandler.ListFollowers)                       // 圈子成员列表
		authorized.POST("/circles/:id/followers", circleHandler.AddFollower)                        // 拉成员入圈
		authorized.DELETE("/circles/:id/followers/:followerId", circleHandler.RemoveFollower)       // 移出圈子
		authorized.POST("/circles/:id/followers/:followerId/toggle-mute", circleHandler.ToggleMute) // 圈内静音/取消静音

		// AI 关注者
		authorized.POST("/followers", followerHandler.Create)             // 创建关注者
		authorized.GET("/followers", followerHandler.List)                // 关注者列表
		authorized.GET("/followers/:id", followerHandler.Get)             // 关注者详情
		authorized.PATCH("/followers/:id", followerHandler.Update)        // 更新关注者
		authorized.DELETE("/followers/:id", followerHandler.ToggleActive) // 停用/恢复

		// 帖子与回应
		authorized.POST("/posts", postHandler.Create)                 // 发帖（触发回应排期）
		authorized.GET("/circles/:id/posts", postHandler.CirclePosts) // 圈子帖子流（含回应树）
		authorized.PATCH("/posts/:id/move", postHandler.Move)         // 移动帖子到其他圈子
		authorized.POST("/posts/:id/reply", postHandler.Reply)        // 在帖子里发言

		// 通知
		authorized.GET("/notifications", notificationHandler.List)                  // 通知列表
		authorized.POST("/notifications/:id/read", notificationHandler.MarkRead)    // 标记单条已读
		authorized.POST("/notifications/read-all", notificationHandler.MarkAllRead) // 全部已读
		authorized.DELETE("/notifications/:id", notificationHandler.Delete)         // 删除通知
	}
}
