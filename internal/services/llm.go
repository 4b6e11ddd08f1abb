package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"quanzi/internal/models"
)

// LLMService 调用 OpenAI 兼容接口生成 AI 关注者的回应和人物背景
type LLMService struct {
	baseURL string
	token   string
	model   string
	client  *http.Client
}

var llmService *LLMService

// GetLLMService 获取单例 LLM 服务
func GetLLMService() *LLMService {
	if llmService == nil {
		llmService = &LLMService{
			baseURL: os.Getenv("LLM_BASE_URL"),
			token:   os.Getenv("LLM_TOKEN"),
			model:   os.Getenv("LLM_MODEL"),
			client: &http.Client{
				Timeout: 60 * time.Second,
			},
		}
	}
	return llmService
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chat 发送一次对话补全请求，返回首个候选的内容
func (s *LLMService) chat(system, user string) (string, error) {
	if s.baseURL == "" {
		return "", fmt.Errorf("LLM_BASE_URL 未配置")
	}

	reqBody := ChatRequest{
		Model: s.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequest("POST", s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("LLM 返回状态码 %d: %s", resp.StatusCode, string(body))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("LLM 返回空结果")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// GenerateReply 以关注者的人设生成一条回应
func (s *LLMService) GenerateReply(follower *models.AiFollower, prompt string) (string, error) {
	system := fmt.Sprintf("你是社交圈子里的成员「%s」。你的性格设定：%s", follower.Name, follower.Personality)
	if follower.Background != "" {
		system += "\n你的人物背景：" + follower.Background
	}
	system += "\n用这个人设的口吻简短地回应，不要暴露你是 AI。"

	return s.chat(system, prompt)
}

// GeneratePersonaBackground 在创建关注者时生成一段人物背景故事
func (s *LLMService) GeneratePersonaBackground(name, personality string) (string, error) {
	system := "你为社交应用的 AI 角色撰写人物背景。输出一段 100 字以内的第三人称背景故事，不要任何额外说明。"
	user := fmt.Sprintf("角色名：%s\n性格设定：%s", name, personality)
	return s.chat(system, user)
}
