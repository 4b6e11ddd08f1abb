package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"quanzi/internal/models"
)

func TestGenerateReply(t *testing.T) {
	// 模拟 API 服务器
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Expected Bearer test-token, got %s", r.Header.Get("Authorization"))
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("Expected model test-model, got %s", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("Expected system+user messages, got %+v", req.Messages)
		}

		resp := ChatResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{
				{
					Message: struct {
						Content string `json:"content"`
					}{Content: "  这天气确实不错，适合出门走走。 "},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	// 设置环境变量
	os.Setenv("LLM_BASE_URL", server.URL)
	os.Setenv("LLM_TOKEN", "test-token")
	os.Setenv("LLM_MODEL", "test-model")

	// 获取服务（重置单例以便重新加载配置）
	llmService = nil
	s := GetLLMService()

	follower := &models.AiFollower{Name: "小竹", Personality: "热心肠，爱聊天气"}
	reply, err := s.GenerateReply(follower, "今天天气不错")
	if err != nil {
		t.Fatalf("GenerateReply failed: %v", err)
	}
	if reply != "这天气确实不错，适合出门走走。" {
		t.Errorf("Expected trimmed reply, got %q", reply)
	}
}

func TestGenerateReplyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	os.Setenv("LLM_BASE_URL", server.URL)
	os.Setenv("LLM_TOKEN", "test-token")
	os.Setenv("LLM_MODEL", "test-model")

	llmService = nil
	s := GetLLMService()

	follower := &models.AiFollower{Name: "小竹", Personality: "热心肠"}
	if _, err := s.GenerateReply(follower, "今天天气不错"); err == nil {
		t.Error("Expected error on HTTP 500")
	}
}

func TestGenerateReplyMissingConfig(t *testing.T) {
	os.Unsetenv("LLM_BASE_URL")
	llmService = nil
	s := GetLLMService()

	follower := &models.AiFollower{Name: "小竹", Personality: "热心肠"}
	if _, err := s.GenerateReply(follower, "你好"); err == nil {
		t.Error("Expected error when LLM_BASE_URL is unset")
	}
}
