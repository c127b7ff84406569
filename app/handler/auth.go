package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"task-miner/app/auth"
	"task-miner/app/config"
	"task-miner/app/utils"

	"github.com/gin-gonic/gin"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	username     string
	passwordHash string
	jwtService   *auth.JWTService
}

// NewAuthHandler 创建认证处理器，账号来自配置文件
func NewAuthHandler(cfg config.ServerConfig, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
		jwtService:   jwtService,
	}
}

// LoginRequest 登录请求结构
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应结构
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	ExpireAt int64  `json:"expire_at"`
}

// Login 管理员登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) == 1
	passOK := utils.VerifyPassword(req.Password, h.passwordHash)
	if !userOK || !passOK {
		fail(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	token, expireAt, err := h.jwtService.GenerateToken(h.username)
	if err != nil {
		fail(c, http.StatusInternalServerError, "生成令牌失败")
		return
	}

	success(c, LoginResponse{
		Token:    token,
		Username: h.username,
		ExpireAt: expireAt.Unix(),
	}, "登录成功")
}

// RefreshToken 刷新令牌
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		fail(c, http.StatusUnauthorized, "Authorization header is required")
		return
	}

	newToken, expireAt, err := h.jwtService.RefreshToken(token)
	if err != nil {
		fail(c, http.StatusUnauthorized, "刷新令牌失败: "+err.Error())
		return
	}

	success(c, gin.H{
		"token":     newToken,
		"expire_at": expireAt.Unix(),
	}, "刷新成功")
}
