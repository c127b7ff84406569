package auth

import (
	"errors"
	"time"

	"task-miner/app/config"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 令牌无效
var ErrInvalidToken = errors.New("invalid token")

// Claims JWT声明结构
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService JWT服务
type JWTService struct {
	secret []byte
	issuer string
	expire time.Duration
}

// NewJWTService 创建JWT服务
func NewJWTService(cfg config.JWTConfig) *JWTService {
	expire := time.Duration(cfg.ExpireTime) * time.Hour
	if expire <= 0 {
		expire = 24 * time.Hour
	}
	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		expire: expire,
	}
}

// GenerateToken 生成JWT令牌，返回令牌与过期时间
func (j *JWTService) GenerateToken(username string) (string, time.Time, error) {
	now := time.Now()
	expireAt := now.Add(j.expire)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expireAt, nil
}

// ValidateToken 验证JWT令牌
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, jwt.WithIssuer(j.issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// RefreshToken 刷新JWT令牌，距离过期超过1小时时拒绝
func (j *JWTService) RefreshToken(tokenString string) (string, time.Time, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return "", time.Time{}, err
	}

	if time.Until(claims.ExpiresAt.Time) > time.Hour {
		return "", time.Time{}, errors.New("token still valid, no need to refresh")
	}
	return j.GenerateToken(claims.Username)
}
